// Package profile implements the response profiles that model realistic
// network conditions: per-peer latency and message loss. The core (paxos,
// node) depends only on the Profile interface; these are the concrete
// collaborators the reference CLI wires in.
package profile

import (
	"math/rand"
	"sync"
	"time"

	"paxoscouncil/message"
)

// Profile is the abstract collaborator the acceptor and proposer consult
// before sending or replying to a message. It is the only point where
// simulated network conditions enter the core.
type Profile interface {
	// Delay blocks the caller for a simulated amount of time, uniform on
	// [0, MaxDelay).
	Delay()

	// ShouldDrop reports, probabilistically, whether the in-flight
	// message should be silently dropped.
	ShouldDrop() bool

	// Timeout is the per-message deadline a proposer task waits for a
	// reply: MaxDelay + 1000ms.
	Timeout() time.Duration

	// Name identifies the profile for logging.
	Name() string
}

// named is the concrete (max delay, reliability) pair every profile in
// the §6 table shares. math/rand.Rand is not safe for concurrent use, so
// access is guarded by a mutex — every live session can invoke Delay and
// ShouldDrop from its own goroutine.
type named struct {
	name        string
	maxDelay    time.Duration
	reliability float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newNamed(name string, maxDelay time.Duration, reliability float64) *named {
	return &named{
		name:        name,
		maxDelay:    maxDelay,
		reliability: reliability,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() + int64(len(name)))),
	}
}

func (p *named) Delay() {
	if p.maxDelay <= 0 {
		return
	}
	p.mu.Lock()
	d := time.Duration(p.rng.Int63n(int64(p.maxDelay)))
	p.mu.Unlock()
	time.Sleep(d)
}

func (p *named) ShouldDrop() bool {
	p.mu.Lock()
	roll := p.rng.Float64()
	p.mu.Unlock()
	return roll >= p.reliability
}

func (p *named) Timeout() time.Duration {
	return p.maxDelay + 1000*time.Millisecond
}

func (p *named) Name() string { return p.name }

// The four named profiles from §6. max_delay is in milliseconds.
var (
	Immediate    Profile = newNamed("IMMEDIATE", 10*time.Millisecond, 0.99)
	Intermittent Profile = newNamed("INTERMITTENT", 5000*time.Millisecond, 0.70)
	Unreliable   Profile = newNamed("UNRELIABLE", 1000*time.Millisecond, 0.80)
	Normal       Profile = newNamed("NORMAL", 500*time.Millisecond, 0.95)
)

// ForPeer assigns a profile by id, per the reference table in §6:
// 1→IMMEDIATE, 2→INTERMITTENT, 3→UNRELIABLE, else NORMAL.
func ForPeer(id message.PeerID) Profile {
	switch id {
	case 1:
		return Immediate
	case 2:
		return Intermittent
	case 3:
		return Unreliable
	default:
		return Normal
	}
}

// ByName looks up a profile by its §6 table name. The bool result is
// false for an unrecognized name.
func ByName(name string) (Profile, bool) {
	switch name {
	case "IMMEDIATE":
		return Immediate, true
	case "INTERMITTENT":
		return Intermittent, true
	case "UNRELIABLE":
		return Unreliable, true
	case "NORMAL":
		return Normal, true
	default:
		return nil, false
	}
}
