package paxos

import (
	"context"
	"errors"
	"sync"

	"paxoscouncil/message"
	"paxoscouncil/profile"
)

// ProposalOutcome is the result of a single propose attempt.
type ProposalOutcome int

const (
	// Chosen means a strict majority accepted this attempt's proposal
	// number; the value carried by the Phase 2 ACCEPT (not necessarily the
	// caller's v) was chosen.
	Chosen ProposalOutcome = iota
	// LostQuorum means fewer than a majority replied in time in either
	// phase. The caller may retry with a fresh proposal number; this
	// package does not retry automatically (§4.4 "Retry policy").
	LostQuorum
	// Aborted means the node is shutting down.
	Aborted
)

func (o ProposalOutcome) String() string {
	switch o {
	case Chosen:
		return "Chosen"
	case LostQuorum:
		return "LostQuorum"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// ErrAborted is returned by Propose iff the node was shutting down.
var ErrAborted = errors.New("paxos: aborted, node is shutting down")

// PeerLink is everything the proposer needs from the peer node: the set
// of currently reachable remotes, a way to send to one, and a way to wait
// for a reply to a specific outstanding proposal. The node satisfies this
// by routing inbound PROMISE/ACCEPTED/REJECT frames from its single
// dispatch loop into a per-proposal reply queue (see §9, "receive-channel
// collision") — the proposer itself never reads a transport directly.
type PeerLink interface {
	// LivePeers returns the ids of every peer with a currently live
	// session, excluding self. Tolerates sessions disappearing mid-scan:
	// a peer dropped out between LivePeers and SendAndAwait simply
	// contributes no reply.
	LivePeers() []message.PeerID

	// SendAndAwait transmits msg to the peer with the given id and blocks
	// for its reply, or until ctx is done. The implementation must
	// register interest in the reply before the message is written, so a
	// fast remote can never reply before the wait is listening for it. A
	// *transport.TransportError or a context deadline here is non-fatal
	// to the proposal; it just means this peer contributes no reply.
	SendAndAwait(ctx context.Context, id message.PeerID, msg message.Message) (message.Message, error)
}

// Proposer drives a single proposal through Phase 1 (prepare/promise) and
// Phase 2 (accept/accepted), collecting a strict majority with
// per-message timeouts.
type Proposer struct {
	self       message.PeerID
	totalPeers int
	acceptor   *Acceptor
	link       PeerLink
	profile    profile.Profile
	log        Logger
}

// NewProposer builds a Proposer for self. totalPeers is N from §3,
// including self, and is used to compute the quorum size.
func NewProposer(self message.PeerID, totalPeers int, acceptor *Acceptor, link PeerLink, p profile.Profile, logger Logger) *Proposer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Proposer{
		self:       self,
		totalPeers: totalPeers,
		acceptor:   acceptor,
		link:       link,
		profile:    p,
		log:        logger,
	}
}

func quorumSize(totalPeers int) int {
	return totalPeers/2 + 1
}

// Propose performs a single attempt to reach consensus on value. A single
// invocation performs one attempt; a LostQuorum result is not retried
// automatically (higher-level retry-with-a-fresh-number policy is an
// external collaborator's decision, per §4.4).
func (p *Proposer) Propose(ctx context.Context, value string) (ProposalOutcome, error) {
	if ctx.Err() != nil {
		return Aborted, ErrAborted
	}

	n := p.acceptor.NextProposalNumber()
	q := quorumSize(p.totalPeers)

	promises := p.fanOut(ctx, message.NewPrepare(n, p.self), func(m message.Message) bool {
		return m.Kind == message.Promise
	})
	if ctx.Err() != nil {
		return Aborted, ErrAborted
	}
	if len(promises) < q {
		p.log.Warnf("proposal %d lost quorum in phase 1 (%d/%d promises)", n, len(promises), q)
		return LostQuorum, nil
	}

	chosenValue := value
	highest := message.NoProposal
	for _, promise := range promises {
		if promise.AcceptedProposalNumber == message.NoProposal {
			continue
		}
		if promise.AcceptedProposalNumber > highest {
			highest = promise.AcceptedProposalNumber
			if promise.Value != nil {
				chosenValue = *promise.Value
			}
		}
	}

	acceptances := p.fanOut(ctx, message.NewAccept(n, chosenValue, p.self), func(m message.Message) bool {
		return m.Kind == message.Accepted && m.ProposalNumber == n
	})
	if ctx.Err() != nil {
		return Aborted, ErrAborted
	}
	if len(acceptances) < q {
		p.log.Warnf("proposal %d lost quorum in phase 2 (%d/%d acceptances)", n, len(acceptances), q)
		return LostQuorum, nil
	}

	p.log.Infof("consensus reached on %q (proposal %d)", chosenValue, n)
	return Chosen, nil
}

// fanOut dispatches msg to self (in-process, per §9's self-loop design
// note) and to every currently live peer in parallel, admitting a reply
// into the result set iff admit(reply) holds. Each per-peer task applies
// the profile's delay and drop before sending, and waits at most
// profile.Timeout() for a reply; a drop, a send failure, a non-admitted
// reply, or a timeout all simply contribute nothing.
func (p *Proposer) fanOut(ctx context.Context, msg message.Message, admit func(message.Message) bool) []message.Message {
	var (
		mu      sync.Mutex
		results []message.Message
	)

	if reply, ok := p.acceptor.Handle(msg); ok && admit(reply) {
		results = append(results, reply)
	}

	peers := p.link.LivePeers()
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, id := range peers {
		go func(id message.PeerID) {
			defer wg.Done()

			p.profile.Delay()
			if p.profile.ShouldDrop() {
				return
			}

			taskCtx, cancel := context.WithTimeout(ctx, p.profile.Timeout())
			defer cancel()

			reply, err := p.link.SendAndAwait(taskCtx, id, msg)
			if err != nil {
				p.log.Warnf("no reply from peer %d for proposal %d: %v", id, msg.ProposalNumber, err)
				return
			}
			if !admit(reply) {
				return
			}

			mu.Lock()
			results = append(results, reply)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}
