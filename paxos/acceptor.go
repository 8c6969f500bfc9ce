package paxos

import (
	"sync"

	"paxoscouncil/message"
	"paxoscouncil/profile"
)

// Logger is the minimal structured-logging surface the core needs. It is
// satisfied by logging.Logger; defined here so paxos does not depend on
// the logging package's concrete implementation.
type Logger interface {
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{}) {}

// Acceptor is the per-peer Paxos state machine. All reads and writes to
// its state go through mu, so concurrent PREPARE/ACCEPT arriving on
// different sessions are serialized into the atomic transitions §4.3
// describes.
type Acceptor struct {
	self    message.PeerID
	profile profile.Profile
	log     Logger

	mu    sync.Mutex
	state AcceptorState
}

// NewAcceptor creates the acceptor state for self, using p to simulate
// reply delay and loss. A nil logger installs a no-op logger.
func NewAcceptor(self message.PeerID, p profile.Profile, logger Logger) *Acceptor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Acceptor{
		self:    self,
		profile: p,
		log:     logger,
		state:   freshState(),
	}
}

// NextProposalNumber increments the peer's local sequence and returns the
// next proposal number this peer may use, per the (s<<4)|(p&0xF)
// encoding. The increment is a small critical section on the same mutex
// that guards the rest of the state.
func (a *Acceptor) NextProposalNumber() message.ProposalNumber {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.NextSequence++
	return message.NewProposalNumber(a.state.NextSequence, a.self)
}

// Snapshot returns a race-free copy of the current state.
func (a *Acceptor) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		NextSequence:   a.state.NextSequence,
		Promised:       a.state.Promised,
		AcceptedNumber: a.state.AcceptedNumber,
	}
	if a.state.AcceptedValue != nil {
		s.AcceptedValue = *a.state.AcceptedValue
		s.HasAccepted = true
	}
	return s
}

// Handle dispatches an inbound PREPARE or ACCEPT to the matching rule in
// §4.3 and returns the reply along with whether it should actually be
// sent. A false ok means the profile dropped this response; the state
// transition it was based on has already been committed and is not
// rolled back — only the network effect is suppressed.
//
// Handle is a no-op (ok=false) for any other message kind; those are
// replies routed to an outstanding proposer by the node's dispatch loop,
// not inputs to this state machine.
func (a *Acceptor) Handle(m message.Message) (reply message.Message, ok bool) {
	switch m.Kind {
	case message.Prepare:
		reply = a.handlePrepare(m)
	case message.Accept:
		reply = a.handleAccept(m)
	default:
		return message.Message{}, false
	}

	a.profile.Delay()
	if a.profile.ShouldDrop() {
		a.log.Warnf("acceptor %d dropping reply to proposal %d per profile %s", a.self, m.ProposalNumber, a.profile.Name())
		return message.Message{}, false
	}
	return reply, true
}

func (a *Acceptor) handlePrepare(m message.Message) message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m.ProposalNumber > a.state.Promised {
		a.state.Promised = m.ProposalNumber
		acceptedValue := ""
		if a.state.AcceptedValue != nil {
			acceptedValue = *a.state.AcceptedValue
		}
		return message.NewPromise(m.ProposalNumber, a.state.AcceptedNumber, acceptedValue, a.self)
	}
	return message.NewReject(a.state.Promised, a.self)
}

func (a *Acceptor) handleAccept(m message.Message) message.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m.ProposalNumber >= a.state.Promised {
		a.state.Promised = m.ProposalNumber
		a.state.AcceptedNumber = m.ProposalNumber
		value := ""
		if m.Value != nil {
			value = *m.Value
		}
		a.state.AcceptedValue = &value
		return message.NewAccepted(m.ProposalNumber, value, a.self)
	}
	return message.NewReject(a.state.Promised, a.self)
}
