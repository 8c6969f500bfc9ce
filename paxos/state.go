package paxos

import "paxoscouncil/message"

// AcceptorState is the mutex-protected Paxos state of a single peer. It is
// created at node start and destroyed at shutdown; nothing outside this
// package mutates it directly.
//
// Invariants maintained by Acceptor (never violated across any sequence
// of Handle calls):
//   - Promised >= AcceptedNumber.
//   - AcceptedNumber >= 0 implies AcceptedValue != nil.
//   - NextSequence only increases.
type AcceptorState struct {
	// NextSequence is this peer's local proposer sequence counter. It
	// starts at 0; the first proposal made by this peer uses sequence 1.
	NextSequence int

	// Promised is the highest proposal number this peer has promised.
	// NoProposal if it has never promised anything.
	Promised message.ProposalNumber

	// AcceptedNumber is the highest proposal number this peer has
	// accepted. NoProposal if it has never accepted anything.
	AcceptedNumber message.ProposalNumber

	// AcceptedValue is the value bound to AcceptedNumber, nil iff
	// AcceptedNumber == NoProposal.
	AcceptedValue *string
}

func freshState() AcceptorState {
	return AcceptorState{
		Promised:       message.NoProposal,
		AcceptedNumber: message.NoProposal,
	}
}

// Snapshot is a point-in-time, race-free copy of AcceptorState for
// observability (status output, tests).
type Snapshot struct {
	NextSequence   int
	Promised       message.ProposalNumber
	AcceptedNumber message.ProposalNumber
	AcceptedValue  string
	HasAccepted    bool
}
