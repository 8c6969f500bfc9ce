// Package message defines the wire record exchanged between council peers
// and its round-trip encoding. The codec is stateless: encode and decode
// are pure functions of their input.
package message

import (
	"fmt"
)

// PeerID identifies a single council member. Valid ids are in [1, N].
type PeerID int

// ProposalNumber is a globally unique, totally ordered proposal identifier
// built from a per-proposer sequence and the proposer's PeerID, so ties
// between equal sequences are broken by id.
type ProposalNumber int64

// NoProposal is the sentinel meaning "no proposal number" — used as the
// AcceptedProposalNumber on a PROMISE from an acceptor that has never
// accepted anything, and as the initial value of promised/accepted fields
// in a fresh AcceptorState.
const NoProposal ProposalNumber = -1

// NewProposalNumber builds a ProposalNumber from a per-proposer sequence
// and the proposer's id, per the (s<<4)|(p&0xF) encoding.
func NewProposalNumber(sequence int, proposer PeerID) ProposalNumber {
	return ProposalNumber((int64(sequence) << 4) | (int64(proposer) & 0xF))
}

// MessageKind tags the variant of a Message.
type MessageKind uint8

const (
	Handshake MessageKind = iota + 1
	Prepare
	Promise
	Accept
	Accepted
	Reject
)

func (k MessageKind) String() string {
	switch k {
	case Handshake:
		return "HANDSHAKE"
	case Prepare:
		return "PREPARE"
	case Promise:
		return "PROMISE"
	case Accept:
		return "ACCEPT"
	case Accepted:
		return "ACCEPTED"
	case Reject:
		return "REJECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Message is the single record exchanged over a transport session. Not
// every field applies to every kind — see Validate for the per-kind
// contract.
type Message struct {
	Kind MessageKind

	// ProposalNumber is the proposal this message concerns. On REJECT it
	// carries the responder's current promised number, not the rejected
	// proposal's number — this is what lets the proposer learn how high
	// it must go.
	ProposalNumber ProposalNumber

	// Value is present for ACCEPT, optionally present for PROMISE (when
	// the responder has previously accepted something), and absent
	// otherwise.
	Value *string

	SenderID PeerID

	// AcceptedProposalNumber is present on PROMISE only. NoProposal means
	// the responder has never accepted anything.
	AcceptedProposalNumber ProposalNumber

	// hasAccepted distinguishes "PROMISE with AcceptedProposalNumber
	// explicitly set" from a zero-valued struct field, so the codec can
	// round-trip NoProposal without ambiguity.
	hasAccepted bool
}

// NewHandshake builds a HANDSHAKE message identifying sender.
func NewHandshake(sender PeerID) Message {
	return Message{Kind: Handshake, SenderID: sender}
}

// NewPrepare builds a PREPARE(n) message.
func NewPrepare(n ProposalNumber, sender PeerID) Message {
	return Message{Kind: Prepare, ProposalNumber: n, SenderID: sender}
}

// NewPromise builds a PROMISE(n) message. acceptedNumber is NoProposal if
// the responder has never accepted anything, in which case acceptedValue
// must be empty and is ignored.
func NewPromise(n ProposalNumber, acceptedNumber ProposalNumber, acceptedValue string, sender PeerID) Message {
	m := Message{
		Kind:                   Promise,
		ProposalNumber:         n,
		SenderID:               sender,
		AcceptedProposalNumber: acceptedNumber,
		hasAccepted:            true,
	}
	if acceptedNumber != NoProposal {
		v := acceptedValue
		m.Value = &v
	}
	return m
}

// NewReject builds a REJECT message. n is the responder's current
// promised proposal number, per §4.3's design contract.
func NewReject(n ProposalNumber, sender PeerID) Message {
	return Message{Kind: Reject, ProposalNumber: n, SenderID: sender}
}

// NewAccept builds an ACCEPT(n, v) message.
func NewAccept(n ProposalNumber, value string, sender PeerID) Message {
	v := value
	return Message{Kind: Accept, ProposalNumber: n, Value: &v, SenderID: sender}
}

// NewAccepted builds an ACCEPTED(n, v) message.
func NewAccepted(n ProposalNumber, value string, sender PeerID) Message {
	v := value
	return Message{Kind: Accepted, ProposalNumber: n, Value: &v, SenderID: sender}
}

// HasAcceptedProposalNumber reports whether AcceptedProposalNumber applies
// to this message (true only for PROMISE).
func (m Message) HasAcceptedProposalNumber() bool { return m.hasAccepted }

// Validate checks the kind-specific field contract described in §3/§4.1.
// It is run by Decode on every inbound frame.
func (m Message) Validate() error {
	switch m.Kind {
	case Handshake:
		return nil
	case Prepare:
		if m.Value != nil {
			return malformed("PREPARE must not carry a value", nil)
		}
		return nil
	case Promise:
		if !m.hasAccepted {
			return malformed("PROMISE missing accepted_proposal_number", nil)
		}
		hasValue := m.Value != nil
		hasAcceptedNumber := m.AcceptedProposalNumber != NoProposal
		if hasValue != hasAcceptedNumber {
			return malformed("PROMISE value presence must match accepted_proposal_number sentinel", nil)
		}
		return nil
	case Accept:
		if m.Value == nil {
			return malformed("ACCEPT missing value", nil)
		}
		return nil
	case Accepted:
		if m.Value == nil {
			return malformed("ACCEPTED missing value", nil)
		}
		return nil
	case Reject:
		if m.Value != nil {
			return malformed("REJECT must not carry a value", nil)
		}
		return nil
	default:
		return malformed(fmt.Sprintf("unknown message kind %d", uint8(m.Kind)), nil)
	}
}

// MalformedMessage reports a decode failure: truncation, an unknown kind,
// or a field combination that Validate rejects.
type MalformedMessage struct {
	Reason string
	Err    error
}

func (e *MalformedMessage) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessage) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedMessage{Reason: reason, Err: err}
}
