package paxos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paxoscouncil/message"
)

// deterministicTestProfile never delays and never drops. Unit tests here
// assert on the outcome of a single Handle call with no retry, so a real
// profile's probabilistic loss (even IMMEDIATE's 1% drop chance) would make
// them flaky by construction; see the identical deterministicProfile in
// proposer_test.go.
type deterministicTestProfile struct{}

func (deterministicTestProfile) Delay() {}
func (deterministicTestProfile) ShouldDrop() bool { return false }
func (deterministicTestProfile) Timeout() time.Duration { return time.Second }
func (deterministicTestProfile) Name() string { return "DETERMINISTIC" }

func reliableAcceptor(self message.PeerID) *Acceptor {
	return NewAcceptor(self, deterministicTestProfile{}, nil)
}

func TestPrepareHigherIsPromised(t *testing.T) {
	a := reliableAcceptor(1)
	n := message.NewProposalNumber(1, 2)

	reply, ok := a.Handle(message.NewPrepare(n, 2))
	require.True(t, ok)
	require.Equal(t, message.Promise, reply.Kind)
	require.Equal(t, n, reply.ProposalNumber)
	require.Equal(t, message.NoProposal, reply.AcceptedProposalNumber)
}

func TestPrepareEqualToPromisedIsRejected(t *testing.T) {
	a := reliableAcceptor(1)
	n := message.NewProposalNumber(1, 2)

	_, ok := a.Handle(message.NewPrepare(n, 2))
	require.True(t, ok)

	reply, ok := a.Handle(message.NewPrepare(n, 2))
	require.True(t, ok)
	require.Equal(t, message.Reject, reply.Kind)
	require.Equal(t, n, reply.ProposalNumber)
}

func TestPrepareOneHigherIsPromised(t *testing.T) {
	a := reliableAcceptor(1)
	n := message.NewProposalNumber(1, 2)
	_, _ = a.Handle(message.NewPrepare(n, 2))

	n2 := message.NewProposalNumber(2, 2)
	reply, ok := a.Handle(message.NewPrepare(n2, 2))
	require.True(t, ok)
	require.Equal(t, message.Promise, reply.Kind)
}

func TestAcceptEqualToPromisedIsAccepted(t *testing.T) {
	a := reliableAcceptor(1)
	n := message.NewProposalNumber(1, 2)
	_, _ = a.Handle(message.NewPrepare(n, 2))

	reply, ok := a.Handle(message.NewAccept(n, "X", 2))
	require.True(t, ok)
	require.Equal(t, message.Accepted, reply.Kind)
	require.Equal(t, "X", *reply.Value)

	snap := a.Snapshot()
	require.Equal(t, n, snap.AcceptedNumber)
	require.True(t, snap.HasAccepted)
	require.Equal(t, "X", snap.AcceptedValue)
}

func TestAcceptBelowPromisedIsRejected(t *testing.T) {
	a := reliableAcceptor(1)
	high := message.NewProposalNumber(5, 2)
	_, _ = a.Handle(message.NewPrepare(high, 2))

	low := message.NewProposalNumber(1, 2)
	reply, ok := a.Handle(message.NewAccept(low, "X", 2))
	require.True(t, ok)
	require.Equal(t, message.Reject, reply.Kind)
	require.Equal(t, high, reply.ProposalNumber)
}

func TestPromiseCarriesPriorAcceptedValue(t *testing.T) {
	a := reliableAcceptor(2)
	n1 := message.NewProposalNumber(2, 1) // 0x21
	_, _ = a.Handle(message.NewPrepare(n1, 1))
	_, _ = a.Handle(message.NewAccept(n1, "old", 1))

	n2 := message.NewProposalNumber(3, 1) // 0x31
	reply, ok := a.Handle(message.NewPrepare(n2, 1))
	require.True(t, ok)
	require.Equal(t, message.Promise, reply.Kind)
	require.Equal(t, n1, reply.AcceptedProposalNumber)
	require.NotNil(t, reply.Value)
	require.Equal(t, "old", *reply.Value)
}

func TestPromisedNeverDecreases(t *testing.T) {
	a := reliableAcceptor(1)
	var last message.ProposalNumber = message.NoProposal

	attempts := []message.ProposalNumber{
		message.NewProposalNumber(1, 3),
		message.NewProposalNumber(1, 1),
		message.NewProposalNumber(2, 1),
		message.NewProposalNumber(2, 2),
	}
	for _, n := range attempts {
		_, _ = a.Handle(message.NewPrepare(n, 1))
		snap := a.Snapshot()
		require.GreaterOrEqual(t, snap.Promised, last)
		last = snap.Promised
	}
}

func TestAcceptedBindingInvariant(t *testing.T) {
	a := reliableAcceptor(1)
	snap := a.Snapshot()
	require.Equal(t, message.NoProposal, snap.AcceptedNumber)
	require.False(t, snap.HasAccepted)

	n := message.NewProposalNumber(1, 1)
	_, _ = a.Handle(message.NewPrepare(n, 1))
	_, _ = a.Handle(message.NewAccept(n, "V", 1))

	snap = a.Snapshot()
	require.True(t, snap.HasAccepted)
	require.NotEqual(t, message.NoProposal, snap.AcceptedNumber)
}

func TestNextProposalNumberIsUniquePerSequence(t *testing.T) {
	a := reliableAcceptor(3)
	n1 := a.NextProposalNumber()
	n2 := a.NextProposalNumber()
	require.NotEqual(t, n1, n2)
	require.Equal(t, message.NewProposalNumber(1, 3), n1)
	require.Equal(t, message.NewProposalNumber(2, 3), n2)
}
