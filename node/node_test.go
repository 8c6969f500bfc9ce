package node

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paxoscouncil/message"
	"paxoscouncil/paxos"
)

// reliableProfile never delays and never drops, matching scenario 1 in
// the property suite ("IMMEDIATE profile, reliability 1.0").
type reliableProfile struct{}

func (reliableProfile) Delay()                {}
func (reliableProfile) ShouldDrop() bool       { return false }
func (reliableProfile) Timeout() time.Duration { return 2 * time.Second }
func (reliableProfile) Name() string           { return "TEST-RELIABLE" }

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return port
}

func testBook(t *testing.T, n int) Addressbook {
	book := make(Addressbook, n)
	for i := 1; i <= n; i++ {
		book[message.PeerID(i)] = Endpoint{Host: "127.0.0.1", Port: freePort(t)}
	}
	return book
}

func waitForFullMesh(t *testing.T, nodes []*PeerNode) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		full := true
		for _, n := range nodes {
			if len(n.LivePeers()) != len(nodes)-1 {
				full = false
				break
			}
		}
		if full {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("mesh did not fully connect within deadline")
}

func startCouncil(t *testing.T, size int) ([]*PeerNode, func()) {
	t.Helper()
	book := testBook(t, size)
	nodes := make([]*PeerNode, size)
	for i := 1; i <= size; i++ {
		n := New(message.PeerID(i), book, reliableProfile{}, nil)
		require.NoError(t, n.Start())
		nodes[i-1] = n
	}
	waitForFullMesh(t, nodes)
	return nodes, func() {
		for _, n := range nodes {
			n.Shutdown()
		}
	}
}

func TestCleanThreeNodeAgreement(t *testing.T) {
	nodes, stop := startCouncil(t, 3)
	defer stop()

	outcome, err := nodes[0].Propose("A")
	require.NoError(t, err)
	require.Equal(t, paxos.Chosen, outcome)

	for _, n := range nodes {
		snap := n.Status().Acceptor
		require.True(t, snap.HasAccepted)
		require.Equal(t, "A", snap.AcceptedValue)
	}
}

func TestMinorityPartitionLosesQuorum(t *testing.T) {
	nodes, stop := startCouncil(t, 5)
	defer stop()

	// Partition: take down three of the five members, leaving nodes[0]
	// and nodes[1] as a minority (2 of 5, short of the quorum of 3).
	nodes[2].Shutdown()
	nodes[3].Shutdown()
	nodes[4].Shutdown()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(nodes[0].LivePeers()) > 1 {
		time.Sleep(20 * time.Millisecond)
	}

	outcome, err := nodes[0].Propose("X")
	require.NoError(t, err)
	require.Equal(t, paxos.LostQuorum, outcome)
}

func TestShutdownIsIdempotentAndUnblocksReceive(t *testing.T) {
	nodes, stop := startCouncil(t, 3)
	defer stop()

	nodes[0].Shutdown()
	nodes[0].Shutdown() // must not panic or block
}
