package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paxoscouncil/message"
)

func TestForPeerAssignment(t *testing.T) {
	require.Equal(t, Immediate, ForPeer(message.PeerID(1)))
	require.Equal(t, Intermittent, ForPeer(message.PeerID(2)))
	require.Equal(t, Unreliable, ForPeer(message.PeerID(3)))
	require.Equal(t, Normal, ForPeer(message.PeerID(4)))
	require.Equal(t, Normal, ForPeer(message.PeerID(9)))
}

func TestByName(t *testing.T) {
	p, ok := ByName("UNRELIABLE")
	require.True(t, ok)
	require.Equal(t, Unreliable, p)

	_, ok = ByName("NOPE")
	require.False(t, ok)
}

func TestTimeoutIsMaxDelayPlusOneSecond(t *testing.T) {
	require.Equal(t, 10*time.Millisecond+time.Second, Immediate.Timeout())
	require.Equal(t, 5000*time.Millisecond+time.Second, Intermittent.Timeout())
}

func TestDelayNeverExceedsMax(t *testing.T) {
	start := time.Now()
	Immediate.Delay()
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestShouldDropIsProbabilistic(t *testing.T) {
	drops := 0
	const n = 2000
	for i := 0; i < n; i++ {
		if Unreliable.ShouldDrop() {
			drops++
		}
	}
	// reliability 0.80 -> ~20% drop rate; allow generous slack for a
	// probabilistic test.
	require.InDelta(t, 0.20*n, drops, 0.10*n)
}
