package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"paxoscouncil/paxos"
)

// TestShutdownLeavesNoGoroutines mirrors go-mcast's fuzzy test pattern of
// calling goleak.VerifyNone after a cluster shutdown: every acceptLoop,
// dialLoop, and dispatchLoop goroutine spawned by Start must have exited
// by the time Shutdown returns.
func TestShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t,
		// background loggers and test harness goroutines outside our
		// control are excluded the same way go-mcast's suite ignores
		// transport keepalive goroutines it doesn't own.
		goleak.IgnoreTopFunction("time.Sleep"),
	)

	nodes, stop := startCouncil(t, 3)

	outcome, err := nodes[0].Propose("leak-check")
	require.NoError(t, err)
	require.Equal(t, paxos.Chosen, outcome)

	stop()

	// Give any straggling goroutines a moment to unwind before the
	// leak check runs.
	time.Sleep(50 * time.Millisecond)
}
