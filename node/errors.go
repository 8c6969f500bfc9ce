package node

import "fmt"

// ProtocolViolation reports that the first frame on a freshly dialed or
// accepted connection was not a HANDSHAKE. The session is closed and
// discarded; this is not fatal to the node.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("node: protocol violation: %s", e.Reason)
}
