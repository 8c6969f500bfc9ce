// Package transport implements one framed, ordered, full-duplex channel
// per remote peer, built directly on net.Conn the way the teacher's tcp
// and heartbeat packages frame their own request/response traffic.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"paxoscouncil/message"
)

// TransportError reports any socket-level failure: EOF, a framing error
// from the codec, or a connection reset. It is non-fatal at the proposal
// level and fatal only for the affected session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// Session is one bidirectional framed transport to a specific remote
// peer. Concurrent Send calls are serialized by the session; Receive is
// intended to be called by a single dispatch goroutine per session (see
// the doc comment on node's dispatchLoop for why).
type Session struct {
	// ID has no protocol meaning; it only disambiguates this session's
	// log lines from others to the same remote across reconnects.
	ID uuid.UUID

	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an established connection in a Session.
func New(conn net.Conn) *Session {
	return &Session{
		ID:     uuid.New(),
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Send serializes and transmits msg atomically with respect to other
// concurrent senders on this session. Either the whole frame is written
// or a *TransportError is returned.
func (s *Session) Send(msg message.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return transportErr("send", errors.New("session closed"))
	default:
	}

	if err := message.WriteTo(s.conn, msg); err != nil {
		return transportErr("send", err)
	}
	return nil
}

// Receive blocks until a full frame arrives on this session. It returns
// the decoded message, or a *TransportError on EOF, framing failure, or
// connection loss. Close unblocks a pending Receive with a
// *TransportError.
func (s *Session) Receive() (message.Message, error) {
	msg, err := message.ReadFrom(s.conn)
	if err != nil {
		return message.Message{}, transportErr("receive", err)
	}
	return msg, nil
}

// Close is idempotent. It unblocks any pending Receive with a
// *TransportError by closing the underlying connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// RemoteAddr reports the remote endpoint's network address, for logging.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
