// Package logging wraps logrus behind the small interface the core
// consumes (paxos.Logger), so process-wide loggers stay an injected
// collaborator rather than global mutable state (§9).
package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger is satisfied by *logrus.Entry, and any Logger also satisfies the
// narrower paxos.Logger; it is the structured logging surface the whole
// module depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// entryLogger adapts a *logrus.Entry to Logger.
type entryLogger struct {
	entry *logrus.Entry
}

func (l entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// New builds a Logger that tags every line with a "peer" field, matching
// the per-node log prefix the teacher's tcp/heartbeat servers print by
// hand (e.g. "TCP Server listening on ...").
func New(peerID int) Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return entryLogger{entry: logger.WithField("peer", peerID)}
}

// Noop discards everything; used in tests that don't want log noise.
func Noop() Logger { return noop{} }

type noop struct{}

func (noop) Infof(string, ...interface{})  {}
func (noop) Warnf(string, ...interface{})  {}
func (noop) Errorf(string, ...interface{}) {}
