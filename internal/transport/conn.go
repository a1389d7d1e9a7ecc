// Package transport owns the duplex channel to the session coordinator:
// connection state, framing, and delivery ordering. Everything above it
// speaks proto.Envelope.
package transport

import (
	"context"
	"errors"

	"cofund/internal/proto"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

// Conn is one duplex message channel. Messages sent on a single Conn arrive
// in send order. Closing the Conn closes the Recv channel; nothing is
// delivered after that, and the owner is expected to drop all pending timers
// and polls for the session. There is no auto-reconnect: a failed Conn stays
// Disconnected until the caller dials again.
type Conn interface {
	Send(ctx context.Context, env *proto.Envelope) error
	Recv() <-chan *proto.Envelope
	State() State
	Close() error
}
