package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"cofund/internal/proto"
)

// PipeConn is an in-memory Conn used by tests and the in-process fake
// coordinator. Both ends preserve send order, like the real channel.
type PipeConn struct {
	peer  *PipeConn
	recv  chan *proto.Envelope
	state atomic.Int32

	mu     sync.Mutex
	closed bool
}

// Pipe returns the two ends of a connected in-memory channel.
func Pipe() (*PipeConn, *PipeConn) {
	a := &PipeConn{recv: make(chan *proto.Envelope, 64)}
	b := &PipeConn{recv: make(chan *proto.Envelope, 64)}
	a.peer, b.peer = b, a
	a.state.Store(int32(Connected))
	b.state.Store(int32(Connected))
	return a, b
}

func (p *PipeConn) Send(ctx context.Context, env *proto.Envelope) error {
	if p.State() != Connected {
		return ErrNotConnected
	}
	// Round-trip through the codec so tests exercise real wire shapes.
	data, err := proto.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	decoded, err := proto.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	p.peer.mu.Lock()
	defer p.peer.mu.Unlock()
	if p.peer.closed {
		return ErrClosed
	}
	select {
	case p.peer.recv <- decoded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeConn) Recv() <-chan *proto.Envelope {
	return p.recv
}

func (p *PipeConn) State() State {
	return State(p.state.Load())
}

// Close closes both ends; each Recv channel closes exactly once.
func (p *PipeConn) Close() error {
	p.closeEnd()
	p.peer.closeEnd()
	return nil
}

func (p *PipeConn) closeEnd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.state.Store(int32(Disconnected))
	close(p.recv)
}
