package transport

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	quic "github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"cofund/internal/proto"
)

const alpnProto = "cofund-quic"

// QUICConn is the production Conn: one QUIC connection to the coordinator,
// one long-lived bidirectional stream, length-prefixed JSON frames.
type QUICConn struct {
	log    zerolog.Logger
	conn   *quic.Conn
	stream *quic.Stream

	state  atomic.Int32
	sendMu sync.Mutex

	recv     chan *proto.Envelope
	teardown sync.Once
}

// Dial connects and opens the protocol stream. insecure skips certificate
// verification for local coordinators with dev TLS certs.
func Dial(ctx context.Context, addr string, insecure bool, log zerolog.Logger) (*QUICConn, error) {
	c := &QUICConn{
		log:  log.With().Str("component", "transport").Logger(),
		recv: make(chan *proto.Envelope, 16),
	}
	c.state.Store(int32(Connecting))
	tlsConf := &tls.Config{
		NextProtos:         []string{alpnProto},
		InsecureSkipVerify: insecure,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		c.state.Store(int32(Disconnected))
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		c.state.Store(int32(Disconnected))
		return nil, err
	}
	c.conn = conn
	c.stream = stream
	c.state.Store(int32(Connected))
	c.log.Debug().Str("addr", addr).Msg("connected")
	go c.readLoop()
	return c, nil
}

func (c *QUICConn) readLoop() {
	for {
		data, err := ReadFrame(c.stream)
		if err != nil {
			c.log.Debug().Err(err).Msg("read loop ended")
			c.shutdown()
			close(c.recv)
			return
		}
		env, err := proto.DecodeEnvelope(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		c.recv <- env
	}
}

func (c *QUICConn) Send(ctx context.Context, env *proto.Envelope) error {
	if c.State() != Connected {
		return ErrNotConnected
	}
	data, err := proto.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(data)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.stream.Write(frame); err != nil {
		c.shutdown()
		return err
	}
	return nil
}

func (c *QUICConn) Recv() <-chan *proto.Envelope {
	return c.recv
}

func (c *QUICConn) State() State {
	return State(c.state.Load())
}

// Close tears the channel down; the Recv channel closes and no further
// envelopes are delivered.
func (c *QUICConn) Close() error {
	c.shutdown()
	return c.conn.CloseWithError(0, "client closed")
}

// shutdown flips the state and cancels the stream read; the read loop is the
// sole closer of the recv channel, so no send can race a close.
func (c *QUICConn) shutdown() {
	c.teardown.Do(func() {
		c.state.Store(int32(Disconnected))
		c.stream.CancelRead(0)
	})
}
