package client

import (
	"context"
	"strings"

	"cofund/internal/proto"
)

// dispatchLoop is the single consumer of the transport. It correlates
// direct responses to pending calls by id and routes pushes to the
// synchronizer and voter. When the transport closes, the loop exits and the
// whole session instance tears down.
func (c *Client) dispatchLoop() {
	for env := range c.conn.Recv() {
		c.handleEnvelope(env)
	}
	c.teardown()
}

func (c *Client) handleEnvelope(env *proto.Envelope) {
	if env.ID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- env
			return
		}
	}
	msg, err := proto.DecodeMessage(env)
	if err != nil {
		c.log.Warn().Err(err).Str("method", env.Method).Msg("dropping unroutable message")
		c.emitError(err)
		return
	}
	switch m := msg.(type) {
	case *proto.AuthChallenge:
		select {
		case c.challengeCh <- m.Challenge:
		default:
			c.log.Debug().Msg("dropping challenge with no auth attempt waiting")
		}
	case *proto.StateUpdated:
		if !c.isCurrentSession(m.AppSessionID) {
			return
		}
		c.sync.ApplyServerUpdate(m.Version, m.State)
	case *proto.AppMessage:
		if !c.isCurrentSession(m.AppSessionID) {
			return
		}
		c.sync.ApplyPeerBroadcast(m.MessageID, m.Sender, m.Payload)
	case *proto.ProtocolError:
		c.noteProtocolError(m)
		c.emitError(m)
	default:
		c.log.Debug().Str("method", env.Method).Msg("ignoring unexpected push")
	}
}

func (c *Client) isCurrentSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Status == StatusActive && c.session.AppSessionID == id
}

// noteProtocolError resets auth state when the coordinator complains about
// authentication, and re-attempts the handshake once per session instance.
func (c *Client) noteProtocolError(pe *proto.ProtocolError) {
	if !isAuthError(pe.Err) {
		return
	}
	c.mu.Lock()
	c.authState = Unauthenticated
	retry := !c.reauthDone
	c.reauthDone = true
	c.mu.Unlock()
	if !retry {
		return
	}
	c.metrics.IncAuthRetries()
	c.log.Warn().Str("error", pe.Err).Msg("auth reset by coordinator, re-authenticating once")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		if err := c.Authenticate(ctx); err != nil {
			c.emitError(err)
		}
	}()
}

func isAuthError(text string) bool {
	return strings.Contains(strings.ToLower(text), "auth")
}

// teardown is idempotent: it cancels pending calls, discovery, and the
// debounce timers, and parks the session in a terminal state.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.authState = Unauthenticated
		c.authInFlight = false
		c.session.Status = StatusClosed
		c.pending = make(map[uint64]chan *proto.Envelope)
		c.mu.Unlock()
		c.sync.Stop()
		c.log.Info().Msg("session instance closed")
	})
}
