package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"cofund/internal/proto"
	"cofund/internal/transport"
)

// Authenticate runs one challenge round-trip: auth_request with the session
// key address, wait for the coordinator's challenge, sign it with the wallet
// and verify. While an attempt is in flight further calls are no-ops; a
// failed attempt clears the guard so the caller can retry.
func (c *Client) Authenticate(ctx context.Context) error {
	switch err := c.beginAuth(); {
	case err == errAuthInFlight:
		return nil
	case err != nil:
		return err
	}
	return c.finishAuthAttempt(c.runAuth(ctx, ""))
}

// AuthenticateWithChallenge skips the request step when the coordinator has
// already issued a challenge out of band.
func (c *Client) AuthenticateWithChallenge(ctx context.Context, challenge string) error {
	switch err := c.beginAuth(); {
	case err == errAuthInFlight:
		return nil
	case err != nil:
		return err
	}
	return c.finishAuthAttempt(c.verifyChallenge(ctx, challenge))
}

// errAuthInFlight is internal-only: the public contract for a re-entrant
// call is "no-op, nil error".
var errAuthInFlight = errors.New("authentication in flight")

func (c *Client) beginAuth() error {
	if c.conn.State() != transport.Connected {
		return transport.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authState == Authenticated {
		return ErrAlreadyAuthenticated
	}
	if c.authInFlight {
		return errAuthInFlight
	}
	c.authInFlight = true
	c.authState = Authenticating
	return nil
}

func (c *Client) finishAuthAttempt(err error) error {
	c.mu.Lock()
	c.authInFlight = false
	if err != nil {
		c.authState = Unauthenticated
	} else {
		c.authState = Authenticated
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("authentication failed")
		c.emitError(err)
	} else {
		c.log.Info().Msg("authenticated")
	}
	return err
}

func (c *Client) runAuth(ctx context.Context, challenge string) error {
	if challenge == "" {
		var err error
		challenge, err = c.requestChallenge(ctx)
		if err != nil {
			return err
		}
	}
	return c.verifyChallenge(ctx, challenge)
}

// requestChallenge sends auth_request and waits for the challenge, which the
// coordinator may deliver either as the correlated response or as a push.
func (c *Client) requestChallenge(ctx context.Context) (string, error) {
	env, err := c.newEnvelope(proto.MethodAuthRequest, proto.AuthRequestParams{
		Address:    c.skey.Address().Hex(),
		Scope:      authScope,
		Expire:     c.clock.Now().Add(time.Hour).Unix(),
		Allowances: []string{},
	})
	if err != nil {
		return "", err
	}
	ch := make(chan *proto.Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()
	if err := c.conn.Send(ctx, env); err != nil {
		return "", err
	}
	select {
	case resp := <-ch:
		msg, err := proto.DecodeMessage(resp)
		if err != nil {
			return "", err
		}
		switch m := msg.(type) {
		case *proto.AuthChallenge:
			return m.Challenge, nil
		case *proto.ProtocolError:
			return "", m
		default:
			return "", fmt.Errorf("unexpected %s response to auth_request", resp.Method)
		}
	case challenge := <-c.challengeCh:
		return challenge, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", transport.ErrClosed
	}
}

// verifyChallenge signs the domain-separated challenge with the wallet (not
// the session key) and submits auth_verify.
func (c *Client) verifyChallenge(ctx context.Context, challenge string) error {
	walletAddr := c.wallet.Address().Hex()
	digest := proto.Digest(proto.AuthChallengeBytes(challenge, walletAddr, c.skey.Address().Hex()))
	sig, err := c.wallet.SignDigest(digest)
	if err != nil {
		return err
	}
	resp, err := c.call(ctx, proto.MethodAuthVerify, proto.AuthVerifyParams{
		Challenge: challenge,
		Wallet:    walletAddr,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return err
	}
	msg, err := proto.DecodeMessage(resp)
	if err != nil {
		return err
	}
	verified, ok := msg.(*proto.AuthVerified)
	if !ok {
		return fmt.Errorf("unexpected %s response to auth_verify", resp.Method)
	}
	if !verified.Success {
		return ErrAuthRejected
	}
	return nil
}
