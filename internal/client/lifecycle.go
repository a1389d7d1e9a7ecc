package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"cofund/internal/proto"
)

// Two fixed participants with equal voting power; the quorum requires both.
const (
	participantWeight = 50
	sessionQuorum     = 100
)

// CreateSession builds and signs the session definition, returns the invite
// code for the joiner, and starts discovery for the coordinator-assigned
// session. The creator gets no direct acknowledgment: the coordinator only
// pushes to participants it already tracks, so the session must be found by
// the Discovery strategy. Until then the session sits in StatusInviteReady.
func (c *Client) CreateSession(ctx context.Context, joiner string) (string, error) {
	if !common.IsHexAddress(joiner) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJoiner, joiner)
	}
	self := c.wallet.Address().Hex()
	joinerAddr := common.HexToAddress(joiner).Hex()
	if strings.EqualFold(joinerAddr, self) {
		return "", fmt.Errorf("%w: joiner equals creator", ErrInvalidJoiner)
	}
	c.mu.Lock()
	if c.authState != Authenticated {
		c.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		return "", ErrSessionExists
	}
	c.mu.Unlock()

	req := proto.CreateRequest{
		Protocol:     proto.ProtocolTag,
		Participants: []string{self, joinerAddr},
		Weights:      []uint64{participantWeight, participantWeight},
		Quorum:       sessionQuorum,
		Nonce:        uuid.NewString(),
		Version:      1,
	}
	reqBytes, err := proto.CreateRequestBytes(req)
	if err != nil {
		return "", err
	}
	sig, err := c.skey.SignDigest(proto.Digest(reqBytes))
	if err != nil {
		return "", err
	}
	code, err := proto.EncodeInvite(proto.Invite{
		Creator: self,
		Joiner:  joinerAddr,
		Request: req,
		Sigs:    []string{hex.EncodeToString(sig)},
		Nonce:   req.Nonce,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.session = Session{
		Status:       StatusInviteReady,
		Role:         RoleCreator,
		Participants: lowerAll(req.Participants),
	}
	c.mu.Unlock()
	c.log.Info().Str("joiner", joinerAddr).Msg("session created, invite ready")
	go c.runDiscovery(req)
	return code, nil
}

// JoinWithInvite redeems an invite: decode, check it names this wallet,
// countersign the embedded request, and submit. Unlike the creator, the
// joiner reads the assigned session id and version straight out of the
// direct response.
func (c *Client) JoinWithInvite(ctx context.Context, code string) error {
	inv, err := proto.DecodeInvite(code)
	if err != nil {
		return err
	}
	self := c.wallet.Address().Hex()
	if !strings.EqualFold(inv.Joiner, self) {
		return fmt.Errorf("%w: invite names %s", ErrInviteeMismatch, inv.Joiner)
	}
	c.mu.Lock()
	if c.authState != Authenticated {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		return ErrSessionExists
	}
	c.mu.Unlock()

	reqBytes, err := proto.CreateRequestBytes(inv.Request)
	if err != nil {
		return err
	}
	sig, err := c.skey.SignDigest(proto.Digest(reqBytes))
	if err != nil {
		return err
	}
	sigs := append(append([]string(nil), inv.Sigs...), hex.EncodeToString(sig))

	resp, err := c.call(ctx, proto.MethodCreateSession, proto.CreateSessionParams{
		Definition: inv.Request,
		Sigs:       sigs,
	})
	if err != nil {
		return err
	}
	msg, err := proto.DecodeMessage(resp)
	if err != nil {
		return err
	}
	created, ok := msg.(*proto.SessionCreated)
	if !ok {
		return fmt.Errorf("unexpected %s response to create_app_session", resp.Method)
	}
	c.activateSession(created.AppSessionID, created.Version, inv.Request.Participants, RoleJoiner)
	return nil
}

func (c *Client) runDiscovery(req proto.CreateRequest) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()
	info, err := c.discovery.Discover(ctx, req)
	if err != nil {
		// The session stays invite_ready; the joiner may still redeem the
		// invite later, and the caller can re-trigger discovery by
		// recreating the client.
		c.log.Info().Err(err).Msg("session discovery ended without a match")
		c.emitError(err)
		return
	}
	c.activateSession(info.AppSessionID, info.Version, info.Participants, RoleCreator)
}

func (c *Client) activateSession(id string, version uint64, participants []string, role Role) {
	c.mu.Lock()
	c.session = Session{
		Status:       StatusActive,
		Role:         role,
		Participants: lowerAll(participants),
		AppSessionID: id,
	}
	c.mu.Unlock()
	c.sync.setBaseline(version)
	c.log.Info().
		Str("app_session_id", id).
		Uint64("version", version).
		Str("role", string(role)).
		Msg("session active")
}

func (c *Client) listSessions(ctx context.Context) ([]proto.SessionInfo, error) {
	resp, err := c.call(ctx, proto.MethodGetSessions, proto.GetSessionsParams{
		Protocol:    proto.ProtocolTag,
		Participant: c.selfAddress(),
	})
	if err != nil {
		return nil, err
	}
	msg, err := proto.DecodeMessage(resp)
	if err != nil {
		return nil, err
	}
	listed, ok := msg.(*proto.SessionsListed)
	if !ok {
		return nil, fmt.Errorf("unexpected %s response to get_app_sessions", resp.Method)
	}
	return listed.Sessions, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
