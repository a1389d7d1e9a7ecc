// Package client implements the collaborative session protocol: the auth
// handshake against the coordinator, session creation and invite-based
// joining, the two-stage document synchronization pipeline, and the
// quorum-gated finalization vote. One Client value is one session instance;
// nothing in the package is global, so concurrent sessions (and tests) never
// collide.
package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"cofund/internal/basket"
	"cofund/internal/metrics"
	"cofund/internal/proto"
	"cofund/internal/transport"
	"cofund/internal/wallet"
)

const (
	defaultBroadcastDebounce = 350 * time.Millisecond
	defaultSubmitDebounce    = 700 * time.Millisecond
	defaultPollInterval      = 2 * time.Second
	defaultPollMaxAttempts   = 15
	defaultCallTimeout       = 10 * time.Second

	authScope = "app.create app.submit"
)

type AuthState int32

const (
	Unauthenticated AuthState = iota
	Authenticating
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

type Status string

const (
	StatusIdle        Status = "idle"
	StatusInviteReady Status = "invite_ready"
	StatusActive      Status = "active"
	StatusClosed      Status = "closed"
)

type Role string

const (
	RoleNone    Role = ""
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
)

// Session is the lifecycle state both the creator and joiner paths converge
// on. Participants are lowercase wallet addresses in definition order.
type Session struct {
	Status       Status
	Role         Role
	Participants []string
	AppSessionID string
	Version      uint64
}

type Config struct {
	Conn       transport.Conn
	Wallet     wallet.Signer
	SessionKey wallet.Signer

	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Discovery resolves the creator's just-created session; defaults to
	// bounded polling against get_app_sessions.
	Discovery Discovery

	// OnDeploy fires exactly once per session when finalization quorum is
	// reached by the local vote. The surrounding application owns the
	// actual on-chain submission.
	OnDeploy func(*basket.Basket)
	// OnUpdate fires after every applied document change, optimistic or
	// confirmed, with a snapshot and the confirmed version.
	OnUpdate func(*basket.Basket, uint64)
	// OnError receives failures that surface outside a direct method call.
	OnError func(error)

	BroadcastDebounce time.Duration
	SubmitDebounce    time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
	CallTimeout       time.Duration
}

type Client struct {
	log     zerolog.Logger
	clock   clockwork.Clock
	metrics *metrics.Metrics

	conn      transport.Conn
	wallet    wallet.Signer
	skey      wallet.Signer
	discovery Discovery

	onDeploy func(*basket.Basket)
	onError  func(error)

	callTimeout time.Duration

	reqID       atomic.Uint64
	challengeCh chan string

	mu           sync.Mutex
	authState    AuthState
	authInFlight bool
	reauthDone   bool
	pending      map[uint64]chan *proto.Envelope
	session      Session
	deployFired  bool

	sync *synchronizer

	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) (*Client, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("missing transport")
	}
	if cfg.Wallet == nil {
		return nil, fmt.Errorf("missing wallet signer")
	}
	if cfg.SessionKey == nil {
		return nil, fmt.Errorf("missing session key")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.BroadcastDebounce <= 0 {
		cfg.BroadcastDebounce = defaultBroadcastDebounce
	}
	if cfg.SubmitDebounce <= 0 {
		cfg.SubmitDebounce = defaultSubmitDebounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = defaultPollMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	c := &Client{
		log:         cfg.Logger.With().Str("component", "client").Logger(),
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		conn:        cfg.Conn,
		wallet:      cfg.Wallet,
		skey:        cfg.SessionKey,
		onDeploy:    cfg.OnDeploy,
		onError:     cfg.OnError,
		callTimeout: cfg.CallTimeout,
		challengeCh: make(chan string, 1),
		pending:     make(map[uint64]chan *proto.Envelope),
		session:     Session{Status: StatusIdle},
		done:        make(chan struct{}),
	}
	c.sync = newSynchronizer(synchronizerConfig{
		log:               c.log,
		clock:             cfg.Clock,
		metrics:           cfg.Metrics,
		self:              strings.ToLower(cfg.Wallet.Address().Hex()),
		broadcast:         c.sendBroadcast,
		submit:            c.sendSubmit,
		onUpdate:          cfg.OnUpdate,
		broadcastDebounce: cfg.BroadcastDebounce,
		submitDebounce:    cfg.SubmitDebounce,
	})
	if cfg.Discovery != nil {
		c.discovery = cfg.Discovery
	} else {
		c.discovery = &PollDiscovery{
			List:        c.listSessions,
			Clock:       cfg.Clock,
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Metrics:     cfg.Metrics,
			Log:         c.log,
		}
	}
	go c.dispatchLoop()
	return c, nil
}

// Close tears down the session instance: the transport, both debounce
// timers, any in-flight discovery poll, and all pending calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.teardown()
	return err
}

func (c *Client) Session() Session {
	c.mu.Lock()
	s := c.session
	s.Participants = append([]string(nil), s.Participants...)
	c.mu.Unlock()
	_, s.Version = c.sync.Snapshot()
	return s
}

func (c *Client) AuthState() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

// Basket returns a read-only snapshot of the document and the confirmed
// version.
func (c *Client) Basket() (*basket.Basket, uint64) {
	return c.sync.Snapshot()
}

// Stage reports how far the latest local mutation has progressed through the
// broadcast/submit pipeline.
func (c *Client) Stage() Stage {
	return c.sync.Stage()
}

func (c *Client) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot()
}

func (c *Client) selfAddress() string {
	return strings.ToLower(c.wallet.Address().Hex())
}

func (c *Client) activeSessionID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != StatusActive {
		return "", false
	}
	return c.session.AppSessionID, true
}

func (c *Client) participants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.session.Participants...)
}

// signEnvelope attaches the session-key signature over the canonical
// traffic bytes. Wallet signatures never cover routine messages.
func (c *Client) signEnvelope(env *proto.Envelope) error {
	sig, err := c.skey.SignDigest(proto.Digest(proto.TrafficBytes(env.Method, env.ID, env.Params)))
	if err != nil {
		return err
	}
	env.Sig = hex.EncodeToString(sig)
	return nil
}

func (c *Client) newEnvelope(method string, params any) (*proto.Envelope, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	env := &proto.Envelope{
		ID:     c.reqID.Add(1),
		Method: method,
		Params: data,
		Sender: c.selfAddress(),
	}
	if err := c.signEnvelope(env); err != nil {
		return nil, err
	}
	return env, nil
}

// call sends a request and blocks until its correlated response, the
// context, or teardown.
func (c *Client) call(ctx context.Context, method string, params any) (*proto.Envelope, error) {
	env, err := c.newEnvelope(method, params)
	if err != nil {
		return nil, err
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
		return nil, err
	}
	select {
	case resp := <-ch:
		if resp.Method == proto.MethodError {
			msg, derr := proto.DecodeMessage(resp)
			if derr != nil {
				return nil, fmt.Errorf("undecodable error response: %w", derr)
			}
			pe := msg.(*proto.ProtocolError)
			c.noteProtocolError(pe)
			return nil, pe
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, transport.ErrClosed
	}
}

// send is the fire-and-forget variant used for optimistic broadcasts.
func (c *Client) send(ctx context.Context, method string, params any) error {
	env, err := c.newEnvelope(method, params)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, env)
}

func (c *Client) sendBroadcast(doc *basket.Basket, msgID string) {
	id, ok := c.activeSessionID()
	if !ok {
		return
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		c.emitError(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	err = c.send(ctx, proto.MethodMessage, proto.SendMessageParams{
		AppSessionID: id,
		MessageID:    msgID,
		Payload:      payload,
	})
	if err != nil {
		c.emitError(err)
	}
}

func (c *Client) sendSubmit(doc *basket.Basket, version uint64) {
	id, ok := c.activeSessionID()
	if !ok {
		return
	}
	state, err := json.Marshal(doc)
	if err != nil {
		c.emitError(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()
	// The confirmed version only advances when the coordinator's
	// app_session_update echo arrives, so a rejected or lost submit leaves
	// version tracking intact. A submit whose echo never arrives is a known
	// gap: there is no timeout or retry here.
	_, err = c.call(ctx, proto.MethodSubmitState, proto.SubmitStateParams{
		AppSessionID: id,
		Version:      version,
		State:        state,
	})
	if err != nil {
		c.emitError(err)
	}
}

func (c *Client) emitError(err error) {
	if err == nil {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	if c.onError != nil {
		c.onError(err)
	}
}
