package client

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"cofund/internal/basket"
	"cofund/internal/metrics"
)

// Stage is how far the latest local mutation has progressed through the
// pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StagePending
	StageBroadcast
	StageSubmitted
	StageConfirmed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePending:
		return "pending"
	case StageBroadcast:
		return "broadcast"
	case StageSubmitted:
		return "submitted"
	case StageConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

const seenCacheSize = 512

type synchronizerConfig struct {
	log     zerolog.Logger
	clock   clockwork.Clock
	metrics *metrics.Metrics
	self    string

	broadcast func(doc *basket.Basket, msgID string)
	submit    func(doc *basket.Basket, version uint64)
	onUpdate  func(doc *basket.Basket, version uint64)

	broadcastDebounce time.Duration
	submitDebounce    time.Duration
}

// synchronizer owns the shared document and drives every local mutation
// through localEdit → optimisticBroadcast → authoritativeSubmit →
// serverEcho → reconcile. The two debounce timers are independent; the
// confirmed version is the only version ever persisted, and it moves only on
// the coordinator echo.
type synchronizer struct {
	cfg synchronizerConfig

	mu        sync.Mutex
	doc       *basket.Basket
	confirmed uint64
	stage     Stage
	suppress  bool
	stopped   bool
	seen      *lru.Cache[string, struct{}]

	broadcastTimer clockwork.Timer
	submitTimer    clockwork.Timer
}

func newSynchronizer(cfg synchronizerConfig) *synchronizer {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &synchronizer{
		cfg:  cfg,
		doc:  basket.New(),
		seen: seen,
	}
}

// Edit applies a local mutation and arms both debounce timers. While a
// remote update is being applied the suppression flag is set and the timers
// stay untouched, so reconciliation can never feed back into an outbound
// broadcast.
func (s *synchronizer) Edit(mutate func(*basket.Basket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mutate(s.doc); err != nil {
		return err
	}
	if s.stopped {
		return nil
	}
	if s.suppress {
		s.cfg.metrics.IncBroadcastSuppressed()
		return nil
	}
	s.stage = StagePending
	if s.broadcastTimer == nil {
		s.broadcastTimer = s.cfg.clock.AfterFunc(s.cfg.broadcastDebounce, s.fireBroadcast)
	} else {
		s.broadcastTimer.Reset(s.cfg.broadcastDebounce)
	}
	if s.submitTimer == nil {
		s.submitTimer = s.cfg.clock.AfterFunc(s.cfg.submitDebounce, s.fireSubmit)
	} else {
		s.submitTimer.Reset(s.cfg.submitDebounce)
	}
	return nil
}

func (s *synchronizer) fireBroadcast() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	id := uuid.NewString()
	// Recording our own id means the coordinator echoing the broadcast back
	// is dropped by dedup even before the sender check.
	s.seen.Add(id, struct{}{})
	if s.stage == StagePending {
		s.stage = StageBroadcast
	}
	snap := s.doc.Clone()
	s.mu.Unlock()
	s.cfg.metrics.IncBroadcastSent()
	s.cfg.broadcast(snap, id)
}

func (s *synchronizer) fireSubmit() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	// Rebase on the last confirmed version, never on a speculative one: a
	// rejected or lost submit must not drift the counter.
	version := s.confirmed + 1
	s.stage = StageSubmitted
	snap := s.doc.Clone()
	s.mu.Unlock()
	s.cfg.metrics.IncSubmitSent()
	s.cfg.submit(snap, version)
}

// ApplyServerUpdate reconciles a coordinator state echo: strictly newer
// versions replace the document wholesale, everything else is ignored. No
// field-level merge is attempted.
func (s *synchronizer) ApplyServerUpdate(version uint64, state []byte) {
	s.mu.Lock()
	if s.stopped || version <= s.confirmed {
		s.mu.Unlock()
		return
	}
	var doc basket.Basket
	if err := json.Unmarshal(state, &doc); err != nil {
		s.mu.Unlock()
		s.cfg.log.Warn().Err(err).Uint64("version", version).Msg("dropping undecodable state update")
		return
	}
	if s.stage == StageSubmitted {
		s.cfg.metrics.IncSubmitConfirmed()
	} else {
		s.cfg.metrics.IncReconcileApplied()
	}
	s.doc = &doc
	s.confirmed = version
	s.stage = StageConfirmed
	s.notifyLocked(version)
}

// ApplyPeerBroadcast overlays the peer's optimistic document. Self-echoes
// and replayed message ids are dropped before touching any state.
func (s *synchronizer) ApplyPeerBroadcast(msgID, sender string, payload []byte) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if strings.EqualFold(sender, s.cfg.self) {
		s.mu.Unlock()
		s.cfg.metrics.IncSelfEchoDropped()
		return
	}
	if msgID != "" {
		if _, ok := s.seen.Get(msgID); ok {
			s.mu.Unlock()
			s.cfg.metrics.IncDedupDropped()
			return
		}
		s.seen.Add(msgID, struct{}{})
	}
	var doc basket.Basket
	if err := json.Unmarshal(payload, &doc); err != nil {
		s.mu.Unlock()
		s.cfg.log.Warn().Err(err).Msg("dropping undecodable peer broadcast")
		return
	}
	// Optimistic overlay: the document changes, the confirmed version does
	// not.
	s.doc = &doc
	s.notifyLocked(s.confirmed)
}

// notifyLocked runs the update callback with the one-shot suppression flag
// set, so a callback that synchronously edits the document does not
// re-trigger the pipeline. Unlocks on entry.
func (s *synchronizer) notifyLocked(version uint64) {
	s.suppress = true
	onUpdate := s.cfg.onUpdate
	snap := s.doc.Clone()
	s.mu.Unlock()
	if onUpdate != nil {
		onUpdate(snap, version)
	}
	s.mu.Lock()
	s.suppress = false
	s.mu.Unlock()
}

func (s *synchronizer) setBaseline(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed = version
	s.stage = StageConfirmed
}

func (s *synchronizer) Snapshot() (*basket.Basket, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), s.confirmed
}

func (s *synchronizer) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Stop invalidates both pending timers; nothing fires after it returns.
func (s *synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.broadcastTimer != nil {
		s.broadcastTimer.Stop()
	}
	if s.submitTimer != nil {
		s.submitTimer.Stop()
	}
}
