package client

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"cofund/internal/metrics"
	"cofund/internal/proto"
)

// Discovery resolves the creator's own just-created session. It exists as an
// interface because polling is a workaround for a coordinator that only
// pushes to already-tracked participants; a push-capable coordinator
// replaces this without touching the lifecycle manager.
type Discovery interface {
	Discover(ctx context.Context, req proto.CreateRequest) (proto.SessionInfo, error)
}

// PollDiscovery queries get_app_sessions at a fixed interval with a bounded
// attempt budget. Every attempt is an independent, idempotent query.
type PollDiscovery struct {
	List        func(ctx context.Context) ([]proto.SessionInfo, error)
	Clock       clockwork.Clock
	Interval    time.Duration
	MaxAttempts int
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

func (d *PollDiscovery) Discover(ctx context.Context, req proto.CreateRequest) (proto.SessionInfo, error) {
	for attempt := 0; attempt < d.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return proto.SessionInfo{}, ctx.Err()
			case <-d.Clock.After(d.Interval):
			}
		}
		d.Metrics.IncDiscoveryPolls()
		infos, err := d.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return proto.SessionInfo{}, ctx.Err()
			}
			// A failed poll costs one attempt; the next one is independent.
			d.Log.Debug().Err(err).Int("attempt", attempt+1).Msg("discovery poll failed")
			continue
		}
		for _, info := range infos {
			if matchesSession(info, req) {
				return info, nil
			}
		}
	}
	return proto.SessionInfo{}, ErrDiscoveryExhausted
}

func matchesSession(info proto.SessionInfo, req proto.CreateRequest) bool {
	if info.Protocol != req.Protocol {
		return false
	}
	if info.Nonce != "" && info.Nonce != req.Nonce {
		return false
	}
	if len(info.Participants) != len(req.Participants) {
		return false
	}
	for i, p := range info.Participants {
		if !strings.EqualFold(p, req.Participants[i]) {
			return false
		}
	}
	return true
}
