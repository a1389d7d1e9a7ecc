package client

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestTwoPartySessionFlow drives a full co-authoring session through the
// fake coordinator: create and join, concurrent edits, finalization, and
// the single deploy on the quorum-flipping side.
func TestTwoPartySessionFlow(t *testing.T) {
	coord := newFakeCoord(t)
	creator := newTestEnv(t, coord, func(cfg *Config) {
		cfg.PollMaxAttempts = 200
	})
	joiner := newTestEnv(t, coord, nil)
	ctx := context.Background()

	authenticate(t, creator)
	authenticate(t, joiner)

	code, err := creator.c.CreateSession(ctx, joiner.w.Address().Hex())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := joiner.c.JoinWithInvite(ctx, code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if s := joiner.c.Session(); s.Status != StatusActive || s.Role != RoleJoiner || s.AppSessionID != "app-1" {
		t.Fatalf("joiner session: %+v", s)
	}
	waitFor(t, "creator activation via discovery", func() bool {
		return creator.c.Session().Status == StatusActive
	})
	if s := creator.c.Session(); s.Role != RoleCreator || s.AppSessionID != "app-1" {
		t.Fatalf("creator session: %+v", s)
	}

	// A creator edit propagates: optimistic broadcast first, then the
	// confirmed version on both sides.
	if err := creator.c.AddCompany("acme"); err != nil {
		t.Fatalf("add company: %v", err)
	}
	waitFor(t, "edit visible at joiner", func() bool {
		doc, _ := joiner.c.Basket()
		return len(doc.Companies) == 1 && doc.Companies[0] == "acme"
	})
	waitFor(t, "both sides confirmed", func() bool {
		_, cv := creator.c.Basket()
		_, jv := joiner.c.Basket()
		return cv == 2 && jv == 2
	})

	// Each mutation is allowed to settle to its confirmed version before
	// the next one, so submits never race each other at the coordinator.
	bothConfirmed := func(version uint64) func() bool {
		return func() bool {
			_, cv := creator.c.Basket()
			_, jv := joiner.c.Basket()
			return cv == version && jv == version
		}
	}

	if err := joiner.c.SetStake("acme", 300); err != nil {
		t.Fatalf("set stake: %v", err)
	}
	joinerAddr := strings.ToLower(joiner.w.Address().Hex())
	waitFor(t, "stake confirmed", bothConfirmed(3))
	if doc, _ := creator.c.Basket(); doc.Stakes["acme"][joinerAddr] != 300 {
		t.Fatalf("stake not visible at creator: %v", doc.Stakes)
	}

	// Finalization: creator proposes, both accept. The deploy callback
	// belongs to whoever casts the quorum-flipping vote.
	if err := creator.c.ProposeFinalization(); err != nil {
		t.Fatalf("propose: %v", err)
	}
	waitFor(t, "proposal confirmed", bothConfirmed(4))
	if err := joiner.c.VoteOnFinalization(true); err != nil {
		t.Fatalf("joiner vote: %v", err)
	}
	waitFor(t, "joiner vote confirmed", bothConfirmed(5))
	if doc, _ := creator.c.Basket(); !doc.Finalization.HasVoted(joinerAddr) {
		t.Fatalf("joiner vote not visible at creator")
	}
	if err := creator.c.VoteOnFinalization(true); err != nil {
		t.Fatalf("creator vote: %v", err)
	}

	waitFor(t, "creator deploy", func() bool { return creator.deploys.Load() == 1 })
	waitFor(t, "quorum confirmed", bothConfirmed(6))
	if doc, _ := joiner.c.Basket(); !doc.Finalization.QuorumReached(joiner.c.Session().Participants) {
		t.Fatalf("quorum not visible at joiner")
	}
	time.Sleep(20 * time.Millisecond)
	if got := joiner.deploys.Load(); got != 0 {
		t.Fatalf("joiner deployed %d times; only the quorum-flipping side deploys", got)
	}
	if got := creator.deploys.Load(); got != 1 {
		t.Fatalf("creator deployed %d times", got)
	}
}
