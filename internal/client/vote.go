package client

import (
	"fmt"

	"cofund/internal/basket"
)

// ProposeFinalization attaches a lock-and-deploy request to the document and
// submits it through the normal authoritative pipeline. Only one proposal
// can be pending at a time.
func (c *Client) ProposeFinalization() error {
	if err := c.requireActive(); err != nil {
		return err
	}
	self := c.selfAddress()
	now := c.clock.Now().Unix()
	return c.sync.Edit(func(b *basket.Basket) error {
		if b.Finalization != nil {
			return ErrFinalizationPending
		}
		b.Finalization = basket.NewFinalizationRequest(self, now)
		return nil
	})
}

// VoteOnFinalization records this participant's vote. A reject drops the
// whole request, which unlocks editing and permits an immediate
// re-proposal; no "rejected" state is kept. The participant whose accept
// flips quorum to true fires the deployment callback, and only that
// participant.
func (c *Client) VoteOnFinalization(accept bool) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	self := c.selfAddress()
	participants := c.participants()
	var (
		reached  bool
		snapshot *basket.Basket
	)
	err := c.sync.Edit(func(b *basket.Basket) error {
		f := b.Finalization
		if f == nil {
			return ErrNoFinalization
		}
		if f.HasVoted(self) {
			return ErrAlreadyVoted
		}
		if !accept {
			b.Finalization = nil
			return nil
		}
		voted := f.WithVote(self, true)
		b.Finalization = voted
		if voted.QuorumReached(participants) {
			reached = true
			snapshot = b.Clone()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if reached {
		c.fireDeploy(snapshot)
	}
	return nil
}

// fireDeploy invokes the deployment callback at most once per session. A
// duplicate echo of the same quorum state cannot re-trigger it.
func (c *Client) fireDeploy(doc *basket.Basket) {
	c.mu.Lock()
	if c.deployFired {
		c.mu.Unlock()
		return
	}
	c.deployFired = true
	cb := c.onDeploy
	c.mu.Unlock()
	c.metrics.IncDeploysFired()
	c.log.Info().Msg("finalization quorum reached, firing deployment")
	if cb != nil {
		cb(doc)
	}
}

func (c *Client) requireActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrNoSession, c.session.Status)
	}
	return nil
}
