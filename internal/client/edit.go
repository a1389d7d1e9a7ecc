package client

import "cofund/internal/basket"

// Document edits. Validation failures are local and synchronous; they never
// reach the transport. Successful edits enter the broadcast/submit pipeline.

func (c *Client) AddCompany(name string) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.sync.Edit(func(b *basket.Basket) error {
		return b.AddCompany(name)
	})
}

// SetStake records this wallet's stake in a company, in whole USDC.
func (c *Client) SetStake(company string, amount uint64) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	self := c.selfAddress()
	return c.sync.Edit(func(b *basket.Basket) error {
		return b.SetStake(company, self, amount)
	})
}

func (c *Client) SetFormField(name, value string) error {
	if err := c.requireActive(); err != nil {
		return err
	}
	return c.sync.Edit(func(b *basket.Basket) error {
		return b.SetField(name, value)
	})
}
