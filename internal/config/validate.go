package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if c.API.ClientID == "" {
		return errors.New("api.client_id is required")
	}
	if c.API.ClientSecret == "" {
		return errors.New("api.client_secret is required")
	}
	if c.API.AccountID <= 0 {
		return fmt.Errorf("api.account_id must be positive, got %d", c.API.AccountID)
	}
	if c.API.AccessToken == "" {
		return errors.New("api.access_token is required")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be below base_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if _, err := c.History.SpanOverrides(); err != nil {
		return err
	}

	return nil
}
