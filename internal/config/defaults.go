package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEndpoint          = "wss://demo.ctraderapi.com:5036"
	DefaultRequestTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleTimeout      = 60 * time.Second
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 60 * time.Second
	DefaultReconnectAttempts = 5
	DefaultFeedBufferSize    = 1000
)

func (c *ClientConfig) applyDefaults() {
	if c.API.Endpoint == "" {
		c.API.Endpoint = DefaultEndpoint
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = DefaultRequestTimeout
	}
	if c.API.HeartbeatInterval == 0 {
		c.API.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.API.StaleTimeout == 0 {
		c.API.StaleTimeout = DefaultStaleTimeout
	}

	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBase
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectAttempts
	}

	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
}
