package client

import (
	"time"

	"github.com/danmuck/crtplink/internal/handshake"
)

// Config holds connection behavior for one Client.
type Config struct {
	// HandshakeTimeout bounds each handshake stage.
	HandshakeTimeout time.Duration
	// ForceRefresh refetches both directories even when the cache matches.
	ForceRefresh bool
	// CachePrefix scopes cache entries; empty uses the transport id.
	CachePrefix string
	// OnConsole receives each complete console line.
	OnConsole func(line string)
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: handshake.DefaultTimeout,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	return c
}
