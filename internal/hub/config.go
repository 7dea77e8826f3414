package hub

import "time"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refillInterval"`
}

// Config holds the per-connection limits applied by the hub.
type Config struct {
	MaxMessageSize int64           `mapstructure:"maxMessageSize"`
	SendBuffer     int             `mapstructure:"sendBuffer"`
	PersistTimeout time.Duration   `mapstructure:"persistTimeout"`
	RateLimit      RateLimitConfig `mapstructure:"rateLimit"`
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 4096,
		SendBuffer:     256,
		PersistTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// sanitize replaces unset or non-positive values with defaults.
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = def.PersistTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return c
}
