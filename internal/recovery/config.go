package recovery

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"assetd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
	DefaultMultiplier     = 2.0
	DefaultRiskMediumAt   = 1
	DefaultRiskHighAt     = 3
	DefaultAttemptTimeout = 5 * time.Second
)

// Config holds the recovery tunables.
type Config struct {
	// MaxAttempts bounds automatic reacquisition attempts per loss cycle.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the backoff randomization factor in [0,1). Zero keeps the
	// schedule deterministic.
	Jitter float64
	// Loss counts at which risk becomes medium and high.
	RiskMediumAt int
	RiskHighAt   int
	// AttemptTimeout bounds one Reacquire call.
	AttemptTimeout time.Duration
	// InitialQuality is the level a new or reset surface starts at.
	InitialQuality types.Quality
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultMultiplier,
		RiskMediumAt:   DefaultRiskMediumAt,
		RiskHighAt:     DefaultRiskHighAt,
		AttemptTimeout: DefaultAttemptTimeout,
		InitialQuality: types.QualityHigh,
	}
}

// withDefaults fills unset fields. A zero Config means DefaultConfig. In a
// partial Config zero Jitter and a zero InitialQuality (low) are valid
// settings and left alone.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0
	}
	if c.RiskMediumAt <= 0 {
		c.RiskMediumAt = d.RiskMediumAt
	}
	if c.RiskHighAt <= c.RiskMediumAt {
		c.RiskHighAt = c.RiskMediumAt + (d.RiskHighAt - d.RiskMediumAt)
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	c.InitialQuality = c.InitialQuality.Clamp()
	return c
}

// newBackOff builds the per-cycle attempt schedule.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.Reset()
	return b
}

// Schedule returns the first n attempt delays for c. Each controller draws
// from its own backoff.
func (c Config) Schedule(n int) []time.Duration {
	b := c.withDefaults().newBackOff()
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}
