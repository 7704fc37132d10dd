package docflow

import "time"

// Config holds the executor's run policy.
type Config struct {
	// MaxRunDuration bounds one Execute call. The run deadline is
	// now + MaxRunDuration, or the caller's context deadline if earlier.
	MaxRunDuration time.Duration

	// StepTimeout caps a single step attempt when the step's registry
	// entry does not set its own timeout. The remaining run time always
	// wins when it is shorter.
	StepTimeout time.Duration

	// MaxAttempts is the retry ceiling for externally-facing steps.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; each
	// following attempt doubles it up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ActorID tags audit entries written by the engine when the
	// request context carries no actor.
	ActorID string
}

// DefaultConfig returns a Config with the defaults used for
// synchronous request-handler runs.
func DefaultConfig() Config {
	return Config{
		MaxRunDuration: 30 * time.Second,
		StepTimeout:    10 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		ActorID:        "system:workflow-engine",
	}
}

// Normalize fills zero fields with their defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.MaxRunDuration <= 0 {
		c.MaxRunDuration = d.MaxRunDuration
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = d.StepTimeout
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
	if c.ActorID == "" {
		c.ActorID = d.ActorID
	}
	return c
}
