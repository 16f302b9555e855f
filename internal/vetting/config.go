package vetting

import "time"

// Defaults for the orchestrator's timing and budget knobs.
const (
	DefaultMaxConcurrentSessions = 3
	DefaultMaxTurns              = 5
	DefaultSweepInterval         = 30 * time.Minute
	DefaultRescreenAfter         = 168 * time.Hour
	DefaultOutreachStagger       = 2 * time.Second

	// unresponsiveAfter is how long a session may sit after its final nudge
	// before it is closed as unresponsive.
	unresponsiveAfter = 48 * time.Hour
)

// DefaultFollowupHours are the nudge thresholds: first follow-up after 24h,
// final follow-up after 48h.
var DefaultFollowupHours = []int{24, 48}

// Config carries the process-wide vetting constants, loaded once at startup.
type Config struct {
	// Enabled is the global switch; per-job flags may override it.
	Enabled bool
	// EnabledSince is the forward-only cutoff: candidates screened before it
	// are never admitted.
	EnabledSince time.Time

	MaxConcurrentSessions int
	MaxTurns              int
	FollowupHours         []int
	SweepInterval         time.Duration
	RescreenAfter         time.Duration
	OutreachStagger       time.Duration

	// FromName and ReplyTo are applied to every outbound message.
	FromName string
	ReplyTo  string
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = DefaultMaxConcurrentSessions
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if len(c.FollowupHours) == 0 {
		c.FollowupHours = DefaultFollowupHours
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.OutreachStagger < 0 {
		c.OutreachStagger = 0
	}
}

// maxFollowups is the number of nudges before a session can close as
// unresponsive.
func (c *Config) maxFollowups() int {
	return len(c.FollowupHours)
}
