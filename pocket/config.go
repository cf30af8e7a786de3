package pocket

import "time"

// Config holds the ambient connection/reconnection knobs recognized by the
// runtime (spec §3 "Configuration"). Unlike the teacher's LoadTestConfig, which
// reads os.Getenv because it configures a process, this engine is a library: the
// embedding application supplies a Config value directly.
type Config struct {
	// MaxAllowedLoops bounds the number of reconnect attempts the Runner will make
	// before transitioning to Terminated. Zero means unlimited.
	MaxAllowedLoops int

	// SleepInterval is a small pacing delay for polling loops. No component in
	// this module reads it; Client.WaitForAssets polls at its own fixed interval.
	SleepInterval time.Duration

	// ReconnectTime is the base of the exponential backoff used between
	// reconnection attempts: delay = min(ReconnectTime * 2^min(n,10), 300s) * jitter.
	ReconnectTime time.Duration

	// ConnectionInitializationTimeout bounds how long the session/init handshake
	// may take before the Runner gives up on a fresh connection attempt.
	ConnectionInitializationTimeout time.Duration

	// Timeout is the general request timeout value. No component in this module
	// reads it; the modules apply their own fixed timeouts or the caller's ctx.
	Timeout time.Duration

	// URLs is an ordered fallback list of connection URLs tried concurrently by
	// the Connector when no DefaultConnectionURL is set (spec §4.1 option 2).
	URLs []string
}

// DefaultConfig returns the documented defaults (spec §3).
func DefaultConfig() Config {
	return Config{
		MaxAllowedLoops:                  0,
		SleepInterval:                    100 * time.Millisecond,
		ReconnectTime:                    5 * time.Second,
		ConnectionInitializationTimeout:  30 * time.Second,
		Timeout:                          30 * time.Second,
		URLs:                             nil,
	}
}
