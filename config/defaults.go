package config

import (
	"time"

	"ciesign/internal/coordinator"
)

// ── Default values ───────────────────────────────────────────────────

const (
	// MinSessionTimeout is the floor the coordinator applies to every
	// card session.
	MinSessionTimeout = coordinator.MinSessionTimeout

	// DefaultSessionTimeout is used when --session-timeout is not set.
	DefaultSessionTimeout = MinSessionTimeout

	// DefaultQueueSize bounds card sessions waiting for the worker.
	DefaultQueueSize = 1

	// DefaultServeAddr is suggested in help output for --serve.
	DefaultServeAddr = "127.0.0.1:8765"

	// DefaultSimTagDelay is how long the simulated reader waits before
	// tapping the card.
	DefaultSimTagDelay = 500 * time.Millisecond

	// DefaultCardWait bounds how long a CLI run waits for a card.
	DefaultCardWait = 2 * time.Minute

	// DefaultVerbosity is the initial log level (0 = quiet).
	DefaultVerbosity = 1

	// Default signature rectangle in PDF points, bottom-left of page 1.
	DefaultLeft   float32 = 36
	DefaultBottom float32 = 36
	DefaultWidth  float32 = 180
	DefaultHeight float32 = 50
)
