// Package config defines the runtime configuration for ciesign and
// the checks that keep a run consistent before any card is touched.
package config

import (
	"fmt"
	"strings"
	"time"

	cserrors "ciesign/internal/errors"
)

// Config holds every tuneable for a single ciesign run.
type Config struct {
	// ── Mode ─────────────────────────────────────────────────────────
	Mock  bool   // --mock: sign without a card
	Serve string // --serve: host address for the HTTP bridge

	// ── Document ─────────────────────────────────────────────────────
	Input  string // --in: PDF to sign
	Output string // --out: where the signed copy is written

	// ── Credential ───────────────────────────────────────────────────
	PIN       string
	PINPrompt bool // true → read the PIN from the terminal

	// ── Appearance ───────────────────────────────────────────────────
	Page      int
	Left      float32
	Bottom    float32
	Width     float32
	Height    float32
	Reason    string
	Location  string
	Name      string
	ImagePath string
	FieldIDs  []string

	// ── Reader ───────────────────────────────────────────────────────
	SessionTimeout time.Duration
	QueueSize      int
	ReaderStatus   string        // simulated reader availability
	SimulateTag    string        // card tapped by the simulated reader
	SimTagDelay    time.Duration // wait before the simulated tap
	CardWait       time.Duration // give up when no card arrives in time

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	DryRun  bool
}

// Simulated tag kinds accepted by --simulate-tag.
const (
	TagMock = "mock" // ISO-DEP card answering like a CIE in MOCK mode
	TagNfcA = "nfca" // plain NFC-A tag without ISO-DEP
	TagNone = "none" // never tap; wait for --card-wait or Ctrl-C
)

// Simulated reader states accepted by --reader.
const (
	ReaderReady       = "ready"
	ReaderDisabled    = "disabled"
	ReaderUnsupported = "unsupported"
)

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		Left:           DefaultLeft,
		Bottom:         DefaultBottom,
		SessionTimeout: DefaultSessionTimeout,
		QueueSize:      DefaultQueueSize,
		ReaderStatus:   ReaderReady,
		SimulateTag:    TagMock,
		SimTagDelay:    DefaultSimTagDelay,
		CardWait:       DefaultCardWait,
		Verbose:        DefaultVerbosity,
	}
}

// Serving reports whether the run hosts the HTTP bridge.
func (c *Config) Serving() bool { return c.Serve != "" }

// OutputPath returns the destination of the signed document, deriving
// "<name>-signed.pdf" from the input when --out is not set.
func (c *Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	base := strings.TrimSuffix(c.Input, ".pdf")
	if base == c.Input {
		base = strings.TrimSuffix(c.Input, ".PDF")
	}
	return base + "-signed.pdf"
}

// ParseFieldIDs splits a comma-separated field list, dropping blanks.
func ParseFieldIDs(list string) []string {
	var out []string
	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Serving() {
		if c.Input != "" {
			return &cserrors.ConfigError{
				Field:   "in",
				Value:   c.Input,
				Message: "--serve and --in are mutually exclusive",
				Hint:    "documents arrive over HTTP in serve mode; drop --in",
			}
		}
	} else {
		if c.Input == "" {
			return &cserrors.ConfigError{
				Field:   "in",
				Message: "a PDF to sign is required",
				Hint:    "pass --in document.pdf, or --serve :8765 to host the bridge",
			}
		}
		if !c.Mock && strings.TrimSpace(c.PIN) == "" && !c.PINPrompt {
			return &cserrors.ConfigError{
				Field:   "pin",
				Message: "card signing needs the card PIN",
				Hint:    "use --pin-prompt to type it without echo, or --mock to sign without a card",
			}
		}
	}

	if c.PIN != "" && c.PINPrompt {
		return &cserrors.ConfigError{
			Field:   "pin-prompt",
			Message: "--pin and --pin-prompt are mutually exclusive",
		}
	}
	if c.Page < 0 {
		return &cserrors.ConfigError{Field: "page", Value: c.Page, Message: "page index must be >= 0"}
	}
	if c.Width < 0 || c.Height < 0 {
		return &cserrors.ConfigError{
			Field:   "width",
			Value:   fmt.Sprintf("%gx%g", c.Width, c.Height),
			Message: "rectangle size must not be negative",
			Hint:    "set --width 0 --height 0 to place the mark on an existing field",
		}
	}
	if c.SessionTimeout != 0 && c.SessionTimeout < MinSessionTimeout {
		return &cserrors.ConfigError{
			Field:   "session-timeout",
			Value:   c.SessionTimeout,
			Message: fmt.Sprintf("card session timeout is at least %s", MinSessionTimeout),
			Hint:    "the timeout can only be raised above the floor",
		}
	}
	if c.QueueSize < 0 {
		return &cserrors.ConfigError{Field: "queue", Value: c.QueueSize, Message: "queue size must be >= 0"}
	}

	switch c.ReaderStatus {
	case "", ReaderReady, ReaderDisabled, ReaderUnsupported:
	default:
		return &cserrors.ConfigError{
			Field:   "reader",
			Value:   c.ReaderStatus,
			Message: "unknown reader state",
			Hint:    "one of ready, disabled, unsupported",
		}
	}
	switch c.SimulateTag {
	case "", TagMock, TagNfcA, TagNone:
	default:
		return &cserrors.ConfigError{
			Field:   "simulate-tag",
			Value:   c.SimulateTag,
			Message: "unknown tag kind",
			Hint:    "one of mock, nfca, none",
		}
	}
	if c.SimTagDelay < 0 || c.CardWait < 0 {
		return &cserrors.ConfigError{Field: "card-wait", Value: c.CardWait, Message: "durations must not be negative"}
	}
	return nil
}
