// Package reader abstracts the host's proximity-card reader.
//
// The coordinator only needs to start and stop asynchronous session
// discovery and to ask whether the reader is usable; the scanning
// technology and flags are platform detail hidden behind Controller.
//
// Architecture layers (bottom → top):
//
//	reader  →  signer  →  coordinator  →  bridge  →  httpapi / cmd
package reader

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by a session that has already been
// closed.  Retrying it cannot succeed.
var ErrSessionClosed = errors.New("session closed")

// Status is the derived usability of the reader.
type Status int

const (
	// NotSupported means the host has a reader that cannot do reader
	// mode (too old a platform).
	NotSupported Status = iota
	// Disabled means the reader exists but is switched off.
	Disabled
	// Ready means Arm may be called.
	Ready
)

func (s Status) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Ready:
		return "ready"
	default:
		return "not_supported"
	}
}

// MarshalText encodes the status as its lower-case name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Controller enables and disables reader mode.
type Controller interface {
	// Status reports whether reader mode can be used right now.
	Status() Status

	// Arm starts asynchronous discovery.  onTag may be invoked on any
	// goroutine, once per discovered session, until Disarm is called.
	Arm(onTag func(Session)) error

	// Disarm stops discovery.  It is safe to call when not armed.
	Disarm()
}

// Session is an open contact with one card.
type Session interface {
	// ID returns the anti-collision identifier of the tag, if any.
	ID() []byte
	// IsoDep reports whether the tag speaks ISO 14443-4, which the
	// signing exchange requires.
	IsoDep() bool
	// HistoricalBytes returns the ISO 14443-4 historical bytes (NFC-A).
	HistoricalBytes() []byte
	// HiLayerResponse returns the ATTRIB higher layer response (NFC-B).
	HiLayerResponse() []byte

	Connect() error
	Transceive(apdu []byte) ([]byte, error)

	Timeout() time.Duration
	SetTimeout(d time.Duration)

	Close() error
}

// fallbackATR is used when a card exposes no identifying bytes at all.
var fallbackATR = []byte("ANDR")

// BuildATR returns the answer-to-reset the signer uses to recognise the
// card: the historical bytes, then the higher layer response, then the
// tag id, then a fixed placeholder.
func BuildATR(s Session) []byte {
	for _, candidate := range [][]byte{s.HistoricalBytes(), s.HiLayerResponse(), s.ID()} {
		if len(candidate) > 0 {
			return append([]byte(nil), candidate...)
		}
	}
	return append([]byte(nil), fallbackATR...)
}

// TagID returns a printable identifier for the session: the upper-case
// hex tag id, or a random uuid when the tag hides its id.
func TagID(s Session) string {
	if id := s.ID(); len(id) > 0 {
		return strings.ToUpper(hex.EncodeToString(id))
	}
	return uuid.NewString()
}
