package reader

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// Sim is an in-process Controller for hosts without reader hardware.
// Cards are "tapped" with Present; the discovery callback runs on a new
// goroutine, the way platform reader callbacks arrive on their own
// thread.
type Sim struct {
	mu     sync.Mutex
	status Status
	onTag  func(Session)
	arms   int
}

// NewSim returns a simulated reader in the given state.
func NewSim(status Status) *Sim {
	return &Sim{status: status}
}

// SetStatus changes what Status reports, e.g. to simulate the user
// switching NFC off.
func (s *Sim) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status implements Controller.
func (s *Sim) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Arm implements Controller.
func (s *Sim) Arm(onTag func(Session)) error {
	if onTag == nil {
		return fmt.Errorf("arm: nil discovery callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Ready {
		return fmt.Errorf("arm: reader is %s", s.status)
	}
	s.onTag = onTag
	s.arms++
	return nil
}

// Disarm implements Controller.
func (s *Sim) Disarm() {
	s.mu.Lock()
	s.onTag = nil
	s.mu.Unlock()
}

// Armed reports whether discovery is active.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onTag != nil
}

// ArmCount returns how many times Arm succeeded.
func (s *Sim) ArmCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arms
}

// Present taps sess on the reader.  It reports false, and delivers
// nothing, when the reader is not armed.
func (s *Sim) Present(sess Session) bool {
	s.mu.Lock()
	cb := s.onTag
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	go cb(sess)
	return true
}

// ── Simulated cards ──────────────────────────────────────────────────

// MockATRPrefix marks a card whose signing exchange is served by the
// built-in mock signer instead of a real card applet.
var MockATRPrefix = []byte("MOCK")

// Exchange is one scripted command/response pair.
type Exchange struct {
	Command  []byte
	Response []byte
}

// MockCard is a scripted ISO-DEP session.  With no script every command
// is answered with status word 90 00.
type MockCard struct {
	TagID      []byte
	Historical []byte
	Script     []Exchange
	// ConnectFailures makes the first n Connect calls fail.
	ConnectFailures int

	mu        sync.Mutex
	timeout   time.Duration
	connected bool
	closed    bool
	next      int
	connects  int
}

// NewMockCard returns a card whose ATR carries MockATRPrefix.
func NewMockCard(id []byte) *MockCard {
	hist := append(append([]byte(nil), MockATRPrefix...), 0x80, 0x31)
	return &MockCard{TagID: id, Historical: hist, timeout: time.Second}
}

func (c *MockCard) ID() []byte              { return c.TagID }
func (c *MockCard) IsoDep() bool            { return true }
func (c *MockCard) HistoricalBytes() []byte { return c.Historical }
func (c *MockCard) HiLayerResponse() []byte { return nil }

func (c *MockCard) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connect: %w", ErrSessionClosed)
	}
	c.connects++
	if c.connects <= c.ConnectFailures {
		return fmt.Errorf("connect: tag was lost")
	}
	c.connected = true
	return nil
}

func (c *MockCard) Transceive(apdu []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.closed {
		return nil, fmt.Errorf("transceive: not connected")
	}
	if len(c.Script) == 0 {
		return []byte{0x90, 0x00}, nil
	}
	if c.next >= len(c.Script) {
		return nil, fmt.Errorf("transceive: unexpected command %X after script end", apdu)
	}
	ex := c.Script[c.next]
	if !bytes.Equal(ex.Command, apdu) {
		return nil, fmt.Errorf("transceive: command %d is %X, want %X", c.next, apdu, ex.Command)
	}
	c.next++
	return append([]byte(nil), ex.Response...), nil
}

func (c *MockCard) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *MockCard) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

func (c *MockCard) Close() error {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	c.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (c *MockCard) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connects returns the number of Connect attempts.
func (c *MockCard) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// ScriptDone reports whether every scripted exchange was consumed.
func (c *MockCard) ScriptDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next == len(c.Script)
}

// NfcATag is a plain NFC-A tag (a sticker, a transit card) that does
// not speak ISO-DEP.
type NfcATag struct {
	TagID []byte

	mu     sync.Mutex
	closed bool
}

func (t *NfcATag) ID() []byte               { return t.TagID }
func (t *NfcATag) IsoDep() bool             { return false }
func (t *NfcATag) HistoricalBytes() []byte  { return nil }
func (t *NfcATag) HiLayerResponse() []byte  { return nil }
func (t *NfcATag) Timeout() time.Duration   { return 0 }
func (t *NfcATag) SetTimeout(time.Duration) {}

func (t *NfcATag) Connect() error {
	return fmt.Errorf("connect: tag is not ISO-DEP")
}

func (t *NfcATag) Transceive([]byte) ([]byte, error) {
	return nil, fmt.Errorf("transceive: tag is not ISO-DEP")
}

func (t *NfcATag) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (t *NfcATag) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
