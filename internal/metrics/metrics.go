// Package metrics provides lightweight, lock-free counters for tracking
// the signing requests handled by a ciesign host.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a ciesign host.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	requestsActive    atomic.Int64
	requestsSubmitted atomic.Int64
	requestsRejected  atomic.Int64
	requestsCompleted atomic.Int64
	requestsFailed    atomic.Int64
	requestsCanceled  atomic.Int64
	tagsDiscovered    atomic.Int64
	staleResults      atomic.Int64
	bytesSigned       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastSigned   time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Request lifecycle ────────────────────────────────────────────────

// RequestSubmitted records an admitted request.
func (c *Collector) RequestSubmitted() {
	if c == nil {
		return
	}
	c.requestsActive.Add(1)
	c.requestsSubmitted.Add(1)
}

// RequestRejected records a submission refused before arming.
func (c *Collector) RequestRejected(code string) {
	if c == nil {
		return
	}
	c.requestsRejected.Add(1)
	c.setLastError("rejected: " + code)
}

// RequestCompleted records a successful signature of n bytes.
func (c *Collector) RequestCompleted(n int) {
	if c == nil {
		return
	}
	c.requestsActive.Add(-1)
	c.requestsCompleted.Add(1)
	c.bytesSigned.Add(int64(n))
	c.mu.Lock()
	c.lastSigned = time.Now()
	c.mu.Unlock()
}

// RequestFailed records an admitted request that ended in an error.
func (c *Collector) RequestFailed(msg string) {
	if c == nil {
		return
	}
	c.requestsActive.Add(-1)
	c.requestsFailed.Add(1)
	c.setLastError(msg)
}

// RequestCanceled records an admitted request that was aborted.
func (c *Collector) RequestCanceled() {
	if c == nil {
		return
	}
	c.requestsActive.Add(-1)
	c.requestsCanceled.Add(1)
}

// ActiveRequests returns the number of admitted, unresolved requests.
func (c *Collector) ActiveRequests() int64 {
	if c == nil {
		return 0
	}
	return c.requestsActive.Load()
}

// ── Card metrics ─────────────────────────────────────────────────────

// TagDiscovered records a card session accepted for processing.
func (c *Collector) TagDiscovered() {
	if c == nil {
		return
	}
	c.tagsDiscovered.Add(1)
}

// StaleResult records a worker result discarded because its request
// had already been resolved.
func (c *Collector) StaleResult() {
	if c == nil {
		return
	}
	c.staleResults.Add(1)
}

// BytesSigned returns the total size of all signed documents.
func (c *Collector) BytesSigned() int64 {
	if c == nil {
		return 0
	}
	return c.bytesSigned.Load()
}

func (c *Collector) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	RequestsActive    int64  `json:"requests_active"`
	RequestsSubmitted int64  `json:"requests_submitted"`
	RequestsRejected  int64  `json:"requests_rejected"`
	RequestsCompleted int64  `json:"requests_completed"`
	RequestsFailed    int64  `json:"requests_failed"`
	RequestsCanceled  int64  `json:"requests_canceled"`
	TagsDiscovered    int64  `json:"tags_discovered"`
	StaleResults      int64  `json:"stale_results"`
	BytesSigned       int64  `json:"bytes_signed"`
	LastSigned        string `json:"last_signed,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		RequestsActive:    c.requestsActive.Load(),
		RequestsSubmitted: c.requestsSubmitted.Load(),
		RequestsRejected:  c.requestsRejected.Load(),
		RequestsCompleted: c.requestsCompleted.Load(),
		RequestsFailed:    c.requestsFailed.Load(),
		RequestsCanceled:  c.requestsCanceled.Load(),
		TagsDiscovered:    c.tagsDiscovered.Load(),
		StaleResults:      c.staleResults.Load(),
		BytesSigned:       c.bytesSigned.Load(),
	}
	if !c.lastSigned.IsZero() {
		s.LastSigned = c.lastSigned.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
