// Package coordinator runs one NFC signing request at a time.
//
// A request is admitted by Submit, which arms the reader and returns a
// Completion.  Discovered card sessions travel from the reader callback
// over a channel to the coordination loop started by Run, which hands
// them to a single worker goroutine.  The worker calls the signer
// gateway and resolves the request through a compare-and-clear on the
// pending slot, so a result that arrives after Cancel is dropped.
//
//	Idle ──Submit──▶ Armed ──tag──▶ Processing ──result──▶ Idle
//	                   │                 │
//	                   └─────Cancel──────┴──────────────────▶ Idle
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"ciesign/internal/appearance"
	cserrors "ciesign/internal/errors"
	"ciesign/internal/events"
	"ciesign/internal/metrics"
	"ciesign/internal/reader"
	"ciesign/internal/retry"
	"ciesign/internal/signer"
	"ciesign/util"
)

// MinSessionTimeout is the floor applied to the card session I/O
// timeout before the signer runs.  Configuration may only raise it.
const MinSessionTimeout = 60 * time.Second

const (
	defaultQueueSize = 1
	tagBuffer        = 4
)

// State is the coordinator's position in the request lifecycle.
type State int

const (
	Idle State = iota
	Armed
	Processing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Processing:
		return "processing"
	default:
		return "idle"
	}
}

// MarshalText encodes the state as its lower-case name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Request is one NFC signing request.
type Request struct {
	Document   []byte
	PIN        string
	Appearance *appearance.Descriptor
	// OutputPath, when set, receives the signed document.
	OutputPath string
}

func (r Request) signerRequest() signer.Request {
	return signer.Request{Document: r.Document, PIN: r.PIN, Appearance: r.Appearance}
}

// Options configures a Coordinator.
type Options struct {
	// Reader is the initial reader binding.  Nil means the host has no
	// usable adapter.
	Reader  reader.Controller
	Gateway signer.Gateway
	Logger  *util.Logger
	Metrics *metrics.Collector

	// SessionTimeout is the card I/O timeout; values below
	// MinSessionTimeout are raised to it.
	SessionTimeout time.Duration
	// QueueSize bounds the jobs waiting for the worker (default 1).
	QueueSize int
	// Connect is the retry policy for opening a session
	// (default retry.SessionBackoff).
	Connect *retry.Backoff
}

// pending is the in-flight request.  It is owned by the coordinator
// from admission until one path clears c.pending and resolves it.
type pending struct {
	token      uint64
	req        Request
	completion *Completion
	ctx        context.Context
	cancel     context.CancelFunc
}

// job is handed to the worker by value.
type job struct {
	token uint64
	id    string
	req   Request
	sess  reader.Session
	ctx   context.Context
}

// Coordinator is the request state machine.
type Coordinator struct {
	gateway        signer.Gateway
	logger         *util.Logger
	metrics        *metrics.Collector
	events         *events.Broadcaster
	connect        *retry.Backoff
	sessionTimeout time.Duration

	tags      chan reader.Session
	jobs      chan job
	started   chan struct{}
	startOnce sync.Once

	mu        sync.Mutex
	state     State
	reader    reader.Controller
	attached  bool
	running   bool
	runCtx    context.Context
	pending   *pending
	nextToken uint64
}

// New returns an idle coordinator attached to opts.Reader.  Run must be
// called before requests can be submitted.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}
	connect := opts.Connect
	if connect == nil {
		connect = retry.SessionBackoff()
	}
	return &Coordinator{
		gateway:        opts.Gateway,
		logger:         logger.Named("coordinator"),
		metrics:        opts.Metrics,
		events:         events.NewBroadcaster(logger),
		connect:        connect,
		sessionTimeout: opts.SessionTimeout,
		tags:           make(chan reader.Session, tagBuffer),
		jobs:           make(chan job, queue),
		started:        make(chan struct{}),
		reader:         opts.Reader,
		attached:       true,
	}
}

// ── Accessors ────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether Run is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Started is closed once Run has begun accepting requests.
func (c *Coordinator) Started() <-chan struct{} { return c.started }

// Status returns the reader status, NotSupported when no reader is
// bound.
func (c *Coordinator) Status() reader.Status {
	c.mu.Lock()
	rd := c.reader
	c.mu.Unlock()
	if rd == nil {
		return reader.NotSupported
	}
	return rd.Status()
}

// Subscribe installs the single event observer and sends it the
// current reader status.
func (c *Coordinator) Subscribe(sink events.Sink) {
	c.events.Subscribe(sink)
	c.events.Emit(events.NewState(c.Status().String()))
}

// Unsubscribe removes the event observer.
func (c *Coordinator) Unsubscribe() { c.events.Unsubscribe() }

// Release removes sink unless another observer has replaced it.
func (c *Coordinator) Release(sink events.Sink) { c.events.Release(sink) }

// ── Submit / Cancel ──────────────────────────────────────────────────

// Submit admits req if the coordinator is idle and the reader is ready.
// It never blocks on card I/O: the outcome is delivered through the
// returned Completion.  A rejected request leaves the state unchanged.
func (c *Coordinator) Submit(req Request) (*Completion, error) {
	c.mu.Lock()
	if err := c.admissible(req); err != nil {
		c.mu.Unlock()
		c.metrics.RequestRejected(cserrors.CodeOf(err))
		c.logger.Verbose("request rejected: %v", err)
		return nil, err
	}

	c.nextToken++
	ctx, cancel := context.WithCancel(c.runCtx)
	p := &pending{
		token:      c.nextToken,
		req:        snapshot(req),
		completion: newCompletion(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if err := c.reader.Arm(c.deliver); err != nil {
		c.mu.Unlock()
		cancel()
		se := cserrors.Wrap(cserrors.CodeNFCUnavailable, err)
		c.metrics.RequestRejected(se.Code)
		return nil, se
	}
	c.pending = p
	c.state = Armed
	c.mu.Unlock()

	c.metrics.RequestSubmitted()
	c.logger.Info("request %s armed, waiting for a card", p.completion.ID())
	c.events.Emit(events.NewListening())
	return p.completion, nil
}

// admissible runs the admission checks in order.  c.mu must be held.
func (c *Coordinator) admissible(req Request) error {
	if !c.running {
		return cserrors.Wrap(cserrors.CodeInternal, cserrors.ErrCoordinatorDown)
	}
	if !c.attached {
		return cserrors.Sign(cserrors.CodeNoActivity, "no host attached")
	}
	if c.reader == nil {
		return cserrors.Sign(cserrors.CodeNFCUnavailable, "NFC not available on this device")
	}
	switch c.reader.Status() {
	case reader.NotSupported:
		return cserrors.Sign(cserrors.CodeNFCUnsupported, "reader mode is not supported")
	case reader.Disabled:
		return cserrors.Sign(cserrors.CodeNFCDisabled, "NFC is disabled")
	}
	if c.state != Idle {
		return &cserrors.SignError{
			Kind:    cserrors.KindConcurrency,
			Code:    cserrors.CodeBusy,
			Message: cserrors.ErrBusy.Error(),
			Err:     cserrors.ErrBusy,
		}
	}
	if len(req.Document) == 0 {
		return cserrors.Sign(cserrors.CodeInvalidPDF, "document is empty")
	}
	if strings.TrimSpace(req.PIN) == "" {
		return cserrors.Sign(cserrors.CodeInvalidPIN, "PIN is blank")
	}
	if err := req.Appearance.Validate(); err != nil {
		return cserrors.Wrap(cserrors.CodeInvalidAppearance, err)
	}
	return nil
}

// snapshot copies the caller-owned document so later mutation by the
// caller cannot reach the worker.
func snapshot(req Request) Request {
	req.Document = append([]byte(nil), req.Document...)
	return req
}

// Cancel aborts the in-flight request.  It reports false when there was
// nothing to cancel.
func (c *Coordinator) Cancel() bool {
	return c.abort(cserrors.ErrCanceled)
}

// Withdraw cancels the request behind comp if it is still in flight.
// Unlike Cancel it never touches a request the caller does not own.
func (c *Coordinator) Withdraw(comp *Completion) bool {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil || p.completion != comp {
		return false
	}
	return c.abortToken(p.token, cserrors.ErrCanceled)
}

// abort claims the pending slot and resolves it as canceled for reason.
func (c *Coordinator) abort(reason error) bool {
	return c.abortToken(0, reason)
}

func (c *Coordinator) abortToken(token uint64, reason error) bool {
	p := c.claim(token)
	if p == nil {
		return false
	}
	c.canceled(p, reason)
	return true
}

// canceled resolves a claimed request as canceled for reason.
func (c *Coordinator) canceled(p *pending, reason error) {
	p.completion.resolve(nil, cserrors.Canceled(reason))
	p.cancel()
	c.metrics.RequestCanceled()
	c.logger.Info("request %s canceled: %v", p.completion.ID(), reason)
	c.events.Emit(events.NewCanceled())
}

// claim clears the pending slot and disarms the reader.  With token 0
// any pending request is claimed; otherwise only the one holding token.
// The caller that receives a non-nil result is the only one allowed to
// resolve it.
func (c *Coordinator) claim(token uint64) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimLocked(token)
}

// claimLocked is claim with c.mu held.
func (c *Coordinator) claimLocked(token uint64) *pending {
	p := c.pending
	if p == nil || (token != 0 && p.token != token) {
		return nil
	}
	c.pending = nil
	c.state = Idle
	if c.reader != nil {
		c.reader.Disarm()
	}
	return p
}

// ── Host lifecycle ───────────────────────────────────────────────────

// Detach handles the host going away: the in-flight request is canceled
// with ErrHostDetached and the reader binding is dropped.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	p := c.claimLocked(0)
	c.attached = false
	c.reader = nil
	c.mu.Unlock()

	if p != nil {
		c.canceled(p, cserrors.ErrHostDetached)
	}
	c.logger.Verbose("host detached")
	c.events.Emit(events.NewState(reader.NotSupported.String()))
}

// Attach rebinds the reader after the host came back and reports the
// current status.
func (c *Coordinator) Attach(rd reader.Controller) {
	c.mu.Lock()
	c.attached = true
	c.reader = rd
	c.mu.Unlock()
	status := c.Status()
	c.logger.Verbose("host attached, reader %s", status)
	c.events.Emit(events.NewState(status.String()))
}
