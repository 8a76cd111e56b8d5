package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"ciesign/internal/appearance"
	cserrors "ciesign/internal/errors"
	"ciesign/internal/events"
	"ciesign/internal/metrics"
	"ciesign/internal/reader"
	"ciesign/internal/retry"
	"ciesign/internal/signer"
)

const waitFor = 2 * time.Second

// ── Harness ──────────────────────────────────────────────────────────

type harness struct {
	c       *Coordinator
	rd      *reader.Sim
	sink    *events.ChanSink
	metrics *metrics.Collector
	stop    context.CancelFunc
	group   *errgroup.Group
}

func newHarness(t *testing.T, gw signer.Gateway, tweak ...func(*Options)) *harness {
	t.Helper()
	rd := reader.NewSim(reader.Ready)
	m := metrics.New()
	opts := Options{
		Reader:  rd,
		Gateway: gw,
		Metrics: m,
		Connect: &retry.Backoff{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3},
	}
	for _, f := range tweak {
		f(&opts)
	}
	c := New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	require.Eventually(t, c.Running, waitFor, time.Millisecond)

	sink := events.NewChanSink(64)
	c.Subscribe(sink)
	h := &harness{c: c, rd: rd, sink: sink, metrics: m, stop: cancel, group: g}
	require.Equal(t, events.NewState("ready"), h.next(t))

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})
	return h
}

func (h *harness) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-h.sink.C:
		return e
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an event")
		return events.Event{}
	}
}

func (h *harness) noEvent(t *testing.T) {
	t.Helper()
	select {
	case e := <-h.sink.C:
		t.Fatalf("unexpected event %s", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func wait(t *testing.T, comp *Completion) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	out, err := comp.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "completion never resolved")
	return out, err
}

func validRequest() Request {
	return Request{
		Document:   []byte("%PDF-1.7\n"),
		PIN:        "1234",
		Appearance: appearance.New(appearance.Options{PageIndex: 0, Width: 100, Height: 40}),
	}
}

func echoGateway() signer.Gateway {
	return signer.GatewayFunc(func(_ context.Context, req signer.Request, _ reader.Session) ([]byte, error) {
		return append([]byte("signed:"), req.Document...), nil
	})
}

// blockingGateway holds every Sign call until released, ignoring
// request cancellation the way an uninterruptible card exchange would.
type blockingGateway struct {
	entered chan reader.Session
	release chan struct{}
	quit    chan struct{}
}

// newBlockedHarness returns a harness whose signer blocks.  The gateway
// is unblocked before the coordinator is stopped.
func newBlockedHarness(t *testing.T) (*harness, *blockingGateway) {
	t.Helper()
	gw := &blockingGateway{
		entered: make(chan reader.Session, 8),
		release: make(chan struct{}, 8),
		quit:    make(chan struct{}),
	}
	h := newHarness(t, gw)
	t.Cleanup(func() { close(gw.quit) })
	return h, gw
}

func (g *blockingGateway) Sign(_ context.Context, req signer.Request, sess reader.Session) ([]byte, error) {
	g.entered <- sess
	select {
	case <-g.release:
		return req.Document, nil
	case <-g.quit:
		return nil, fmt.Errorf("test finished")
	}
}

func (g *blockingGateway) waitEntered(t *testing.T) reader.Session {
	t.Helper()
	select {
	case s := <-g.entered:
		return s
	case <-time.After(waitFor):
		t.Fatal("signer was never called")
		return nil
	}
}

// ── Scenarios ────────────────────────────────────────────────────────

func TestSubmit_ArmsAndEmitsListening(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	require.NotNil(t, comp)

	assert.Equal(t, Armed, h.c.State())
	assert.True(t, h.rd.Armed())
	assert.Equal(t, events.Listening, h.next(t).Type)
	assert.EqualValues(t, 1, h.metrics.ActiveRequests())
}

func TestSubmit_BusyLeavesOriginalUntouched(t *testing.T) {
	h := newHarness(t, echoGateway())

	first, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	_, err = h.c.Submit(validRequest())
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeBusy, cserrors.CodeOf(err))
	assert.True(t, cserrors.Is(err, cserrors.ErrBusy))
	assert.Equal(t, cserrors.KindConcurrency, cserrors.KindOf(err))

	assert.Equal(t, Armed, h.c.State())
	select {
	case <-first.Done():
		t.Fatal("original request was resolved by a rejected submit")
	default:
	}
	h.noEvent(t)
}

func TestTag_SignsAndCompletes(t *testing.T) {
	h := newHarness(t, signer.NewMock(nil))

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	card := reader.NewMockCard([]byte{0x04, 0xA1, 0xB2})
	require.True(t, h.rd.Present(card))

	assert.Equal(t, events.NewTag("04A1B2"), h.next(t))
	out, err := wait(t, comp)
	require.NoError(t, err)

	marker, err := signer.VerifyMock(out)
	require.NoError(t, err)
	assert.Equal(t, "Signature1", marker.Field)

	assert.Equal(t, events.NewCompleted(len(out)), h.next(t))
	assert.Equal(t, Idle, h.c.State())
	assert.False(t, h.rd.Armed())
	assert.True(t, card.Closed())

	snap := h.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.RequestsCompleted)
	assert.EqualValues(t, 1, snap.TagsDiscovered)
	assert.EqualValues(t, len(out), snap.BytesSigned)
	assert.EqualValues(t, 0, snap.RequestsActive)
}

func TestTag_UnsupportedTransport(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	tag := &reader.NfcATag{TagID: []byte{0x01}}
	require.True(t, h.rd.Present(tag))

	_, err = wait(t, comp)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeUnsupportedTag, cserrors.CodeOf(err))
	assert.Equal(t, cserrors.KindHardware, cserrors.KindOf(err))

	ev := h.next(t)
	assert.Equal(t, events.Error, ev.Type)
	assert.Equal(t, cserrors.CodeUnsupportedTag, ev.Code)
	assert.Equal(t, Idle, h.c.State())
	assert.False(t, h.rd.Armed())
	assert.True(t, tag.Closed())
}

func TestCancel_WhileArmed(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	assert.True(t, h.c.Cancel())
	_, err = wait(t, comp)
	assert.True(t, cserrors.IsCanceled(err))
	assert.True(t, cserrors.Is(err, cserrors.ErrCanceled))
	assert.Equal(t, events.Canceled, h.next(t).Type)
	assert.False(t, h.rd.Armed())
	assert.Equal(t, Idle, h.c.State())

	assert.False(t, h.c.Cancel(), "second cancel has nothing to cancel")
	h.noEvent(t)
}

func TestSubmit_CorruptRasterProceedsWithoutImage(t *testing.T) {
	seen := make(chan bool, 1)
	gw := signer.GatewayFunc(func(_ context.Context, req signer.Request, _ reader.Session) ([]byte, error) {
		seen <- req.Appearance.HasImage()
		return req.Document, nil
	})
	h := newHarness(t, gw)

	req := validRequest()
	req.Appearance = appearance.FromArgs(map[string]any{
		"signatureRaster":      make([]byte, 10),
		"signatureImageWidth":  4,
		"signatureImageHeight": 4,
	})
	comp, err := h.c.Submit(req)
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))

	_, err = wait(t, comp)
	require.NoError(t, err)
	assert.False(t, <-seen)
}

// ── Admission ────────────────────────────────────────────────────────

func TestSubmit_RejectionOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		req   func() Request
		code  string
	}{
		{
			name:  "detached host wins over bad input",
			setup: func(h *harness) { h.c.Detach() },
			req:   func() Request { return Request{} },
			code:  cserrors.CodeNoActivity,
		},
		{
			name:  "no adapter",
			setup: func(h *harness) { h.c.Attach(nil) },
			req:   func() Request { return Request{} },
			code:  cserrors.CodeNFCUnavailable,
		},
		{
			name:  "reader mode unsupported",
			setup: func(h *harness) { h.rd.SetStatus(reader.NotSupported) },
			req:   validRequest,
			code:  cserrors.CodeNFCUnsupported,
		},
		{
			name:  "nfc disabled",
			setup: func(h *harness) { h.rd.SetStatus(reader.Disabled) },
			req:   func() Request { return Request{} },
			code:  cserrors.CodeNFCDisabled,
		},
		{
			name:  "empty document",
			setup: func(*harness) {},
			req:   func() Request { r := validRequest(); r.Document = nil; r.PIN = ""; return r },
			code:  cserrors.CodeInvalidPDF,
		},
		{
			name:  "blank pin",
			setup: func(*harness) {},
			req:   func() Request { r := validRequest(); r.PIN = "   "; r.Appearance = nil; return r },
			code:  cserrors.CodeInvalidPIN,
		},
		{
			name:  "missing appearance",
			setup: func(*harness) {},
			req:   func() Request { r := validRequest(); r.Appearance = nil; return r },
			code:  cserrors.CodeInvalidAppearance,
		},
		{
			name:  "negative page",
			setup: func(*harness) {},
			req: func() Request {
				r := validRequest()
				r.Appearance = appearance.New(appearance.Options{PageIndex: -1})
				return r
			},
			code: cserrors.CodeInvalidAppearance,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, echoGateway())
			tt.setup(h)

			comp, err := h.c.Submit(tt.req())
			require.Error(t, err)
			assert.Nil(t, comp)
			assert.Equal(t, tt.code, cserrors.CodeOf(err))
			assert.Equal(t, Idle, h.c.State())
			assert.False(t, h.rd.Armed())
			assert.EqualValues(t, 1, h.metrics.Snapshot().RequestsRejected)
		})
	}
}

func TestSubmit_BusyBeforeValidation(t *testing.T) {
	h := newHarness(t, echoGateway())
	_, err := h.c.Submit(validRequest())
	require.NoError(t, err)

	_, err = h.c.Submit(Request{})
	assert.Equal(t, cserrors.CodeBusy, cserrors.CodeOf(err))
}

func TestSubmit_BeforeRun(t *testing.T) {
	c := New(Options{Reader: reader.NewSim(reader.Ready), Gateway: echoGateway()})
	_, err := c.Submit(validRequest())
	require.Error(t, err)
	assert.True(t, cserrors.Is(err, cserrors.ErrCoordinatorDown))
}

func TestSubmit_CopiesDocument(t *testing.T) {
	h, gw := newBlockedHarness(t)

	req := validRequest()
	comp, err := h.c.Submit(req)
	require.NoError(t, err)
	req.Document[0] = 'X'

	h.rd.Present(reader.NewMockCard([]byte{0x01}))
	gw.waitEntered(t)
	gw.release <- struct{}{}
	out, err := wait(t, comp)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7\n", string(out))
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t, echoGateway())
	assert.Error(t, h.c.Run(context.Background()))
}

// ── Races and stale results ──────────────────────────────────────────

func TestLateTags_AreIgnored(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)
	require.True(t, h.c.Cancel())
	h.next(t)

	for i := 0; i < 5; i++ {
		card := reader.NewMockCard([]byte{byte(i)})
		h.c.OnTagDiscovered(card)
		assert.True(t, card.Closed())
		assert.Equal(t, Idle, h.c.State())
	}
	h.noEvent(t)

	_, err = comp.Result()
	assert.True(t, cserrors.IsCanceled(err))
}

func TestTag_SecondTagWhileProcessingIgnored(t *testing.T) {
	h, gw := newBlockedHarness(t)

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))
	gw.waitEntered(t)
	assert.Equal(t, Processing, h.c.State())
	h.next(t) // tag

	extra := reader.NewMockCard([]byte{0x02})
	h.c.OnTagDiscovered(extra)
	assert.True(t, extra.Closed())

	gw.release <- struct{}{}
	_, err = wait(t, comp)
	require.NoError(t, err)
}

func TestCancel_DuringProcessingDiscardsStaleResult(t *testing.T) {
	h, gw := newBlockedHarness(t)

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	card := reader.NewMockCard([]byte{0x01})
	h.rd.Present(card)
	gw.waitEntered(t)
	h.next(t) // tag

	require.True(t, h.c.Cancel())
	_, err = wait(t, comp)
	require.True(t, cserrors.IsCanceled(err))
	h.next(t) // canceled

	gw.release <- struct{}{}
	require.Eventually(t, func() bool { return h.metrics.Snapshot().StaleResults == 1 }, waitFor, time.Millisecond)

	out, err := comp.Result()
	assert.Nil(t, out)
	assert.True(t, cserrors.IsCanceled(err), "stale result must not replace the cancel outcome")
	assert.True(t, card.Closed())
	h.noEvent(t)
}

func TestStaleWorker_DoesNotResolveNextRequest(t *testing.T) {
	h, gw := newBlockedHarness(t)

	first, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))
	gw.waitEntered(t)
	require.True(t, h.c.Cancel())

	second, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	require.True(t, h.rd.Present(reader.NewMockCard([]byte{0x02})))
	require.Eventually(t, func() bool { return h.c.State() == Processing }, waitFor, time.Millisecond)

	gw.release <- struct{}{} // first (stale) result
	gw.waitEntered(t)
	select {
	case <-second.Done():
		t.Fatal("second request resolved by the first request's result")
	default:
	}

	gw.release <- struct{}{}
	_, err = wait(t, second)
	require.NoError(t, err)
	_, err = first.Result()
	assert.True(t, cserrors.IsCanceled(err))
	assert.EqualValues(t, 1, h.metrics.Snapshot().StaleResults)
}

func TestCancel_AbortsCooperativeSigner(t *testing.T) {
	aborted := make(chan struct{})
	started := make(chan struct{})
	gw := signer.GatewayFunc(func(ctx context.Context, _ signer.Request, _ reader.Session) ([]byte, error) {
		close(started)
		<-ctx.Done()
		close(aborted)
		return nil, ctx.Err()
	})
	h := newHarness(t, gw)

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))
	<-started
	require.True(t, h.c.Cancel())

	select {
	case <-aborted:
	case <-time.After(waitFor):
		t.Fatal("signer context was not canceled")
	}
	_, err = wait(t, comp)
	assert.True(t, cserrors.IsCanceled(err))
	require.Eventually(t, func() bool { return h.metrics.Snapshot().StaleResults == 1 }, waitFor, time.Millisecond)
}

func TestWorkerSaturated_FailsRequest(t *testing.T) {
	h, gw := newBlockedHarness(t)

	// Request 1 occupies the worker.
	_, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))
	gw.waitEntered(t)
	require.True(t, h.c.Cancel())

	// Request 2 fills the queue.
	_, err = h.c.Submit(validRequest())
	require.NoError(t, err)
	h.c.OnTagDiscovered(reader.NewMockCard([]byte{0x02}))
	require.True(t, h.c.Cancel())

	// Request 3 finds no room.
	third, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	card := reader.NewMockCard([]byte{0x03})
	h.c.OnTagDiscovered(card)

	_, err = wait(t, third)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeNFCSignFailed, cserrors.CodeOf(err))
	assert.True(t, card.Closed())
	assert.Equal(t, Idle, h.c.State())
}

func TestCancelRacingTags_ResolvesExactlyOnce(t *testing.T) {
	h := newHarness(t, echoGateway(), func(o *Options) { o.QueueSize = 8 })
	h.c.Unsubscribe()

	for i := 0; i < 50; i++ {
		comp, err := h.c.Submit(validRequest())
		require.NoError(t, err)

		var g errgroup.Group
		var canceled bool
		g.Go(func() error {
			canceled = h.c.Cancel()
			return nil
		})
		g.Go(func() error {
			h.c.OnTagDiscovered(reader.NewMockCard([]byte{byte(i)}))
			return nil
		})
		require.NoError(t, g.Wait())

		out, err := wait(t, comp)
		if canceled {
			assert.True(t, cserrors.IsCanceled(err), "iteration %d", i)
			assert.Nil(t, out)
		} else {
			assert.NoError(t, err, "iteration %d", i)
		}
		require.Eventually(t, func() bool { return h.c.State() == Idle }, waitFor, time.Millisecond)
	}

	snap := h.metrics.Snapshot()
	assert.EqualValues(t, 50, snap.RequestsCompleted+snap.RequestsCanceled)
	assert.EqualValues(t, 0, snap.RequestsActive)
}

func TestCompletion_ResolveOnce(t *testing.T) {
	comp := newCompletion()
	out, err := comp.Result()
	assert.Nil(t, out)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins <- comp.resolve([]byte{byte(i)}, nil)
		}(i)
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)
	<-comp.Done()
}

// ── Worker behaviour ─────────────────────────────────────────────────

func TestWorker_SessionTimeoutFloor(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		card       time.Duration
		want       time.Duration
	}{
		{"floor", 0, time.Second, MinSessionTimeout},
		{"configured above floor", 90 * time.Second, time.Second, 90 * time.Second},
		{"configured below floor", 10 * time.Second, time.Second, MinSessionTimeout},
		{"card already higher", 0, 2 * time.Minute, 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(chan time.Duration, 1)
			gw := signer.GatewayFunc(func(_ context.Context, req signer.Request, sess reader.Session) ([]byte, error) {
				seen <- sess.Timeout()
				return req.Document, nil
			})
			h := newHarness(t, gw, func(o *Options) { o.SessionTimeout = tt.configured })

			comp, err := h.c.Submit(validRequest())
			require.NoError(t, err)
			card := reader.NewMockCard([]byte{0x01})
			card.SetTimeout(tt.card)
			h.rd.Present(card)

			_, err = wait(t, comp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, <-seen)
		})
	}
}

func TestWorker_ConnectRetries(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	card := reader.NewMockCard([]byte{0x01})
	card.ConnectFailures = 2
	h.rd.Present(card)

	_, err = wait(t, comp)
	require.NoError(t, err)
	assert.Equal(t, 3, card.Connects())
}

func TestWorker_ConnectGivesUp(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	card := reader.NewMockCard([]byte{0x01})
	card.ConnectFailures = 10
	h.rd.Present(card)

	_, err = wait(t, comp)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeNFCSignFailed, cserrors.CodeOf(err))
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.True(t, card.Closed())
}

func TestWorker_ClosedSessionNotRetried(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	card := reader.NewMockCard([]byte{0x01})
	require.NoError(t, card.Close())
	h.rd.Present(card)

	_, err = wait(t, comp)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeNFCSignFailed, cserrors.CodeOf(err))
	assert.Contains(t, err.Error(), "session closed")
	assert.NotContains(t, err.Error(), "gave up")
	assert.Equal(t, 0, card.Connects())
}

func TestWorker_SignerFailures(t *testing.T) {
	tests := []struct {
		name    string
		gw      signer.Gateway
		wantMsg string
	}{
		{
			name: "error",
			gw: signer.GatewayFunc(func(context.Context, signer.Request, reader.Session) ([]byte, error) {
				return nil, fmt.Errorf("card removed")
			}),
			wantMsg: "card removed",
		},
		{
			name: "panic",
			gw: signer.GatewayFunc(func(context.Context, signer.Request, reader.Session) ([]byte, error) {
				panic("applet crashed")
			}),
			wantMsg: "signer panicked",
		},
		{
			name:    "nil gateway",
			gw:      nil,
			wantMsg: "no signer configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.gw)
			comp, err := h.c.Submit(validRequest())
			require.NoError(t, err)
			h.next(t)
			card := reader.NewMockCard([]byte{0x01})
			h.rd.Present(card)

			_, err = wait(t, comp)
			require.Error(t, err)
			assert.Equal(t, cserrors.CodeNFCSignFailed, cserrors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)

			h.next(t) // tag
			ev := h.next(t)
			assert.Equal(t, events.Error, ev.Type)
			assert.Equal(t, cserrors.CodeNFCSignFailed, ev.Code)
			assert.True(t, card.Closed())
			assert.False(t, h.rd.Armed())
			assert.Equal(t, Idle, h.c.State())
		})
	}
}

func TestWorker_WritesOutput(t *testing.T) {
	h := newHarness(t, echoGateway())
	path := filepath.Join(t.TempDir(), "signed.pdf")

	req := validRequest()
	req.OutputPath = path
	comp, err := h.c.Submit(req)
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))

	out, err := wait(t, comp)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out, data)
}

func TestWorker_OutputWriteFailure(t *testing.T) {
	h := newHarness(t, echoGateway())

	req := validRequest()
	req.OutputPath = filepath.Join(t.TempDir(), "missing", "signed.pdf")
	comp, err := h.c.Submit(req)
	require.NoError(t, err)
	h.rd.Present(reader.NewMockCard([]byte{0x01}))

	_, err = wait(t, comp)
	require.Error(t, err)
	assert.Equal(t, cserrors.CodeNFCSignFailed, cserrors.CodeOf(err))
	assert.True(t, strings.Contains(err.Error(), "write"))
}

// ── Host lifecycle ───────────────────────────────────────────────────

func TestDetach_CancelsAndReattach(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)
	h.next(t)

	h.c.Detach()
	_, err = wait(t, comp)
	assert.True(t, cserrors.Is(err, cserrors.ErrHostDetached))
	assert.Equal(t, cserrors.CodeCanceled, cserrors.CodeOf(err))
	assert.Equal(t, events.Canceled, h.next(t).Type)
	assert.Equal(t, events.NewState("not_supported"), h.next(t))
	assert.False(t, h.rd.Armed())

	_, err = h.c.Submit(validRequest())
	assert.Equal(t, cserrors.CodeNoActivity, cserrors.CodeOf(err))

	h.c.Attach(h.rd)
	assert.Equal(t, events.NewState("ready"), h.next(t))
	_, err = h.c.Submit(validRequest())
	assert.NoError(t, err)
}

func TestDetach_ResubmitFromObserver(t *testing.T) {
	h := newHarness(t, echoGateway())

	_, err := h.c.Submit(validRequest())
	require.NoError(t, err)

	var resubmitErr error
	var resubmitted bool
	h.c.Subscribe(events.SinkFunc(func(ev events.Event) {
		if ev.Type == events.Canceled && !resubmitted {
			resubmitted = true
			_, resubmitErr = h.c.Submit(validRequest())
		}
	}))
	h.c.Detach()

	require.True(t, resubmitted)
	assert.Equal(t, cserrors.CodeNoActivity, cserrors.CodeOf(resubmitErr))
	assert.Equal(t, Idle, h.c.State())
	assert.False(t, h.rd.Armed())
	assert.False(t, h.c.Cancel())
}

func TestDetach_WhenIdle(t *testing.T) {
	h := newHarness(t, echoGateway())
	h.c.Detach()
	assert.Equal(t, events.NewState("not_supported"), h.next(t))
	h.noEvent(t)
}

func TestShutdown_CancelsPending(t *testing.T) {
	h := newHarness(t, echoGateway())

	comp, err := h.c.Submit(validRequest())
	require.NoError(t, err)

	h.stop()
	require.NoError(t, h.group.Wait())

	_, err = wait(t, comp)
	assert.True(t, cserrors.Is(err, cserrors.ErrCoordinatorDown))
	assert.False(t, h.rd.Armed())

	_, err = h.c.Submit(validRequest())
	assert.True(t, cserrors.Is(err, cserrors.ErrCoordinatorDown))
}

func TestState_MarshalText(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Armed: "armed", Processing: "processing"} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}
