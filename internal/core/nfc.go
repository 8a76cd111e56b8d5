package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ciesign/config"
	"ciesign/internal/appearance"
	"ciesign/internal/coordinator"
	"ciesign/internal/events"
	"ciesign/internal/reader"
	"ciesign/util"
)

// NfcSignMode runs a coordinator for one request and blocks until the
// card has signed the document, the request fails, or CardWait passes.
//
// With Sim set, the simulated reader taps a card of kind Tag after
// TagDelay; with Tag "none" the request waits for a tap that never
// comes, which is useful to exercise cancellation.
type NfcSignMode struct {
	Coordinator *coordinator.Coordinator
	Sim         *reader.Sim
	Tag         string
	TagDelay    time.Duration
	CardWait    time.Duration
	Input       string
	Output      string
	PIN         string
	Appearance  *appearance.Descriptor
	Logger      *util.Logger
}

// Run submits the request and waits for its outcome.
func (m *NfcSignMode) Run(ctx context.Context) error {
	doc, err := os.ReadFile(m.Input)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.Coordinator.Run(gctx) })

	select {
	case <-m.Coordinator.Started():
	case <-gctx.Done():
		if err := g.Wait(); err != nil {
			return err
		}
		return ctx.Err()
	}

	m.Coordinator.Subscribe(events.SinkFunc(m.report))
	defer m.Coordinator.Unsubscribe()

	comp, err := m.Coordinator.Submit(coordinator.Request{
		Document:   doc,
		PIN:        m.PIN,
		Appearance: m.Appearance,
		OutputPath: m.Output,
	})
	if err != nil {
		stop()
		g.Wait() //nolint:errcheck
		return err
	}
	m.Logger.Verbose("request %s submitted (%d bytes)", comp.ID(), len(doc))

	if m.Sim != nil && m.Tag != config.TagNone {
		g.Go(func() error {
			m.tap(gctx)
			return nil
		})
	}

	var timeout <-chan time.Time
	if m.CardWait > 0 {
		t := time.NewTimer(m.CardWait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-comp.Done():
	case <-ctx.Done():
		m.Coordinator.Withdraw(comp)
	case <-timeout:
		m.Logger.Warn("no card within %s", m.CardWait)
		m.Coordinator.Withdraw(comp)
	}
	<-comp.Done()

	stop()
	if err := g.Wait(); err != nil {
		return err
	}

	signed, err := comp.Result()
	if err != nil {
		return err
	}
	m.Logger.Info("signed %s → %s (%d bytes)", m.Input, m.Output, len(signed))
	return nil
}

// tap presents a simulated card after TagDelay.
func (m *NfcSignMode) tap(ctx context.Context) {
	select {
	case <-time.After(m.TagDelay):
	case <-ctx.Done():
		return
	}

	id := uuid.New()
	var sess reader.Session
	switch m.Tag {
	case config.TagNfcA:
		sess = &reader.NfcATag{TagID: id[:7]}
	default:
		sess = reader.NewMockCard(id[:7])
	}
	if !m.Sim.Present(sess) {
		sess.Close() //nolint:errcheck
		m.Logger.Debug("simulated tap ignored, reader not armed")
	}
}

// report turns coordinator events into user-facing log lines.
func (m *NfcSignMode) report(ev events.Event) {
	switch ev.Type {
	case events.Listening:
		m.Logger.Info("hold the card against the reader")
	case events.Tag:
		m.Logger.Info("card %s detected, keep it still", ev.TagID)
	case events.State:
		m.Logger.Verbose("reader %s", ev.Status)
	case events.Error:
		m.Logger.Verbose("request failed: %s", ev.Code)
	case events.Canceled:
		m.Logger.Verbose("request canceled")
	case events.Completed:
		m.Logger.Verbose("card signed %d bytes", ev.ByteCount)
	}
}
