package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	cserrors "ciesign/internal/errors"
	"ciesign/internal/events"
	"ciesign/internal/reader"
	"ciesign/internal/retry"
	"ciesign/util"
)

// Run starts the worker and the coordination loop and blocks until ctx
// ends.  On return the pending request, if any, has been canceled with
// ErrCoordinatorDown and every session still queued has been closed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already running")
	}
	c.running = true
	c.runCtx = ctx
	c.mu.Unlock()
	c.startOnce.Do(func() { close(c.started) })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.work(ctx)
	}()

	c.logger.Debug("coordination loop started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			wg.Wait()
			c.drain()
			c.logger.Debug("coordination loop stopped")
			return nil
		case sess := <-c.tags:
			c.OnTagDiscovered(sess)
		}
	}
}

func (c *Coordinator) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.abort(cserrors.ErrCoordinatorDown)
}

// drain closes sessions that were delivered or queued but never served.
func (c *Coordinator) drain() {
	for {
		select {
		case sess := <-c.tags:
			closeSession(sess, c.logger)
		case j := <-c.jobs:
			closeSession(j.sess, c.logger)
		default:
			return
		}
	}
}

// deliver is the reader callback.  It runs on the reader's goroutine and
// only forwards the session to the coordination loop.
func (c *Coordinator) deliver(sess reader.Session) {
	select {
	case c.tags <- sess:
	default:
		c.logger.Warn("discovery backlog full, dropping tag %s", reader.TagID(sess))
		closeSession(sess, c.logger)
	}
}

// OnTagDiscovered moves an armed request to processing and hands the
// session to the worker.  Outside the Armed state the session is closed
// and ignored.  It never blocks on card I/O.
func (c *Coordinator) OnTagDiscovered(sess reader.Session) {
	c.mu.Lock()
	p := c.pending
	if c.state != Armed || p == nil {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("ignoring tag while %s", state)
		closeSession(sess, c.logger)
		return
	}

	if !sess.IsoDep() {
		c.mu.Unlock()
		closeSession(sess, c.logger)
		if p = c.claim(p.token); p != nil {
			c.fail(p, cserrors.Sign(cserrors.CodeUnsupportedTag, "tag does not support ISO-DEP"))
		}
		return
	}

	c.state = Processing
	c.mu.Unlock()

	id := reader.TagID(sess)
	c.metrics.TagDiscovered()
	c.logger.Verbose("request %s: tag %s discovered", p.completion.ID(), id)
	c.events.Emit(events.NewTag(id))

	c.mu.Lock()
	if c.pending != p {
		// Canceled while the tag event was emitted.
		c.mu.Unlock()
		closeSession(sess, c.logger)
		return
	}
	j := job{token: p.token, id: p.completion.ID(), req: p.req, sess: sess, ctx: p.ctx}
	select {
	case c.jobs <- j:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	closeSession(sess, c.logger)
	if p = c.claim(p.token); p != nil {
		c.fail(p, cserrors.Sign(cserrors.CodeNFCSignFailed, "signing worker is busy with a previous card"))
	}
}

// ── Worker ───────────────────────────────────────────────────────────

func (c *Coordinator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-c.jobs:
			out, err := c.process(j)
			c.finish(j, out, err)
		}
	}
}

// process runs the card exchange.  The session is always closed before
// it returns.
func (c *Coordinator) process(j job) (out []byte, err error) {
	defer closeSession(j.sess, c.logger)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signer panicked: %v", r)
		}
	}()

	timeout := j.sess.Timeout()
	if c.sessionTimeout > timeout {
		timeout = c.sessionTimeout
	}
	if timeout < MinSessionTimeout {
		timeout = MinSessionTimeout
	}
	j.sess.SetTimeout(timeout)

	err = c.connect.Do(j.ctx, func(attempt int) error {
		if err := j.sess.Connect(); err != nil {
			c.logger.Debug("request %s: connect attempt %d: %v", j.id, attempt, err)
			if cserrors.Is(err, reader.ErrSessionClosed) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if c.gateway == nil {
		return nil, fmt.Errorf("no signer configured")
	}
	start := time.Now()
	out, err = c.gateway.Sign(j.ctx, j.req.signerRequest(), j.sess)
	c.logger.Debug("request %s: signer returned after %s", j.id, time.Since(start).Truncate(time.Millisecond))
	return out, err
}

// finish resolves the request that produced j, unless it was already
// resolved by another path.
func (c *Coordinator) finish(j job, out []byte, err error) {
	p := c.claim(j.token)
	if p == nil {
		c.metrics.StaleResult()
		c.logger.Verbose("request %s: discarding result of a request that was already resolved", j.id)
		return
	}

	if err == nil && p.req.OutputPath != "" {
		if werr := util.WriteFileAtomic(p.req.OutputPath, out, 0o644); werr != nil {
			err = fmt.Errorf("write %s: %w", p.req.OutputPath, werr)
		}
	}
	if err != nil {
		c.fail(p, cserrors.Wrap(cserrors.CodeNFCSignFailed, err))
		return
	}

	p.completion.resolve(out, nil)
	p.cancel()
	c.metrics.RequestCompleted(len(out))
	c.logger.Info("request %s signed, %d bytes", p.completion.ID(), len(out))
	c.events.Emit(events.NewCompleted(len(out)))
}

// fail resolves a claimed request with se.
func (c *Coordinator) fail(p *pending, se *cserrors.SignError) {
	p.completion.resolve(nil, se)
	p.cancel()
	c.metrics.RequestFailed(se.Error())
	c.logger.Warn("request %s failed: %v", p.completion.ID(), se)
	c.events.Emit(events.NewError(se.Code, se.Message))
}

func closeSession(sess reader.Session, logger *util.Logger) {
	if err := sess.Close(); err != nil {
		logger.Debug("close session: %v", err)
	}
}
