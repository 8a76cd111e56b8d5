package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Completion is the single-resolution handle of an admitted request.
// Exactly one outcome is ever recorded; later attempts are ignored.
type Completion struct {
	id   string
	done chan struct{}
	once sync.Once

	out []byte
	err error
}

func newCompletion() *Completion {
	return &Completion{id: uuid.NewString(), done: make(chan struct{})}
}

// ID identifies the request in logs.
func (c *Completion) ID() string { return c.id }

// Done is closed once the request has an outcome.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Result returns the outcome.  It must only be called after Done is
// closed; before that it returns nil, nil.
func (c *Completion) Result() ([]byte, error) {
	select {
	case <-c.done:
		return c.out, c.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request has an outcome or ctx ends.
func (c *Completion) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.out, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve records the outcome and reports whether this call won.
func (c *Completion) resolve(out []byte, err error) bool {
	won := false
	c.once.Do(func() {
		c.out, c.err = out, err
		won = true
		close(c.done)
	})
	return won
}
