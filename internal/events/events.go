// Package events broadcasts coordinator transitions to at most one
// observer.
//
// Emission is fire-and-forget: with no observer it does nothing, and an
// observer can neither block nor fail the transition that produced the
// event.  There is no replay; an observer only sees what happens after
// it subscribed.
package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"ciesign/util"
)

// Type names an event kind on the wire.
type Type string

const (
	Listening Type = "listening"
	Tag       Type = "tag"
	State     Type = "state"
	Error     Type = "error"
	Completed Type = "completed"
	Canceled  Type = "canceled"
)

// Event is one tagged notification.  Only the fields of its Type are set.
type Event struct {
	Type      Type   `json:"type"`
	TagID     string `json:"tagId,omitempty"`
	Status    string `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	ByteCount int    `json:"byteCount,omitempty"`
}

func (e Event) String() string {
	switch e.Type {
	case Tag:
		return fmt.Sprintf("tag{%s}", e.TagID)
	case State:
		return fmt.Sprintf("state{%s}", e.Status)
	case Error:
		return fmt.Sprintf("error{%s,%q}", e.Code, e.Message)
	case Completed:
		return fmt.Sprintf("completed{%d}", e.ByteCount)
	default:
		return string(e.Type)
	}
}

// JSON encodes the event the way host event streams expect it.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

func NewListening() Event                 { return Event{Type: Listening} }
func NewTag(id string) Event              { return Event{Type: Tag, TagID: id} }
func NewState(status string) Event        { return Event{Type: State, Status: status} }
func NewError(code, message string) Event { return Event{Type: Error, Code: code, Message: message} }
func NewCompleted(n int) Event            { return Event{Type: Completed, ByteCount: n} }
func NewCanceled() Event                  { return Event{Type: Canceled} }

// Sink receives events.  Send must not block.
type Sink interface {
	Send(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Send implements Sink.
func (f SinkFunc) Send(e Event) { f(e) }

// Broadcaster holds the single optional sink.
type Broadcaster struct {
	mu     sync.Mutex
	sink   Sink
	logger *util.Logger
}

// NewBroadcaster returns a broadcaster with no observer.
func NewBroadcaster(logger *util.Logger) *Broadcaster {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Broadcaster{logger: logger.Named("events")}
}

// Evictable is implemented by sinks that need to know when they stop
// receiving events because a newer observer replaced them or the
// observer was removed.
type Evictable interface {
	Evicted()
}

// Subscribe installs sink, replacing any previous observer.
func (b *Broadcaster) Subscribe(sink Sink) {
	b.mu.Lock()
	old := b.sink
	b.sink = sink
	b.mu.Unlock()
	if !sameSink(old, sink) {
		evict(old)
	}
}

// Unsubscribe removes the observer.
func (b *Broadcaster) Unsubscribe() {
	b.mu.Lock()
	old := b.sink
	b.sink = nil
	b.mu.Unlock()
	evict(old)
}

// Release removes sink if it is still the observer.  It is a no-op
// when sink has since been replaced or is not comparable (SinkFunc).
func (b *Broadcaster) Release(sink Sink) {
	b.mu.Lock()
	if sink != nil && sameSink(b.sink, sink) {
		b.sink = nil
	}
	b.mu.Unlock()
}

// sameSink compares sinks without panicking on uncomparable types.
func sameSink(a, b Sink) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func evict(sink Sink) {
	if e, ok := sink.(Evictable); ok {
		e.Evicted()
	}
}

// Subscribed reports whether an observer is installed.
func (b *Broadcaster) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil
}

// Emit delivers e to the observer, if any.
func (b *Broadcaster) Emit(e Event) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("observer panicked on %s: %v", e, r)
		}
	}()
	b.logger.Debug("emit %s", e)
	sink.Send(e)
}

// ChanSink is a buffered channel sink.  Events that do not fit in the
// buffer are dropped.  Done is closed once the sink is evicted.
type ChanSink struct {
	C chan Event

	mu      sync.Mutex
	dropped int
	done    chan struct{}
	once    sync.Once
}

// NewChanSink returns a sink buffering up to size events.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{C: make(chan Event, size), done: make(chan struct{})}
}

// Send implements Sink.
func (s *ChanSink) Send(e Event) {
	select {
	case s.C <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Evicted implements Evictable.
func (s *ChanSink) Evicted() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed when the broadcaster stops delivering to s.
func (s *ChanSink) Done() <-chan struct{} { return s.done }

// Dropped returns how many events did not fit in the buffer.
func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
