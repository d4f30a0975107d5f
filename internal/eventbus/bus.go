package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Handle is returned by Subscribe and cancels the subscription when closed.
type Handle struct {
	bus *Bus
	id  uint64
}

// Cancel unsubscribes the handle's sink. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.bus.unsubscribe(h.id)
}

// Bus is a per-driver, instance-owned event bus (spec §9: "no process-wide
// statics except the event bus, which itself is instance-per-driver").
// Publish never blocks on a subscriber: each Emit is dispatched to the
// subscriber's own sink, which is responsible for its own buffering.
type Bus struct {
	sessionID string

	mu          sync.RWMutex
	subscribers map[uint64]Sink
	nextSubID   uint64

	sequence uint64 // atomic, monotonic per bus
}

// New creates an event bus for the given session.
func New(sessionID string) *Bus {
	return &Bus{
		sessionID:   sessionID,
		subscribers: make(map[uint64]Sink),
	}
}

// Subscribe registers a sink and returns a cancellable handle.
func (b *Bus) Subscribe(sink Sink) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = sink
	return &Handle{bus: b, id: id}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// nextSeq returns the next monotonic sequence number for this bus.
func (b *Bus) nextSeq() uint64 {
	return atomic.AddUint64(&b.sequence, 1)
}

// Publish dispatches e (with SessionID/Time/Sequence populated) to every
// current subscriber. Publish itself does not block on slow subscribers;
// each Sink implementation owns that responsibility.
func (b *Bus) Publish(ctx context.Context, e orch.Event) orch.Event {
	e.SessionID = b.sessionID
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Sequence = b.nextSeq()

	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(ctx, e)
	}
	return e
}
