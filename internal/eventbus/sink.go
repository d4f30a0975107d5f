// Package eventbus implements the typed publish/subscribe event bus shared
// by the Team, Office, and Panel drivers. It is grounded on the reference implementation's
// internal/agent/event_sink.go and internal/agent/event_emitter.go: a Sink
// interface dispatches events, subscribers never block the publisher, and a
// monotonic per-bus sequence counter orders events from a single source.
package eventbus

import (
	"context"

	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Sink receives published events. Implementations must not block the
// publishing goroutine for long; slow consumers should buffer internally.
type Sink interface {
	Emit(ctx context.Context, e orch.Event)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, orch.Event) {}

// ChanSink delivers events to a buffered channel, dropping the event rather
// than blocking when the buffer is full or the context is done — mirrors
// the reference implementation's ChanSink non-blocking select/default send.
type ChanSink struct {
	ch chan orch.Event
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan orch.Event, buffer)}
}

// Events returns the channel events are delivered on.
func (s *ChanSink) Events() <-chan orch.Event {
	return s.ch
}

// Emit implements Sink.
func (s *ChanSink) Emit(ctx context.Context, e orch.Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
		// buffer full: drop rather than block the publisher
	}
}

// Close closes the underlying channel. Calling Emit after Close panics;
// callers must stop publishing before closing.
func (s *ChanSink) Close() {
	close(s.ch)
}

// MultiSink fans an event out to every non-nil member sink.
type MultiSink struct {
	Sinks []Sink
}

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, e orch.Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// CallbackSink wraps a plain function as a Sink.
type CallbackSink func(ctx context.Context, e orch.Event)

// Emit implements Sink.
func (f CallbackSink) Emit(ctx context.Context, e orch.Event) {
	f(ctx, e)
}
