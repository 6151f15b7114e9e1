package dispatch

import (
	"context"

	"github.com/nexusofdoom/Streamer-Insight-App/telemetry"
)

// Sink receives drained events. Implementations are called from the single
// consumer goroutine only, so they need no internal locking, but they must
// tolerate being invoked from a goroutine they do not own.
type Sink interface {
	OnChat(ChatEvent)
	OnStatus(StatusChange)
}

type envelope struct {
	chat   *ChatEvent
	status *StatusChange
}

// Dispatcher is a bounded FIFO queue with many producers and one consumer.
// Submissions from a single goroutine are drained in that goroutine's call
// order; there is no reordering or batching.
type Dispatcher struct {
	events chan envelope
}

// New returns a Dispatcher with the given buffer capacity. A full buffer
// blocks producers rather than dropping events.
func New(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{events: make(chan envelope, buffer)}
}

// Chat submits a chat event for the consumer.
func (d *Dispatcher) Chat(ev ChatEvent) {
	d.events <- envelope{chat: &ev}
	telemetry.SetDispatchDepth(len(d.events))
}

// Status submits a status-change notification for the consumer.
func (d *Dispatcher) Status(sc StatusChange) {
	d.events <- envelope{status: &sc}
	telemetry.SetDispatchDepth(len(d.events))
}

// Depth reports the number of queued events.
func (d *Dispatcher) Depth() int { return len(d.events) }

// Run drains events into sink until ctx is cancelled. It is the single
// consumer loop; only one Run may be active per Dispatcher.
func (d *Dispatcher) Run(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.events:
			telemetry.SetDispatchDepth(len(d.events))
			if env.chat != nil {
				sink.OnChat(*env.chat)
			} else if env.status != nil {
				sink.OnStatus(*env.status)
			}
		}
	}
}
