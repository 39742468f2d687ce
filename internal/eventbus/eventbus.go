// Package eventbus implements the single-threaded, synchronous, in-process
// pub/sub bus described in spec §4.5: typed dispatch by event type, plus
// wildcard listeners, fan-out in registration order, and panic isolation.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is one engine event (spec §3.3/§6.4).
type Event struct {
	ID        string
	Type      string
	BoardID   string
	HexID     string
	Data      any
	Timestamp time.Time
}

// Handler receives a dispatched event. A handler must not panic into the
// bus: panics are recovered, logged, and isolated from the rest of fan-out.
type Handler func(Event)

type subscription struct {
	id      string
	typ     string
	handler Handler
	removed bool
}

// Bus is a synchronous, single-threaded event bus. All dispatch happens on
// the calling goroutine of Publish; there is no internal queue or worker.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription // event type (or Wildcard) -> subs, in registration order
	log  *slog.Logger
}

// New creates an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: make(map[string][]*subscription), log: log}
}

// Subscription is an opaque handle returned by Subscribe, used to
// Unsubscribe. It is safe to call Unsubscribe during dispatch; removal
// takes effect on the next Publish.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Unsubscribe removes the subscription. O(1): it marks the subscription
// removed in place rather than compacting the slice; compaction happens
// lazily the next time that event type is dispatched.
func (s Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.sub.removed = true
}

// Subscribe registers h for events of type typ (or Wildcard for every
// type), returning a handle usable with Unsubscribe.
func (b *Bus) Subscribe(typ string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{id: uuid.NewString(), typ: typ, handler: h}
	b.subs[typ] = append(b.subs[typ], sub)
	return Subscription{bus: b, sub: sub}
}

// Publish dispatches evt to every subscriber of evt.Type, then to every
// wildcard subscriber, each in the order they were registered. Delivery for
// a single publisher call is synchronous and ordered (spec §5 "events are
// delivered in publish order to each subscriber").
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	typed := b.compactAndCopyLocked(evt.Type)
	wild := b.compactAndCopyLocked(Wildcard)
	b.mu.Unlock()

	for _, sub := range typed {
		b.dispatchOne(sub, evt)
	}
	if evt.Type != Wildcard {
		for _, sub := range wild {
			b.dispatchOne(sub, evt)
		}
	}
}

// compactAndCopyLocked drops removed subscriptions from b.subs[typ] and
// returns a snapshot slice safe to range over after unlocking (so handlers
// that call Unsubscribe or Subscribe during dispatch never race the live
// slice).
func (b *Bus) compactAndCopyLocked(typ string) []*subscription {
	live := b.subs[typ][:0:0]
	for _, sub := range b.subs[typ] {
		if !sub.removed {
			live = append(live, sub)
		}
	}
	b.subs[typ] = live
	out := make([]*subscription, len(live))
	copy(out, live)
	return out
}

func (b *Bus) dispatchOne(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: subscriber panicked, isolating",
				"event_type", evt.Type, "board_id", evt.BoardID, "panic", r)
		}
	}()
	sub.handler(evt)
}
