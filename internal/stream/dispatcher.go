package stream

import (
	"log/slog"
	"sync"

	"github.com/vivavox/vivavox/pkg/audio"
)

// EventKind enumerates the typed events a connection can emit.
type EventKind int

const (
	// EventConnect fires once when a connection starts running.
	EventConnect EventKind = iota

	// EventDisconnect fires once when a connection has torn down.
	EventDisconnect

	// EventAudio carries one inbound PCM frame.
	EventAudio

	// EventControl carries a control envelope (start_session, end_session).
	EventControl

	// EventText carries a typed answer.
	EventText

	// EventBargeIn carries an explicit client interruption request.
	EventBargeIn
)

// Event is a single dispatched unit. Frame is set for EventAudio; Message
// is set for control, text and barge-in events.
type Event struct {
	Kind    EventKind
	Conn    Client
	Frame   audio.AudioFrame
	Message ClientMessage
}

// Handler consumes one event. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Subscription identifies one registered handler and can remove it.
type Subscription struct {
	d    *Dispatcher
	kind EventKind
	id   uint64
}

// Unsubscribe removes the handler. Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	if s.d == nil {
		return
	}
	s.d.remove(s.kind, s.id)
	s.d = nil
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Dispatcher is a typed publish/subscribe hub. Handlers for a kind are
// invoked in registration order; a panicking handler is isolated and logged
// so the remaining handlers still run.
type Dispatcher struct {
	log    *slog.Logger
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]subscriber
}

// NewDispatcher returns an empty dispatcher. A nil logger falls back to
// slog.Default.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:  log,
		subs: make(map[EventKind][]subscriber),
	}
}

// Subscribe registers handler for kind and returns its subscription handle.
func (d *Dispatcher) Subscribe(kind EventKind, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.subs[kind] = append(d.subs[kind], subscriber{id: id, handler: handler})
	return &Subscription{d: d, kind: kind, id: id}
}

// Publish delivers ev to every handler registered for its kind, in
// registration order.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	subs := d.subs[ev.Kind]
	// Copy under lock so a handler calling Subscribe/Unsubscribe cannot
	// mutate the slice mid-iteration.
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	d.mu.RUnlock()

	for _, s := range snapshot {
		d.invoke(s, ev)
	}
}

func (d *Dispatcher) invoke(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("stream: event handler panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	s.handler(ev)
}

func (d *Dispatcher) remove(kind EventKind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subs[kind]
	for i, s := range subs {
		if s.id == id {
			d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}
