package coordinator

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event names, as used by the UI layer.
const (
	EventConnectionChange   = "connectionChange"
	EventAudioReceived      = "audioReceived"
	EventTextReceived       = "textReceived"
	EventUserInteraction    = "userInteractionChange"
	EventListeningChange    = "listeningChange"
	EventAutoListening      = "autoListeningEnabled"
	EventRestoreState       = "restoreState"
	EventReconnectExhausted = "reconnectExhausted"
)

// Event is published on the Bus.
type Event interface {
	Name() string
}

// ConnectionChanged reports every open and close of the socket.
type ConnectionChanged struct {
	Connected bool
}

// AudioReceived carries a reply clip from the backend.
type AudioReceived struct {
	Clip *AudioClip
}

// TextReceived carries a text frame, verbatim.
type TextReceived struct {
	Text string
}

// UserInteractionChanged reports the user-interacted flag.
type UserInteractionChanged struct {
	Interacted bool
}

// ListeningChanged reports the listening flag.
type ListeningChanged struct {
	Listening bool
}

// AutoListeningChanged reports the result of the autoplay probe.
// Enabled is false when playback needs an explicit user action first.
type AutoListeningChanged struct {
	Enabled bool
}

// StateRestored is published on connect when a previous session's
// interaction state was loaded from the preference store.
type StateRestored struct {
	State State
}

// ReconnectExhausted is published when automatic reconnection gives up.
type ReconnectExhausted struct {
	Attempts int
}

func (ConnectionChanged) Name() string      { return EventConnectionChange }
func (AudioReceived) Name() string          { return EventAudioReceived }
func (TextReceived) Name() string           { return EventTextReceived }
func (UserInteractionChanged) Name() string { return EventUserInteraction }
func (ListeningChanged) Name() string       { return EventListeningChange }
func (AutoListeningChanged) Name() string   { return EventAutoListening }
func (StateRestored) Name() string          { return EventRestoreState }
func (ReconnectExhausted) Name() string     { return EventReconnectExhausted }

// Bus delivers events to subscribers in publish order.
//
// Publish never blocks: events are queued and a single dispatcher goroutine
// calls subscribers one at a time, so a subscriber may publish or
// unsubscribe from inside its callback.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queued
	subs   []*subscriber
	closed bool
	done   chan struct{}
}

type queued struct {
	e     Event
	after func()
}

type subscriber struct {
	fn     func(Event)
	active atomic.Bool
}

// NewBus creates a Bus and starts its dispatcher.
func NewBus() *Bus {
	b := &Bus{done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.dispatch()
	return b
}

// Subscribe registers fn for every event published after this call.
// The returned function removes the subscription; it is safe to call more
// than once.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	s := &subscriber{fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return func() {
		if !s.active.Swap(false) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub == s {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

// Publish queues e for delivery. Events published after Close are dropped.
func (b *Bus) Publish(e Event) {
	b.PublishThen(e, nil)
}

// PublishThen queues e and runs after on the dispatcher once every
// subscriber has seen e. After Close, e is dropped and after runs at once.
func (b *Bus) PublishThen(e Event, after func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if after != nil {
			after()
		}
		return
	}
	b.queue = append(b.queue, queued{e: e, after: after})
	b.cond.Signal()
	b.mu.Unlock()
}

// Close delivers the events already queued, then stops the dispatcher.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		q := b.queue[0]
		b.queue[0] = queued{}
		b.queue = b.queue[1:]
		subs := b.subs
		b.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() {
				deliver(s.fn, q.e)
			}
		}
		if q.after != nil {
			q.after()
		}
	}
}

func deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", e.Name(), "panic", r)
		}
	}()
	fn(e)
}
