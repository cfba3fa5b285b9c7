// Package bus provides the run-scoped communication channel steps and agents
// use to exchange intermediate data without direct coupling.
//
// Delivery is asynchronous and best-effort within a single run: messages
// published before a subscriber attaches are not replayed, and a handler that
// is slow only delays its own goroutine. One Bus instance is created per run
// and passed explicitly to every agent invocation; there is no package-level
// bus.
package bus

import (
	"errors"
	"sync"
	"time"
)

// ErrNoRecipient is returned by Send when no handler is registered for the
// target agent id.
var ErrNoRecipient = errors.New("bus: no handler registered for target")

// ErrClosed is returned when publishing or sending on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Message is one unit of communication on the bus.
type Message struct {
	// Topic is set for published messages, empty for point-to-point sends.
	Topic string

	// To is the target agent id for point-to-point sends, empty for publishes.
	To string

	Payload any
	Time    time.Time
}

// Handler receives messages. Handlers run on their own goroutine per message
// and must be safe for concurrent invocation.
type Handler func(Message)

// Bus is an in-process publish/subscribe and point-to-point message channel.
// It is safe for arbitrary concurrent writers.
type Bus struct {
	mu       sync.RWMutex
	closed   bool
	nextID   int
	topics   map[string]map[int]Handler
	inboxes  map[string]inbox
	inFlight sync.WaitGroup
}

// inbox tags a point-to-point handler with its registration id so a stale
// cancel cannot remove a replacement handler.
type inbox struct {
	id int
	h  Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		topics:  make(map[string]map[int]Handler),
		inboxes: make(map[string]inbox),
	}
}

// Publish delivers payload to every current subscriber of topic. Subscribers
// that attach later never see it.
func (b *Bus) Publish(topic string, payload any) error {
	msg := Message{Topic: topic, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.inFlight.Add(len(handlers))
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer b.inFlight.Done()
			h(msg)
		}(h)
	}
	return nil
}

// Subscribe attaches a handler to a topic and returns a cancel function that
// detaches it. Multiple subscribers per topic are allowed.
func (b *Bus) Subscribe(topic string, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]Handler)
	}
	b.topics[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topics[topic], id)
	}
}

// Send delivers payload to the single handler registered for agentID.
func (b *Bus) Send(agentID string, payload any) error {
	msg := Message{To: agentID, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	in, ok := b.inboxes[agentID]
	if ok {
		b.inFlight.Add(1)
	}
	b.mu.RUnlock()

	if !ok {
		return ErrNoRecipient
	}
	go func() {
		defer b.inFlight.Done()
		in.h(msg)
	}()
	return nil
}

// Handle registers the point-to-point handler for agentID, replacing any
// previous one. The returned cancel function removes that registration only;
// cancelling after a replacement took over is a no-op.
func (b *Bus) Handle(agentID string, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.inboxes[agentID] = inbox{id: id, h: h}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if in, ok := b.inboxes[agentID]; ok && in.id == id {
			delete(b.inboxes, agentID)
		}
	}
}

// Close stops accepting new messages and waits for in-flight deliveries to
// finish. Called by the orchestrator when the run's result is final.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.inFlight.Wait()
}
