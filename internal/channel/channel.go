// Package channel provides the per-connection event transport the broker is
// built on: a bidirectional endpoint exchanging named events, with one-shot
// acknowledgements for request-shaped events. Handlers on one endpoint run
// strictly serialized; distinct endpoints are serviced independently.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when operating on a closed endpoint, or when an
// in-flight request is cut off by the channel closing.
var ErrClosed = errors.New("channel closed")

// EventDisconnect is dispatched on both sides when an endpoint closes.
const EventDisconnect = "disconnect"

// AllEvents subscribes a handler to every event arriving at the endpoint,
// after any handlers registered for the exact name.
const AllEvents = "*"

// Handler is invoked for each matching inbound message.
type Handler func(msg *Message)

// Message is one inbound event. Reply answers a request-shaped message;
// it is a no-op for fire-and-forget events and on second invocation.
type Message struct {
	Event string
	Data  any

	ack *pendingAck
}

// NeedsAck reports whether the sender is waiting for a reply.
func (m *Message) NeedsAck() bool {
	return m.ack != nil
}

// Reply delivers result to the requester exactly once. Delivery is
// asynchronous: the reply never runs on the caller's stack, even with a zero
// latency setting. Returns false if the message carries no ack or was
// already answered.
func (m *Message) Reply(result any) bool {
	if m.ack == nil || !m.ack.replied.CompareAndSwap(false, true) {
		return false
	}
	ack := m.ack
	time.AfterFunc(ack.delay, func() {
		ack.src.settle(ack.id, result, nil)
	})
	return true
}

type pendingAck struct {
	id      uint64
	src     *Endpoint
	delay   time.Duration
	replied atomic.Bool
}

type envelope struct {
	event string
	data  any
	ack   *pendingAck
}

type result struct {
	val any
	err error
}

// Subscription identifies one registered handler so it can be cancelled.
type Subscription struct {
	end     *Endpoint
	event   string
	handler Handler
	id      uint64
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.end == nil {
		return
	}
	s.end.removeSubscription(s)
}

// Endpoint is one side of a bidirectional event channel. Events emitted here
// are dispatched to the peer's handlers on the peer's dispatch goroutine.
type Endpoint struct {
	mu       sync.Mutex
	handlers map[string][]*Subscription
	pending  map[uint64]chan result
	nextID   uint64

	peer  *Endpoint
	inbox chan envelope
	done  chan struct{}
	once  sync.Once
	delay time.Duration
}

const inboxSize = 64

// Pair returns two endpoints wired back to back in process. delay is applied
// to ack delivery to keep callers honest about asynchronous acknowledgement.
func Pair(delay time.Duration) (*Endpoint, *Endpoint) {
	a := newEndpoint(delay)
	b := newEndpoint(delay)
	a.peer = b
	b.peer = a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func newEndpoint(delay time.Duration) *Endpoint {
	return &Endpoint{
		handlers: make(map[string][]*Subscription),
		pending:  make(map[uint64]chan result),
		inbox:    make(chan envelope, inboxSize),
		done:     make(chan struct{}),
		delay:    delay,
	}
}

// Subscribe registers a handler for the named event. Handlers for one name
// run in registration order.
func (e *Endpoint) Subscribe(event string, h Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	sub := &Subscription{end: e, event: event, handler: h, id: e.nextID}
	e.handlers[event] = append(e.handlers[event], sub)
	return sub
}

// Unsubscribe removes every handler registered for the named event.
func (e *Endpoint) Unsubscribe(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

func (e *Endpoint) removeSubscription(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[sub.event]
	for i, s := range subs {
		if s.id == sub.id {
			e.handlers[sub.event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit sends a fire-and-forget event to the peer.
func (e *Endpoint) Emit(event string, data any) error {
	return e.send(envelope{event: event, data: data})
}

// Request sends a request-shaped event and waits for its one-shot
// acknowledgement, the context deadline, or channel close — whichever comes
// first. A reply arriving after the context expires is discarded.
func (e *Endpoint) Request(ctx context.Context, event string, data any) (any, error) {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	e.nextID++
	id := e.nextID
	ch := make(chan result, 1)
	e.pending[id] = ch
	e.mu.Unlock()

	env := envelope{event: event, data: data, ack: &pendingAck{id: id, src: e, delay: e.delay}}
	if err := e.send(env); err != nil {
		e.dropPending(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		e.dropPending(id)
		return nil, ctx.Err()
	case <-e.done:
		e.dropPending(id)
		return nil, ErrClosed
	}
}

func (e *Endpoint) send(env envelope) error {
	peer := e.peer
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case peer.inbox <- env:
		return nil
	case <-peer.done:
		return ErrClosed
	case <-e.done:
		return ErrClosed
	}
}

// settle resolves a pending request. Unknown ids (timed out, already
// resolved, or failed by close) are ignored.
func (e *Endpoint) settle(id uint64, val any, err error) {
	e.mu.Lock()
	ch, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if ok {
		ch <- result{val: val, err: err}
	}
}

func (e *Endpoint) dropPending(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// failPending resolves every in-flight request with ErrClosed.
func (e *Endpoint) failPending() {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[uint64]chan result)
	e.mu.Unlock()
	for _, ch := range pending {
		ch <- result{err: ErrClosed}
	}
}

func (e *Endpoint) dispatch() {
	for {
		select {
		case env := <-e.inbox:
			if env.event == EventDisconnect {
				// Peer went away mid-request: nothing will answer.
				e.failPending()
			}
			e.runHandlers(&Message{Event: env.event, Data: env.data, ack: env.ack})
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) runHandlers(msg *Message) {
	e.mu.Lock()
	subs := e.handlers[msg.Event]
	if msg.Event != AllEvents {
		subs = append(subs[:len(subs):len(subs)], e.handlers[AllEvents]...)
	}
	snapshot := make([]*Subscription, len(subs))
	copy(snapshot, subs)
	e.mu.Unlock()

	for _, sub := range snapshot {
		sub.handler(msg)
	}
}

// Close notifies the peer, fires local disconnect handlers synchronously,
// fails in-flight requests, and releases the endpoint. Idempotent.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		_ = e.send(envelope{event: EventDisconnect})
		e.runHandlers(&Message{Event: EventDisconnect})
		close(e.done)
		e.failPending()
	})
	return nil
}
