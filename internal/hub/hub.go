// Package hub fans global chat frames out to every subscribed session.
//
// A single Run goroutine owns the subscriber set and serializes subscribe,
// unsubscribe and publish requests. Because publishing hands the frame to
// that goroutine over an unbuffered channel, a subscription made after
// Publish returns never receives the frame, and frames published by one
// goroutine reach every subscriber in publish order.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/messenger/internal/metrics"
)

var (
	// ErrHubClosed is returned by a stopped hub and is the Err of every
	// subscription it closed while shutting down.
	ErrHubClosed = errors.New("hub closed")

	// ErrSlowSubscriber is the Err of a subscription evicted because its
	// buffer was full under OverflowDisconnect.
	ErrSlowSubscriber = errors.New("subscriber too slow, disconnected")
)

// OverflowPolicy decides what happens when a subscriber's buffer is full.
type OverflowPolicy int

const (
	// OverflowDisconnect closes the subscription with ErrSlowSubscriber.
	OverflowDisconnect OverflowPolicy = iota
	// OverflowDrop discards the frame for that subscriber and counts it.
	OverflowDrop
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDrop:
		return "drop"
	default:
		return "disconnect"
	}
}

// ParseOverflowPolicy accepts "disconnect" or "drop".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disconnect":
		return OverflowDisconnect, nil
	case "drop":
		return OverflowDrop, nil
	}
	return OverflowDisconnect, fmt.Errorf("unknown overflow policy %q", s)
}

// DefaultBuffer is the per-subscriber buffer used when Options.Buffer is unset.
const DefaultBuffer = 256

// Options configures a Hub.
type Options struct {
	Buffer   int
	Overflow OverflowPolicy
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Subscription receives every frame published while it is registered.
type Subscription struct {
	id      uint64
	ch      chan []byte
	dropped atomic.Uint64

	mu  sync.Mutex
	err error
}

// C returns the frame channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Err reports why a closed subscription ended: ErrSlowSubscriber,
// ErrHubClosed, or nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many frames were discarded for this subscriber under
// OverflowDrop.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 {
	return s.id
}

func (s *Subscription) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Hub manages the subscriber set and the broadcast fan-out.
type Hub struct {
	subscribers map[*Subscription]struct{}
	broadcast   chan []byte
	register    chan *Subscription
	unregister  chan *Subscription
	mutex       sync.RWMutex
	nextID      atomic.Uint64

	buffer   int
	overflow OverflowPolicy
	metrics  *metrics.Metrics
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Hub. Call Run in its own goroutine before using it.
func New(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[*Subscription]struct{}),
		broadcast:   make(chan []byte),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		buffer:      opts.Buffer,
		overflow:    opts.Overflow,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Run processes hub requests until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			h.subscribers[sub] = struct{}{}
			count := len(h.subscribers)
			h.mutex.Unlock()
			h.log.Debug("subscriber registered", "subscriber", sub.id, "subscribers", count)

		case sub := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.subscribers[sub]
			delete(h.subscribers, sub)
			count := len(h.subscribers)
			h.mutex.Unlock()
			if ok {
				sub.end(nil)
				h.log.Debug("subscriber unregistered", "subscriber", sub.id, "subscribers", count)
			}

		case frame := <-h.broadcast:
			h.handleBroadcast(frame)
		}
	}
}

// Subscribe registers a new subscription. When it returns, every frame
// published afterwards is delivered to it.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	sub := &Subscription{
		id: h.nextID.Add(1),
		ch: make(chan []byte, h.buffer),
	}

	select {
	case h.register <- sub:
		return sub, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes sub and closes its channel. It is safe to call more
// than once and after the subscription was evicted.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.ctx.Done():
	}
}

// Publish hands frame to the run loop. It blocks only until the loop accepts
// the frame, never on subscribers.
func (h *Hub) Publish(ctx context.Context, frame []byte) error {
	select {
	case h.broadcast <- frame:
		h.metrics.Broadcast()
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// handleBroadcast queues frame on every subscriber without blocking and
// applies the overflow policy to the ones whose buffer is full.
func (h *Hub) handleBroadcast(frame []byte) {
	var slow []*Subscription

	for sub := range h.subscribers {
		select {
		case sub.ch <- frame:
		default:
			if h.overflow == OverflowDrop {
				sub.dropped.Add(1)
				h.metrics.BroadcastDropped()
				h.log.Warn("subscriber buffer full, frame dropped", "subscriber", sub.id, "dropped", sub.dropped.Load())
				continue
			}
			slow = append(slow, sub)
		}
	}

	h.removeSlowSubscribers(slow)
}

func (h *Hub) removeSlowSubscribers(slow []*Subscription) {
	if len(slow) == 0 {
		return
	}

	h.mutex.Lock()
	for _, sub := range slow {
		delete(h.subscribers, sub)
	}
	count := len(h.subscribers)
	h.mutex.Unlock()

	for _, sub := range slow {
		sub.end(ErrSlowSubscriber)
		h.metrics.SubscriberEvicted()
		h.log.Warn("subscriber evicted due to full buffer", "subscriber", sub.id, "subscribers", count)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	subs := make([]*Subscription, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	clear(h.subscribers)
	h.mutex.Unlock()

	for _, sub := range subs {
		sub.end(ErrHubClosed)
	}
	h.log.Info("hub stopped", "closed_subscriptions", len(subs))
}

// Shutdown stops the run loop and closes every subscription with
// ErrHubClosed. It returns context.DeadlineExceeded if the loop has not
// exited within timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
