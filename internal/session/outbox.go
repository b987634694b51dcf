package session

import "sync"

// Outbox queues frames addressed directly to one session: private messages
// and group chat messages. It is the registry handle of a joined session.
//
// Deliver never blocks. A full or closed outbox rejects the frame and the
// caller reports the failure.
type Outbox struct {
	ch     chan []byte
	mu     sync.RWMutex
	closed bool
}

// NewOutbox creates an outbox holding at most size frames.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{ch: make(chan []byte, size)}
}

// Deliver queues frame. It returns false when the outbox is full or closed.
func (o *Outbox) Deliver(frame []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return false
	}
	select {
	case o.ch <- frame:
		return true
	default:
		return false
	}
}

// C returns the queued frames.
func (o *Outbox) C() <-chan []byte {
	return o.ch
}

// Close stops accepting frames. It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
