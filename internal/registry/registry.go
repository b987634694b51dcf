// Package registry maps the usernames of joined sessions to their delivery
// handles and guarantees that a username belongs to at most one live session.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Tyrowin/messenger/internal/domain"
)

// Handle delivers frames to one live session. Deliver must not block; it
// returns false when the frame could not be queued.
type Handle interface {
	Deliver(frame []byte) bool
}

// Registry is the authoritative username to handle map. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Handle
	log     *slog.Logger
}

// New creates an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		clients: make(map[string]Handle),
		log:     log,
	}
}

// Register binds username to h. The check and the insert happen under one
// lock, so of several concurrent calls for the same name exactly one wins and
// the others get domain.ErrNameTaken.
func (r *Registry) Register(username string, h Handle) error {
	if username == "" || h == nil {
		return fmt.Errorf("%w: username and handle are required", domain.ErrInvalidOperation)
	}

	r.mu.Lock()
	if _, taken := r.clients[username]; taken {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNameTaken, username)
	}
	r.clients[username] = h
	total := len(r.clients)
	r.mu.Unlock()

	r.log.Info("user registered", "username", username, "joined", total)
	return nil
}

// Unregister removes username. Removing an absent name is a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	_, ok := r.clients[username]
	delete(r.clients, username)
	total := len(r.clients)
	r.mu.Unlock()

	if ok {
		r.log.Info("user unregistered", "username", username, "joined", total)
	}
}

// Release removes username only while it is still bound to h, so a session
// cleaning up late can never evict the next owner of the name.
func (r *Registry) Release(username string, h Handle) bool {
	r.mu.Lock()
	current, ok := r.clients[username]
	if !ok || current != h {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, username)
	total := len(r.clients)
	r.mu.Unlock()

	r.log.Info("user unregistered", "username", username, "joined", total)
	return true
}

// Lookup returns the handle bound to username.
func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.clients[username]
	return h, ok
}

// Len returns the number of joined users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Usernames returns a sorted snapshot of the joined users.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}
