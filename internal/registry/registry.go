// Package registry holds the set of live subscriber connections.
//
// All membership changes go through one mutex. No network I/O happens while
// it is held: broadcasters take a Snapshot and write outside the lock, and
// CloseAll closes connections after releasing it, so a stalled peer never
// blocks registration or removal of other clients.
package registry

import "sync"

type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func New() *Registry {
	return &Registry{clients: map[*Client]struct{}{}}
}

// Add inserts c. It reports false if c was already registered.
func (r *Registry) Add(c *Client) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// Remove deletes c. Removing an absent client is a no-op; the result reports
// whether c was present.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *Registry) Contains(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[c]
	return ok
}

// Snapshot returns a copy of the current membership.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	r.mu.Unlock()
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// CloseAll empties the registry and closes every client that was in it.
// Close failures are returned for the caller to log; they never stop the
// remaining closes.
func (r *Registry) CloseAll() []error {
	r.mu.Lock()
	snap := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snap = append(snap, c)
	}
	r.clients = map[*Client]struct{}{}
	r.mu.Unlock()

	var errs []error
	for _, c := range snap {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
