package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrRegistryFull is returned by Register when the connection cap has been
// reached. Callers should refuse the connection before it joins the exam
// pipeline.
var ErrRegistryFull = errors.New("stream: registry full")

// ErrConnNotFound is returned by Send for an unknown connection id.
var ErrConnNotFound = errors.New("stream: connection not found")

// Registry tracks every live connection up to a fixed cap.
type Registry struct {
	log *slog.Logger
	max int

	mu    sync.RWMutex
	conns map[string]Client
}

// NewRegistry returns a registry capped at max connections. A nil logger
// falls back to slog.Default.
func NewRegistry(max int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		max:   max,
		conns: make(map[string]Client),
	}
}

// Register adds c. Returns ErrRegistryFull when the cap is reached, leaving
// the registry unchanged.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) >= r.max {
		return fmt.Errorf("%w: %d connections", ErrRegistryFull, r.max)
	}
	r.conns[c.ID()] = c
	return nil
}

// Unregister removes the connection with the given id. Removing an unknown
// id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers v to a single connection.
func (r *Registry) Send(ctx context.Context, id string, v any) error {
	c, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, id)
	}
	return c.SendJSON(ctx, v)
}

// Broadcast delivers v to every registered connection except those listed
// in exclude. Delivery is best effort: a failing connection is logged,
// closed and removed, and the broadcast continues. Returns the number of
// successful deliveries.
func (r *Registry) Broadcast(ctx context.Context, v any, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	// Snapshot under the read lock, send outside it, so register and
	// unregister stay atomic with respect to the iteration.
	r.mu.RLock()
	targets := make([]Client, 0, len(r.conns))
	for id, c := range r.conns {
		if _, ok := skip[id]; ok {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.SendJSON(ctx, v); err != nil {
			r.log.Warn("stream: broadcast delivery failed, dropping connection",
				"conn", c.ID(), "error", err)
			_ = c.Close()
			r.Unregister(c.ID())
			continue
		}
		delivered++
	}
	return delivered
}
