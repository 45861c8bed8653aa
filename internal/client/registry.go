package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory creates the controller for a client id. token is a single-use
// sign-in token handed to that client only, or empty.
type Factory func(id, token string) *Controller

// Registry holds one controller per client id and evicts idle ones.
type Registry struct {
	factory Factory
	idle    time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Controller
	closed  bool
}

// NewRegistry creates a registry. Controllers with no open stream and no
// activity for idle are closed by Run.
func NewRegistry(factory Factory, idle time.Duration, logger *slog.Logger) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Registry{
		factory: factory,
		idle:    idle,
		logger:  logger,
		clients: make(map[string]*Controller),
	}
}

// Get returns the controller for id, creating it on first use. It returns
// nil once the registry is closed.
func (r *Registry) Get(id string) *Controller {
	c, _ := r.get(id, "")
	return c
}

// GetWithToken is Get for a client that signs in with token. The token is
// only used when the controller is created by this call; ok is false when
// id already had one.
func (r *Registry) GetWithToken(id, token string) (c *Controller, ok bool) {
	return r.get(id, token)
}

func (r *Registry) get(id, token string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if c, ok := r.clients[id]; ok {
		return c, false
	}
	c := r.factory(id, token)
	r.clients[id] = c
	r.logger.Debug("client: created", slog.String("client_id", id), slog.Bool("token", token != ""))
	return c, true
}

// Lookup returns the controller for id without creating one.
func (r *Registry) Lookup(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Evict closes controllers idle since before now minus the idle timeout.
// It returns how many were closed.
func (r *Registry) Evict(now time.Time) int {
	cutoff := now.Add(-r.idle)
	var victims []*Controller

	r.mu.Lock()
	for id, c := range r.clients {
		since, idle := c.IdleSince()
		if idle && since.Before(cutoff) {
			victims = append(victims, c)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.Close()
		r.logger.Info("client: evicted idle client", slog.String("client_id", c.ID()))
	}
	return len(victims)
}

// Run evicts idle controllers until ctx is done, then closes all of them.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return nil
		case now := <-ticker.C:
			r.Evict(now)
		}
	}
}

// CloseAll closes every controller. Later Get calls return nil.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := make([]*Controller, 0, len(r.clients))
	for id, c := range r.clients {
		all = append(all, c)
		delete(r.clients, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
