package zhmc

import (
	"context"
	"sync"
	"time"
)

const defaultNameCacheTTL = 5 * time.Minute

// Client is the root object of the library. It owns the managers for all
// resource scopes and the per-session auto-update dispatcher; resources and
// managers hold only non-owning back-references.
type Client struct {
	session      *Session
	nameCacheTTL time.Duration

	mu       sync.Mutex
	managers map[string]*Manager // class + parent URI → manager
	updater  *autoUpdater
	events   *EventBus
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithNameCacheTTL sets the time-to-live of the per-manager name→URI
// caches. Zero disables name caching entirely.
func WithNameCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.nameCacheTTL = ttl
	}
}

// NewClient creates a client on top of an established (or yet to be logged
// on) session.
func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{
		session:      session,
		nameCacheTTL: defaultNameCacheTTL,
		managers:     make(map[string]*Manager),
		events:       newEventBus(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the underlying session.
func (c *Client) Session() *Session {
	return c.session
}

// ManagerFor returns the manager for the given resource definition under
// the given parent, creating it on first use. Managers are cached per
// (class, parent) so that ResourceObject reuse holds across call sites.
func (c *Client) ManagerFor(def ResourceDefinition, parent *Resource) *Manager {
	key := def.Class + "|"
	if parent != nil {
		key += parent.URI()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.managers[key]; ok {
		return m
	}
	m := newManager(c, def, parent)
	c.managers[key] = m
	return m
}

// CPCs returns the manager for the top-level CPC resources.
func (c *Client) CPCs() *Manager {
	return c.ManagerFor(CPCDefinition, nil)
}

// Consoles returns the manager for the console singleton.
func (c *Client) Consoles() *Manager {
	return c.ManagerFor(ConsoleDefinition, nil)
}

// Events returns the client's event bus. The auto-update dispatcher
// publishes every applied notification on it under
// "<class>.<object-id>.<notification-type>" topics.
func (c *Client) Events() *EventBus {
	return c.events
}

// autoUpdater returns the session's auto-update dispatcher, creating and
// starting it on first use.
func (c *Client) autoUpdater(ctx context.Context) (*autoUpdater, error) {
	c.mu.Lock()
	if c.updater != nil {
		u := c.updater
		c.mu.Unlock()
		return u, nil
	}
	c.mu.Unlock()

	u, err := newAutoUpdater(ctx, c)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updater != nil {
		// lost the race; keep the first one
		u.stop()
		return c.updater, nil
	}
	c.updater = u
	return u, nil
}

// AutoUpdateActive reports whether the auto-update dispatcher is running.
func (c *Client) AutoUpdateActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updater != nil
}

func (c *Client) unregisterResource(r *Resource) {
	c.mu.Lock()
	u := c.updater
	c.mu.Unlock()
	if u != nil {
		u.unregisterResource(r)
	}
}

func (c *Client) unregisterManager(m *Manager) {
	c.mu.Lock()
	u := c.updater
	c.mu.Unlock()
	if u != nil {
		u.unregisterManager(m)
	}
}

// Close stops the auto-update dispatcher (if running) and logs the session
// off.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	u := c.updater
	c.updater = nil
	c.mu.Unlock()
	if u != nil {
		u.stop()
	}
	c.events.shutdown()
	return c.session.Logoff(ctx)
}
