package zhmc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

const eventPublishTimeout = 100 * time.Millisecond

// autoUpdater is the per-session auto-update dispatcher. It owns one
// notification subscription on the session's object-notification topic and
// translates inbound messages into local cache mutations on the registered
// resources and managers, so their cached state tracks the HMC without
// re-polling.
//
// Registration tables are keyed by object identity: the same remote
// resource can be watched by multiple independent local wrapper objects,
// and one registrant's lifecycle never affects another's.
type autoUpdater struct {
	client *Client

	mu        sync.Mutex
	resources map[string]map[*Resource]struct{} // object URI → registrants
	managers  map[string]map[*Manager]struct{}  // class|parentURI → registrants
	receiver  *NotificationReceiver

	done     chan struct{}
	stopOnce sync.Once
}

// newAutoUpdater logs on if needed, opens the push channel and starts the
// dispatch goroutine.
func newAutoUpdater(ctx context.Context, c *Client) (*autoUpdater, error) {
	if c.session.Token() == "" {
		if err := c.session.Logon(ctx); err != nil {
			return nil, err
		}
	}
	receiver, err := c.session.NewNotificationReceiver(ctx, c.session.NotificationTopic())
	if err != nil {
		return nil, err
	}
	u := &autoUpdater{
		client:    c,
		resources: make(map[string]map[*Resource]struct{}),
		managers:  make(map[string]map[*Manager]struct{}),
		receiver:  receiver,
		done:      make(chan struct{}),
	}
	go u.run()
	return u, nil
}

func (u *autoUpdater) stop() {
	u.stopOnce.Do(func() {
		close(u.done)
		u.mu.Lock()
		receiver := u.receiver
		u.mu.Unlock()
		if receiver != nil {
			receiver.Close()
		}
	})
}

func (u *autoUpdater) getReceiver() *NotificationReceiver {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.receiver
}

func (u *autoUpdater) registerResource(r *Resource) {
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.resources[r.URI()]
	if !ok {
		set = make(map[*Resource]struct{})
		u.resources[r.URI()] = set
	}
	set[r] = struct{}{}
}

func (u *autoUpdater) unregisterResource(r *Resource) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if set, ok := u.resources[r.URI()]; ok {
		delete(set, r)
		if len(set) == 0 {
			delete(u.resources, r.URI())
		}
	}
}

func managerKey(class, parentURI string) string {
	return class + "|" + parentURI
}

func (u *autoUpdater) registerManager(m *Manager) {
	key := managerKey(m.Class(), m.parentURI())
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.managers[key]
	if !ok {
		set = make(map[*Manager]struct{})
		u.managers[key] = set
	}
	set[m] = struct{}{}
}

func (u *autoUpdater) unregisterManager(m *Manager) {
	key := managerKey(m.Class(), m.parentURI())
	u.mu.Lock()
	defer u.mu.Unlock()
	if set, ok := u.managers[key]; ok {
		delete(set, m)
		if len(set) == 0 {
			delete(u.managers, key)
		}
	}
}

// run is the dispatch loop, driven on a dedicated goroutine entirely
// separate from caller goroutines. A lost connection triggers reconnection
// with backoff; a closed receiver ends the loop.
func (u *autoUpdater) run() {
	logger := u.client.session.Logger()
	ctx := context.Background()
	for {
		n, err := u.getReceiver().Receive(ctx)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			if errors.Is(err, ErrReceiverClosed) {
				return
			}
			logger.Warn().Err(err).Msg("notification connection lost, reconnecting")
			if !u.reconnect(ctx) {
				return
			}
			continue
		}
		u.dispatch(ctx, n)
	}
}

// reconnect re-opens the subscription and re-initializes the top-level CPC
// manager's cache before resuming dispatch: the inventory add/remove
// resolution depends on an up-to-date CPC list.
func (u *autoUpdater) reconnect(ctx context.Context) bool {
	logger := u.client.session.Logger()

	var receiver *NotificationReceiver
	err := retry.Do(
		func() error {
			select {
			case <-u.done:
				return retry.Unrecoverable(ErrReceiverClosed)
			default:
			}
			if err := u.client.session.Logon(ctx); err != nil {
				return err
			}
			nr, err := u.client.session.NewNotificationReceiver(ctx, u.client.session.NotificationTopic())
			if err != nil {
				return err
			}
			receiver = nr
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0), // keep trying until stopped
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Error().Err(err).Msg("giving up on notification reconnect")
		return false
	}

	u.mu.Lock()
	u.receiver = receiver
	u.mu.Unlock()

	cpcs := u.client.CPCs()
	if cpcs.AutoUpdateEnabled() {
		if err := cpcs.refreshLiveList(ctx); err != nil {
			logger.Warn().Err(err).Msg("cannot refresh CPC list after reconnect")
		}
	} else if _, err := cpcs.listFromServer(ctx, nil); err != nil {
		logger.Warn().Err(err).Msg("cannot re-initialize CPC cache after reconnect")
	}

	logger.Info().Msg("notification connection re-established")
	return true
}

// dispatch applies one notification to the registered objects and publishes
// it on the client's event bus. Errors during application are logged, never
// raised: one bad message must not break delivery of subsequent ones.
func (u *autoUpdater) dispatch(ctx context.Context, n *Notification) {
	logger := u.client.session.Logger()

	var applied map[string]any
	switch n.Type {
	case NotificationPropertyChange:
		applied = n.FoldedChanges()
		u.applyToResources(n.ObjectURI, applied)

	case NotificationStatusChange:
		applied = synthesizeStatusProps(n.StatusInfo)
		u.applyToResources(n.ObjectURI, applied)

	case NotificationInventoryChange:
		switch n.Action {
		case InventoryActionAdd:
			u.handleInventoryAdd(ctx, n)
		case InventoryActionRemove:
			u.handleInventoryRemove(n)
		default:
			logger.Warn().Str("action", n.Action).Str("class", n.Class).
				Msg("dropping inventory change with unknown action")
			return
		}

	default:
		logger.Warn().Str("type", n.Type).Msg("dropping notification of unknown type")
		return
	}

	u.client.events.publish(Event{
		Topic:      eventTopic(n),
		Class:      n.Class,
		URI:        n.ObjectURI,
		Kind:       n.Type,
		Properties: applied,
		Received:   n.Timestamp,
	}, eventPublishTimeout)
}

// synthesizeStatusProps turns the status-change fields into a property set
// that is applied like a property-change.
func synthesizeStatusProps(info map[string]any) map[string]any {
	props := make(map[string]any, 3)
	for _, key := range []string{"status", "additional-status", "has-unacceptable-status"} {
		if v, ok := info[key]; ok {
			props[key] = v
		}
	}
	return props
}

func (u *autoUpdater) applyToResources(uri string, props map[string]any) {
	if len(props) == 0 {
		return
	}
	u.mu.Lock()
	registrants := make([]*Resource, 0, len(u.resources[uri]))
	for r := range u.resources[uri] {
		registrants = append(registrants, r)
	}
	u.mu.Unlock()

	for _, r := range registrants {
		r.UpdatePropertiesLocal(props)
	}
}

// handleInventoryAdd resolves the owning manager from the notification's
// class and parent derivation and triggers a full re-list; an incremental
// add could not establish the derived short properties correctly.
func (u *autoUpdater) handleInventoryAdd(ctx context.Context, n *Notification) {
	logger := u.client.session.Logger()
	parentURI := resolveParentURI(n)
	key := managerKey(n.Class, parentURI)

	u.mu.Lock()
	registrants := make([]*Manager, 0, len(u.managers[key]))
	for m := range u.managers[key] {
		registrants = append(registrants, m)
	}
	u.mu.Unlock()

	for _, m := range registrants {
		if err := m.refreshLiveList(ctx); err != nil {
			logger.Warn().Err(err).Str("class", n.Class).
				Msg("cannot refresh list after inventory add")
		}
	}
}

// handleInventoryRemove ceases every registered resource object for the
// URI and removes the URI from the cached lists of all managers of that
// class.
func (u *autoUpdater) handleInventoryRemove(n *Notification) {
	u.mu.Lock()
	resources := make([]*Resource, 0, len(u.resources[n.ObjectURI]))
	for r := range u.resources[n.ObjectURI] {
		resources = append(resources, r)
	}
	var managers []*Manager
	prefix := n.Class + "|"
	for key, set := range u.managers {
		if strings.HasPrefix(key, prefix) {
			for m := range set {
				managers = append(managers, m)
			}
		}
	}
	delete(u.resources, n.ObjectURI)
	u.mu.Unlock()

	for _, r := range resources {
		r.CeaseExistence()
	}
	for _, m := range managers {
		m.removeFromLive(n.ObjectURI)
	}
}

// resolveParentURI derives the owning manager's parent scope from a
// notification. The derivation is class-dependent: the top-level CPC class
// has no parent, console-rooted classes hang off the console singleton, and
// CPC-child classes carry their parent in the payload or encode it in the
// object URI (two path segments above the object).
func resolveParentURI(n *Notification) string {
	if n.Class == classCPC {
		return ""
	}
	if consoleChildClasses[n.Class] {
		return ConsoleURI
	}
	if n.ParentURI != "" {
		return n.ParentURI
	}
	return parentURIFromObjectURI(n.ObjectURI)
}

// parentURIFromObjectURI strips the trailing "/{collection}/{oid}" from a
// hierarchical object URI.
func parentURIFromObjectURI(uri string) string {
	parts := strings.Split(strings.TrimRight(uri, "/"), "/")
	if len(parts) <= 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], "/")
}

func eventTopic(n *Notification) string {
	oid := n.ObjectURI
	if i := strings.LastIndex(oid, "/"); i >= 0 {
		oid = oid[i+1:]
	}
	return n.Class + "." + oid + "." + n.Type
}
