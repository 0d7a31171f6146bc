package zhmc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Manager scopes one resource class under a parent resource (or at the top
// level). It owns the name→URI cache for its scope and, when auto-update is
// enabled, a live list of resources kept consistent by inventory
// notifications.
//
// Every list or find call tries three modes in strict order, falling
// through one-directionally within the call:
//
//  1. the auto-update live list (no I/O),
//  2. the name-cache optimized single lookup (at most one GET),
//  3. a filtered server round trip.
type Manager struct {
	client  *Client
	def     ResourceDefinition
	parent  *Resource // nil for top-level managers
	baseURI string

	mu          sync.Mutex
	nameCache   *nameURICache
	objects     map[string]*Resource // uri → resource, for local reuse
	autoUpdated bool
	liveValid   bool
	live        map[string]*Resource
	liveOrder   []string
}

// newManager creates a manager for the given definition scoped under
// parent. The definition's BaseURI may contain a "{parent}" placeholder
// that is resolved against the parent resource's URI.
func newManager(c *Client, def ResourceDefinition, parent *Resource) *Manager {
	baseURI := def.BaseURI
	if parent != nil {
		baseURI = strings.ReplaceAll(baseURI, "{parent}", parent.URI())
	}
	return &Manager{
		client:    c,
		def:       def,
		parent:    parent,
		baseURI:   baseURI,
		nameCache: newNameURICache(c.nameCacheTTL, def.CaseInsensitiveNames),
		objects:   make(map[string]*Resource),
	}
}

// Definition returns the manager's resource definition.
func (m *Manager) Definition() ResourceDefinition {
	return m.def
}

// Parent returns the owning resource, or nil for top-level managers.
func (m *Manager) Parent() *Resource {
	return m.parent
}

// Class returns the resource class tag used in filters and notifications.
func (m *Manager) Class() string {
	return m.def.Class
}

func (m *Manager) parentURI() string {
	if m.parent == nil {
		return ""
	}
	return m.parent.URI()
}

// List returns the resources of this manager's scope that satisfy the
// filters. With fullProperties, each returned resource has its complete
// property set pulled; otherwise resources carry only the short listing
// set (or whatever the live list holds).
func (m *Manager) List(ctx context.Context, fullProperties bool, filters Filters) ([]*Resource, error) {
	m.client.session.logger.Debug().Str("op", "list").Str("class", m.def.Class).Msg("listing resources")

	// mode 1: auto-update live list
	if resources, ok := m.listLive(); ok {
		matched, err := m.applyFilters(resources, filters)
		if err != nil {
			return nil, err
		}
		if fullProperties {
			for _, r := range matched {
				if err := r.PullFullProperties(ctx, false); err != nil {
					return nil, err
				}
			}
		}
		return matched, nil
	}

	// mode 2: name-cache optimized single lookup
	if name, ok := filters.optimizedName(m.def.NameProp); ok && m.def.ListHasName {
		m.mu.Lock()
		uri, hit := m.nameCache.lookup(name)
		m.mu.Unlock()
		if hit {
			r := m.ResourceObject(uri, map[string]any{m.def.NameProp: name})
			if fullProperties {
				if err := r.PullFullProperties(ctx, false); err != nil {
					if isErrNotFound(err) {
						// stale cache entry: the resource was deleted
						// between caching and lookup
						m.mu.Lock()
						m.nameCache.delete(name)
						m.mu.Unlock()
						m.forgetResource(r)
					}
					return nil, err
				}
			}
			return []*Resource{r}, nil
		}
		// miss: fall through to the listing path, which rebuilds the cache
	}

	// mode 3: filtered server round trip
	query, clientFilters := filters.divide(m.def.QueryProps)
	resources, err := m.listFromServer(ctx, query)
	if err != nil {
		return nil, err
	}
	matched, err := m.applyFilters(resources, clientFilters)
	if err != nil {
		return nil, err
	}
	if fullProperties {
		for _, r := range matched {
			if err := r.PullFullProperties(ctx, false); err != nil {
				return nil, err
			}
		}
	}
	return matched, nil
}

// FindAll returns all resources matching the filters, with the same
// filtering semantics as List.
func (m *Manager) FindAll(ctx context.Context, filters Filters) ([]*Resource, error) {
	return m.List(ctx, false, filters)
}

// Find returns the single resource matching the filters. Zero matches
// yield ErrNotFound, more than one ErrNoUniqueMatch.
func (m *Manager) Find(ctx context.Context, filters Filters) (*Resource, error) {
	matches, err := m.FindAll(ctx, filters)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound.Msg(fmt.Sprintf("no %s matches filters %v", m.def.Class, filters))
	case 1:
		return matches[0], nil
	default:
		return nil, ErrNoUniqueMatch.Msg(fmt.Sprintf("filters %v match %d %s resources",
			filters, len(matches), m.def.Class))
	}
}

// FindByName returns the resource with exactly the given name. Unlike Find,
// the name is compared literally, never as a regular expression.
func (m *Manager) FindByName(ctx context.Context, name string) (*Resource, error) {
	if !m.def.ListHasName {
		return nil, ErrInvalidFilter.Msg(fmt.Sprintf("%s resources have no unique names", m.def.Class))
	}

	m.mu.Lock()
	uri, hit := m.nameCache.lookup(name)
	m.mu.Unlock()
	if hit {
		return m.ResourceObject(uri, map[string]any{m.def.NameProp: name}), nil
	}

	resources, err := m.listFromServer(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range resources {
		if m.sameName(r.Name(), name) {
			return r, nil
		}
	}
	return nil, ErrNotFound.Msg(fmt.Sprintf("no %s named %q", m.def.Class, name))
}

func (m *Manager) sameName(a, b string) bool {
	if m.def.CaseInsensitiveNames {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Create creates a resource on the HMC. The returned resource's properties
// are the union of the input properties and the server's response, server
// values winning on conflict. The new name→URI pair is inserted into the
// name cache immediately.
func (m *Manager) Create(ctx context.Context, props map[string]any) (*Resource, error) {
	m.client.session.logger.Debug().Str("op", "create").Str("class", m.def.Class).Msg("creating resource")

	body, err := m.client.session.Post(ctx, m.baseURI, props)
	if err != nil {
		return nil, err
	}

	merged := NewProperties()
	merged.Update(props)
	if len(body) > 0 {
		resp := NewProperties()
		if err := resp.UnmarshalJSON(body); err != nil {
			return nil, err
		}
		merged.UpdateFrom(resp)
	}

	uri := stringProp(merged, m.def.URIProp)
	if uri == "" {
		return nil, ErrParse.Msg(fmt.Sprintf("create response for %s carries no %q",
			m.def.Class, m.def.URIProp))
	}
	name := stringProp(merged, m.def.NameProp)
	r := newResource(m, uri, name, merged)

	m.mu.Lock()
	m.objects[uri] = r
	m.nameCache.update(name, uri)
	if m.liveValid {
		if _, ok := m.live[uri]; !ok {
			m.liveOrder = append(m.liveOrder, uri)
		}
		m.live[uri] = r
	}
	m.mu.Unlock()
	return r, nil
}

// ResourceObject returns a local resource object for a known URI without
// any remote call, reusing an existing object for that URI when one is
// held. It is used for establishing cross-references between sibling
// resource trees.
func (m *Manager) ResourceObject(uri string, props map[string]any) *Resource {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.live[uri]; ok && m.liveValid {
		return r
	}
	if r, ok := m.objects[uri]; ok && !r.Ceased() {
		return r
	}

	p := NewProperties()
	p.Set(m.def.URIProp, uri)
	for k, v := range props {
		p.Set(k, v)
	}
	name := stringProp(p, m.def.NameProp)
	r := newResource(m, uri, name, p)
	m.objects[uri] = r
	return r
}

// EnableAutoUpdate registers the manager with the session's auto-update
// dispatcher and seeds the live list with a full server listing. From then
// on, List serves from the live list and inventory notifications keep it
// consistent without polling.
func (m *Manager) EnableAutoUpdate(ctx context.Context) error {
	updater, err := m.client.autoUpdater(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	already := m.autoUpdated
	m.autoUpdated = true
	m.mu.Unlock()
	if already {
		return nil
	}

	updater.registerManager(m)
	return m.refreshLiveList(ctx)
}

// DisableAutoUpdate unregisters the manager from the dispatcher and drops
// the live list.
func (m *Manager) DisableAutoUpdate() {
	m.mu.Lock()
	if !m.autoUpdated {
		m.mu.Unlock()
		return
	}
	m.autoUpdated = false
	m.liveValid = false
	m.live = nil
	m.liveOrder = nil
	m.mu.Unlock()

	m.client.unregisterManager(m)
}

// AutoUpdateEnabled reports whether the manager's list is kept live by
// inventory notifications.
func (m *Manager) AutoUpdateEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoUpdated
}

// refreshLiveList re-pulls the full listing and rebuilds the live list.
// A full re-list (not an incremental add) guarantees correctness of the
// short property set of new entries.
func (m *Manager) refreshLiveList(ctx context.Context) error {
	resources, err := m.listFromServer(ctx, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.autoUpdated {
		return nil
	}
	old := m.live
	m.live = make(map[string]*Resource, len(resources))
	m.liveOrder = make([]string, 0, len(resources))
	for _, r := range resources {
		uri := r.URI()
		if prev, ok := old[uri]; ok {
			// keep the existing object so registered wrappers stay valid;
			// m.mu is held, so cache maintenance happens inline
			oldName, newName := prev.applyLocal(r.Properties().Map())
			if newName != oldName {
				m.nameCache.delete(oldName)
				m.nameCache.update(newName, uri)
			}
			r = prev
		}
		m.live[uri] = r
		m.liveOrder = append(m.liveOrder, uri)
	}
	m.liveValid = true
	return nil
}

// listLive snapshots the live list when it is valid.
func (m *Manager) listLive() ([]*Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.autoUpdated || !m.liveValid {
		return nil, false
	}
	out := make([]*Resource, 0, len(m.liveOrder))
	for _, uri := range m.liveOrder {
		out = append(out, m.live[uri])
	}
	return out, true
}

// removeFromLive drops a URI from the live list and the caches. Called by
// the auto-update dispatcher on inventory-remove notifications.
func (m *Manager) removeFromLive(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, uri)
	m.nameCache.deleteURI(uri)
	if _, ok := m.live[uri]; ok {
		delete(m.live, uri)
		for i, u := range m.liveOrder {
			if u == uri {
				m.liveOrder = append(m.liveOrder[:i], m.liveOrder[i+1:]...)
				break
			}
		}
	}
}

// listFromServer performs the filtered HTTP listing, constructs resources
// and refreshes the name cache additively.
func (m *Manager) listFromServer(ctx context.Context, query url.Values) ([]*Resource, error) {
	uri := m.baseURI
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	body, err := m.client.session.Get(ctx, uri)
	if err != nil {
		return nil, err
	}

	entries := gjson.GetBytes(body, escapePath(m.def.ListField))
	if !entries.Exists() || !entries.IsArray() {
		return nil, ErrParse.Msg(fmt.Sprintf("list response for %s carries no %q array",
			m.def.Class, m.def.ListField))
	}

	var resources []*Resource
	var parseErr error
	entries.ForEach(func(_, entry gjson.Result) bool {
		props := NewProperties()
		if err := props.UnmarshalJSON([]byte(entry.Raw)); err != nil {
			parseErr = err
			return false
		}
		uri := stringProp(props, m.def.URIProp)
		if uri == "" {
			parseErr = ErrParse.Msg(fmt.Sprintf("list entry for %s carries no %q",
				m.def.Class, m.def.URIProp))
			return false
		}
		name := stringProp(props, m.def.NameProp)
		resources = append(resources, newResource(m, uri, name, props))
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	m.mu.Lock()
	m.nameCache.updateFrom(resources)
	for _, r := range resources {
		m.objects[r.URI()] = r
	}
	m.mu.Unlock()
	return resources, nil
}

// applyFilters evaluates the filters client-side, preserving the input
// order of unfiltered entries.
func (m *Manager) applyFilters(resources []*Resource, filters Filters) ([]*Resource, error) {
	if len(filters) == 0 {
		return resources, nil
	}
	var matched []*Resource
	for _, r := range resources {
		ok, err := filters.matches(r, &m.def)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// renameInCache atomically moves a name cache entry from the old to the
// new name. Renaming a name that was never cached is a no-op for the old
// entry; the new mapping is inserted either way.
func (m *Manager) renameInCache(oldName, newName, uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if oldName != "" {
		m.nameCache.delete(oldName)
	}
	if newName != "" {
		m.nameCache.update(newName, uri)
	}
}

// forgetResource removes a resource from the caches and the live list
// after a successful delete.
func (m *Manager) forgetResource(r *Resource) {
	m.removeFromLive(r.URI())
}

func stringProp(p *Properties, name string) string {
	if v, ok := p.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func isErrNotFound(err error) bool {
	ae, ok := asAppError(err)
	return ok && ae.Is(ErrNotFound)
}
