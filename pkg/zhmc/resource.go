package zhmc

import (
	"context"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Resource is the local representation of one remote manageable object.
//
// A Resource holds a cached subset (or, after PullFullProperties, the full
// set) of the remote object's properties. The URI is the immutable identity
// of the object; the name may change over the object's lifetime and a
// rename keeps the owning manager's name cache consistent.
//
// A single coarse lock guards the property state, so concurrent reads from
// caller goroutines and writes from the auto-update dispatcher never
// observe a torn property set.
type Resource struct {
	manager *Manager // non-owning back-reference
	uri     string

	mu          sync.RWMutex
	name        string
	props       *Properties
	fullFetched bool
	ceased      bool
	autoUpdate  map[string]struct{} // registration handles
}

func newResource(m *Manager, uri, name string, props *Properties) *Resource {
	if props == nil {
		props = NewProperties()
	}
	return &Resource{
		manager:    m,
		uri:        uri,
		name:       name,
		props:      props,
		autoUpdate: make(map[string]struct{}),
	}
}

// URI returns the resource's URI. The URI never changes for the lifetime of
// the object.
func (r *Resource) URI() string {
	return r.uri
}

// Name returns the resource's name, or "" for resource types without
// unique names.
func (r *Resource) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Manager returns the owning manager.
func (r *Resource) Manager() *Manager {
	return r.manager
}

// Ceased reports whether the resource has been deleted remotely (observed
// via a successful Delete or an inventory-removal notification).
func (r *Resource) Ceased() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ceased
}

// FullPropertiesFetched reports whether the complete server-side property
// set has been retrieved.
func (r *Resource) FullPropertiesFetched() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fullFetched
}

// Property returns the named property from the local cache, without any
// remote call.
func (r *Resource) Property(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props.Get(name)
}

// PropertyDefault returns the named property from the local cache, or def
// when absent.
func (r *Resource) PropertyDefault(name string, def any) any {
	if v, ok := r.Property(name); ok {
		return v
	}
	return def
}

// Properties returns a snapshot of the local property cache.
func (r *Resource) Properties() *Properties {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.props.Clone()
}

// Equal reports whether two resources have the same property-name set with
// values that compare equal. Identity and URI play no role.
func (r *Resource) Equal(o *Resource) bool {
	a := r.Properties()
	b := o.Properties()
	return a.Equal(b)
}

// PullFullProperties retrieves the complete property set of the resource
// and merges it into the local cache, overwriting values from the short
// listing set. The pull happens at most once unless force is true;
// subsequent calls are no-ops.
func (r *Resource) PullFullProperties(ctx context.Context, force bool) error {
	r.mu.RLock()
	done := r.fullFetched && !force
	ceased := r.ceased
	r.mu.RUnlock()
	if ceased {
		return ErrCeased.Msg(fmt.Sprintf("resource %s has ceased to exist", r.uri))
	}
	if done {
		return nil
	}

	body, err := r.manager.client.session.Get(ctx, r.uri)
	if err != nil {
		return err
	}
	full := NewProperties()
	if err := full.UnmarshalJSON(body); err != nil {
		return err
	}

	r.mu.Lock()
	r.props.UpdateFrom(full)
	r.fullFetched = true
	r.mu.Unlock()
	return nil
}

// GetProperty returns the named property. A local cache hit is returned
// without I/O. On a miss with the full property set not yet fetched, the
// full set is pulled once and the lookup retried. A property that is absent
// from the full set yields an ErrNotFound-derived error.
func (r *Resource) GetProperty(ctx context.Context, name string) (any, error) {
	if r.Ceased() {
		return nil, ErrCeased.Msg(fmt.Sprintf("resource %s has ceased to exist", r.uri))
	}
	if v, ok := r.Property(name); ok {
		return v, nil
	}
	if !r.FullPropertiesFetched() {
		if err := r.PullFullProperties(ctx, false); err != nil {
			return nil, err
		}
		if v, ok := r.Property(name); ok {
			return v, nil
		}
	}
	return nil, ErrNotFound.Msg(fmt.Sprintf("resource %s has no property %q", r.uri, name))
}

// applyLocal merges property changes under the resource lock and returns
// the name before and after the merge. Cache maintenance for a rename is
// the caller's job; the auto-update path and the manager's live-list
// refresh handle it under different locking regimes.
func (r *Resource) applyLocal(props map[string]any) (oldName, newName string) {
	nameProp := r.manager.def.NameProp

	r.mu.Lock()
	defer r.mu.Unlock()
	oldName = r.name
	r.props.Update(props)
	if v, ok := props[nameProp]; ok {
		if name, ok := v.(string); ok {
			r.name = name
		}
	}
	return oldName, r.name
}

// UpdatePropertiesLocal merges property changes into the local cache
// without any remote call. This is the sole mutation path used by the
// auto-update dispatcher. A change of the name property atomically updates
// the owning manager's name cache.
func (r *Resource) UpdatePropertiesLocal(props map[string]any) {
	oldName, newName := r.applyLocal(props)
	if newName != oldName {
		r.manager.renameInCache(oldName, newName, r.uri)
	}
}

// UpdateProperties writes property changes to the HMC and merges them into
// the local cache.
func (r *Resource) UpdateProperties(ctx context.Context, props map[string]any) error {
	if r.Ceased() {
		return ErrCeased.Msg(fmt.Sprintf("resource %s has ceased to exist", r.uri))
	}
	if _, err := r.manager.client.session.Post(ctx, r.uri, props); err != nil {
		return err
	}
	r.UpdatePropertiesLocal(props)
	return nil
}

// Delete deletes the resource on the HMC, removes it from the manager's
// caches and marks it ceased.
func (r *Resource) Delete(ctx context.Context) error {
	if err := r.manager.client.session.Delete(ctx, r.uri); err != nil {
		return err
	}
	r.manager.forgetResource(r)
	r.CeaseExistence()
	return nil
}

// CeaseExistence marks the resource as no longer existing on the HMC. The
// cached full-property state is dropped; subsequent property access fails
// with an ErrCeased-derived error. The object itself stays valid for
// identity operations (URI, Name).
func (r *Resource) CeaseExistence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ceased {
		return
	}
	r.ceased = true
	r.fullFetched = false
	r.props = NewProperties()
}

// EnableAutoUpdate registers the resource with the session's auto-update
// dispatcher and returns a registration handle. Registrations are
// reference-counted per handle: independent callers each enable auto-update
// and one caller's Disable never breaks another's subscription. The
// underlying notification subscription is shared.
func (r *Resource) EnableAutoUpdate(ctx context.Context) (string, error) {
	updater, err := r.manager.client.autoUpdater(ctx)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	handle, _ := gonanoid.New(10)
	first := len(r.autoUpdate) == 0
	r.autoUpdate[handle] = struct{}{}
	r.mu.Unlock()

	if first {
		updater.registerResource(r)
	}
	return handle, nil
}

// DisableAutoUpdate releases one registration handle. The resource stays
// registered with the dispatcher until the last handle is released.
func (r *Resource) DisableAutoUpdate(handle string) {
	r.mu.Lock()
	if _, ok := r.autoUpdate[handle]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.autoUpdate, handle)
	last := len(r.autoUpdate) == 0
	r.mu.Unlock()

	if last {
		r.manager.client.unregisterResource(r)
	}
}

// AutoUpdateEnabled reports whether at least one auto-update registration
// is active for this resource object.
func (r *Resource) AutoUpdateEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.autoUpdate) > 0
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s(uri=%s, name=%s)", r.manager.def.Class, r.uri, r.Name())
}
