package zhmc

import (
	"strings"
	"time"
)

// nameURICache maps resource names to URIs for one manager scope.
//
// The cache is an optimization, never a source of truth: lookups that miss
// fall back to a server listing, and consistency problems (renaming a name
// that was never cached) are treated as no-ops.
//
// The whole cache expires as a unit once its time-to-live has elapsed; the
// next lookup after expiry misses and the following list rebuilds it. A TTL
// of zero disables caching entirely. Invalidation is TTL-driven only.
//
// Not safe for concurrent use; the owning Manager serializes access against
// auto-update delivery.
type nameURICache struct {
	ttl             time.Duration
	caseInsensitive bool
	created         time.Time
	byName          map[string]string
	byURI           map[string]string // invariant: at most one name per URI

	// now is replaceable for TTL tests
	now func() time.Time
}

func newNameURICache(ttl time.Duration, caseInsensitive bool) *nameURICache {
	c := &nameURICache{
		ttl:             ttl,
		caseInsensitive: caseInsensitive,
		now:             time.Now,
	}
	c.reset()
	return c
}

func (c *nameURICache) key(name string) string {
	if c.caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func (c *nameURICache) reset() {
	c.byName = make(map[string]string)
	c.byURI = make(map[string]string)
	c.created = c.now()
}

func (c *nameURICache) expired() bool {
	return c.ttl <= 0 || c.now().Sub(c.created) > c.ttl
}

// lookup returns the URI cached for the given name. An expired cache is
// invalidated on the spot and reported as a miss, which forces the caller
// onto the listing path.
func (c *nameURICache) lookup(name string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	if c.expired() {
		c.reset()
		return "", false
	}
	uri, ok := c.byName[c.key(name)]
	return uri, ok
}

// update inserts or overwrites one name→URI mapping. Any previous name for
// the same URI is removed first, keeping at most one entry per URI.
func (c *nameURICache) update(name, uri string) {
	if c.ttl <= 0 || name == "" || uri == "" {
		return
	}
	if old, ok := c.byURI[uri]; ok && old != c.key(name) {
		delete(c.byName, old)
	}
	c.byName[c.key(name)] = uri
	c.byURI[uri] = c.key(name)
}

// delete removes the mapping for the given name. Deleting an uncached name
// is a no-op.
func (c *nameURICache) delete(name string) {
	key := c.key(name)
	if uri, ok := c.byName[key]; ok {
		delete(c.byName, key)
		delete(c.byURI, uri)
	}
}

// deleteURI removes whatever name is mapped to the given URI.
func (c *nameURICache) deleteURI(uri string) {
	if name, ok := c.byURI[uri]; ok {
		delete(c.byURI, uri)
		delete(c.byName, name)
	}
}

// updateFrom refreshes the cache from a freshly retrieved listing. It only
// adds or overwrites entries; resources outside the (possibly filtered)
// listing keep their entries, so consecutive filtered lists do not erase
// each other's cache state.
func (c *nameURICache) updateFrom(resources []*Resource) {
	if c.ttl <= 0 {
		return
	}
	if c.expired() {
		c.reset()
	}
	for _, r := range resources {
		// resources without unique names (empty name) are not cacheable
		c.update(r.Name(), r.URI())
	}
}
