package zhmc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListReturnsAllResources(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01", "status": "active"})
	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC02", "status": "service"})

	cpcs, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)
	require.Len(t, cpcs, 2)
	assert.Equal(t, "CPC01", cpcs[0].Name())
	assert.Equal(t, "CPC02", cpcs[1].Name())
}

func TestListOptimizedNameLookupAvoidsServerList(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC02"})

	// first list populates the name cache
	_, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)
	require.Equal(t, 1, srv.RequestCount("GET", "/api/cpcs"))

	// an exact-name filter is served from the cache without I/O
	matches, err := client.CPCs().List(ctx, false, Filters{"name": "CPC02"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "CPC02", matches[0].Name())
	assert.Equal(t, 1, srv.RequestCount("GET", "/api/cpcs"))

	// a regex filter cannot use the optimized path
	matches, err = client.CPCs().List(ctx, false, Filters{"name": "CPC.*"})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Equal(t, 2, srv.RequestCount("GET", "/api/cpcs"))
}

func TestListStaleCacheEntrySurfacesNotFound(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	_, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)

	// the resource disappears behind the cache's back
	srv.RemoveObject(uri)

	_, err = client.CPCs().List(ctx, true, Filters{"name": "CPC01"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	// the stale entry was evicted: the next lookup goes to the server and
	// finds nothing
	matches, err := client.CPCs().List(ctx, false, Filters{"name": "CPC01"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindSemantics(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01", "status": "active"})
	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC02", "status": "active"})

	cpc, err := client.CPCs().Find(ctx, Filters{"name": "CPC01"})
	require.NoError(t, err)
	assert.Equal(t, "CPC01", cpc.Name())

	_, err = client.CPCs().Find(ctx, Filters{"name": "nothing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = client.CPCs().Find(ctx, Filters{"status": "active"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoUniqueMatch))
}

func TestFindByNameIsLiteral(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC.01"})
	srv.AddObject("/api/cpcs", map[string]any{"name": "CPCX01"})

	// "." is not regex syntax here
	cpc, err := client.CPCs().FindByName(ctx, "CPC.01")
	require.NoError(t, err)
	assert.Equal(t, "CPC.01", cpc.Name())

	_, err = client.CPCs().FindByName(ctx, "CPC?01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServerAndClientFilteringAgree(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	path := addPartitionCollection(srv, uri)
	for _, p := range []map[string]any{
		{"name": "web1", "status": "active"},
		{"name": "web2", "status": "stopped"},
		{"name": "db1", "status": "active"},
	} {
		srv.AddObject(path, p)
	}

	cpc, err := client.CPCs().FindByName(ctx, "CPC01")
	require.NoError(t, err)
	pm := PartitionsOf(cpc)

	// status is a query property (server-side), the name regex is pushed
	// down too; both sides must agree
	matches, err := pm.List(ctx, false, Filters{"name": "web.*", "status": "active"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "web1", matches[0].Name())

	matches, err = pm.List(ctx, false, Filters{"status": []string{"active", "stopped"}})
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestCreateMergesInputAndResponse(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	path := addPartitionCollection(srv, uri)

	cpc, err := client.CPCs().FindByName(ctx, "CPC01")
	require.NoError(t, err)
	pm := PartitionsOf(cpc)

	p, err := pm.Create(ctx, map[string]any{"name": "newpart", "ifl-processors": 2})
	require.NoError(t, err)
	assert.Equal(t, "newpart", p.Name())
	assert.NotEmpty(t, p.URI())

	// input properties survive the merge
	v, ok := p.Property("ifl-processors")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	// server-assigned properties are merged in
	_, ok = p.Property("object-id")
	assert.True(t, ok)

	// the new name is cached immediately: the exact-name lookup needs no
	// further list call
	before := srv.RequestCount("GET", path)
	matches, err := pm.List(ctx, false, Filters{"name": "newpart"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Same(t, p, matches[0])
	assert.Equal(t, before, srv.RequestCount("GET", path))
}

func TestRenameKeepsNameCacheConsistent(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	path := addPartitionCollection(srv, uri)
	srv.AddObject(path, map[string]any{"name": "p1", "status": "stopped"})

	cpc, err := client.CPCs().FindByName(ctx, "CPC01")
	require.NoError(t, err)
	pm := PartitionsOf(cpc)

	p, err := pm.FindByName(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, p.UpdateProperties(ctx, map[string]any{"name": "p2"}))
	assert.Equal(t, "p2", p.Name())

	// the new name hits the cache without a list call
	before := srv.RequestCount("GET", path)
	found, err := pm.FindByName(ctx, "p2")
	require.NoError(t, err)
	assert.Same(t, p, found)
	assert.Equal(t, before, srv.RequestCount("GET", path))

	// the old name misses the cache, falls back to the server and is gone
	_, err = pm.FindByName(ctx, "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindByNameRejectedForUnnamedResources(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)

	// storage volumes have no unique names
	m := client.ManagerFor(StorageVolumeDefinition, nil)
	_, err := m.FindByName(context.Background(), "vol1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFilter))
}

func TestManagerForCachesPerScope(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC02"})

	cpc1, err := client.CPCs().FindByName(ctx, "CPC01")
	require.NoError(t, err)
	cpc2, err := client.CPCs().FindByName(ctx, "CPC02")
	require.NoError(t, err)

	assert.Same(t, PartitionsOf(cpc1), PartitionsOf(cpc1))
	assert.NotSame(t, PartitionsOf(cpc1), PartitionsOf(cpc2))
	assert.Same(t, client.CPCs(), client.CPCs())
}

func TestResourceObjectReuse(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})
	cpcs, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)
	require.Len(t, cpcs, 1)

	same := client.CPCs().ResourceObject(cpcs[0].URI(), nil)
	assert.Same(t, cpcs[0], same)

	fresh := client.CPCs().ResourceObject("/api/cpcs/not-listed", map[string]any{"name": "ghost"})
	assert.Equal(t, "ghost", fresh.Name())
	assert.Equal(t, "/api/cpcs/not-listed", fresh.URI())
}
