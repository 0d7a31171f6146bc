package zhmc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhmcclient/zhmc-go/internal/hmctest"
)

const eventually = 3 * time.Second
const tick = 10 * time.Millisecond

// autoUpdateFixture wires a client with an auto-updated CPC manager against
// a fake HMC and waits for the push channel to come up.
type autoUpdateFixture struct {
	srv    *hmctest.Server
	client *Client
	cpcs   *Manager
	uri1   string
	uri2   string
}

func newAutoUpdateFixture(t *testing.T) *autoUpdateFixture {
	t.Helper()
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	f := &autoUpdateFixture{srv: srv, client: client}
	f.uri1 = srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01", "status": "active"})
	f.uri2 = srv.AddObject("/api/cpcs", map[string]any{"name": "CPC02", "status": "active"})

	f.cpcs = client.CPCs()
	require.NoError(t, f.cpcs.EnableAutoUpdate(ctx))
	require.True(t, client.AutoUpdateActive())
	require.Eventually(t, func() bool {
		return srv.SubscriberCount() == 1
	}, eventually, tick)
	return f
}

func (f *autoUpdateFixture) oid(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '/' {
			return uri[i+1:]
		}
	}
	return uri
}

func TestAutoUpdateAppliesPropertyChanges(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC01")
	require.NoError(t, err)
	handle, err := cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)
	defer cpc.DisableAutoUpdate(handle)
	require.True(t, cpc.AutoUpdateEnabled())

	f.srv.PushNotification(map[string]any{
		"notification-type": "property-change",
		"class":             "cpc",
		"object-uri":        f.uri1,
		"property-changes": []map[string]any{
			{"property-name": "description", "old-value": nil, "new-value": "interim"},
			{"property-name": "description", "old-value": "interim", "new-value": "final"},
		},
	})

	require.Eventually(t, func() bool {
		v, ok := cpc.Property("description")
		return ok && v == "final"
	}, eventually, tick, "only the last reported value per property is applied")
}

func TestAutoUpdateAppliesStatusChanges(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC02")
	require.NoError(t, err)
	_, err = cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)

	f.srv.PushNotification(map[string]any{
		"notification-type": "status-change",
		"class":             "cpc",
		"object-uri":        f.uri2,
		"status-change": map[string]any{
			"status":                  "degraded",
			"additional-status":       "service required",
			"has-unacceptable-status": true,
		},
	})

	require.Eventually(t, func() bool {
		v, ok := cpc.Property("status")
		return ok && v == "degraded"
	}, eventually, tick)
	v, ok := cpc.Property("has-unacceptable-status")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestAutoUpdateRenameKeepsCacheConsistent(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC01")
	require.NoError(t, err)
	_, err = cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)

	f.srv.SetProperty(f.uri1, "name", "CPC01-renamed")
	f.srv.PushNotification(map[string]any{
		"notification-type": "property-change",
		"class":             "cpc",
		"object-uri":        f.uri1,
		"property-changes": []map[string]any{
			{"property-name": "name", "old-value": "CPC01", "new-value": "CPC01-renamed"},
		},
	})

	require.Eventually(t, func() bool {
		return cpc.Name() == "CPC01-renamed"
	}, eventually, tick)

	found, err := f.cpcs.FindByName(ctx, "CPC01-renamed")
	require.NoError(t, err)
	assert.Same(t, cpc, found)
}

func TestAutoUpdateInventoryAddGrowsLiveList(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	listsBefore := f.srv.RequestCount("GET", "/api/cpcs")

	// the live list answers without I/O
	cpcs, err := f.cpcs.List(ctx, false, nil)
	require.NoError(t, err)
	require.Len(t, cpcs, 2)
	assert.Equal(t, listsBefore, f.srv.RequestCount("GET", "/api/cpcs"))

	uri3 := f.srv.AddObject("/api/cpcs", map[string]any{"name": "CPC03", "status": "active"})
	f.srv.PushNotification(map[string]any{
		"notification-type": "inventory-change",
		"class":             "cpc",
		"object-uri":        uri3,
		"action":            "add",
	})

	require.Eventually(t, func() bool {
		cpcs, err := f.cpcs.List(ctx, false, nil)
		return err == nil && len(cpcs) == 3
	}, eventually, tick)

	// the new entry is a full member: findable by name from the live list
	cpc3, err := f.cpcs.FindByName(ctx, "CPC03")
	require.NoError(t, err)
	assert.Equal(t, uri3, cpc3.URI())
}

func TestAutoUpdateInventoryRemoveCeasesResource(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC02")
	require.NoError(t, err)
	_, err = cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)

	f.srv.RemoveObject(f.uri2)
	f.srv.PushNotification(map[string]any{
		"notification-type": "inventory-change",
		"class":             "cpc",
		"object-uri":        f.uri2,
		"action":            "remove",
	})

	require.Eventually(t, func() bool {
		return cpc.Ceased()
	}, eventually, tick)

	cpcs, err := f.cpcs.List(ctx, false, nil)
	require.NoError(t, err)
	require.Len(t, cpcs, 1)
	assert.Equal(t, "CPC01", cpcs[0].Name())
}

func TestAutoUpdateScopedToChildManager(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	path := addPartitionCollection(f.srv, f.uri1)
	f.srv.AddObject(path, map[string]any{"name": "p1", "status": "active"})

	cpc, err := f.cpcs.FindByName(ctx, "CPC01")
	require.NoError(t, err)
	pm := PartitionsOf(cpc)
	require.NoError(t, pm.EnableAutoUpdate(ctx))

	parts, err := pm.List(ctx, false, nil)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	// an inventory add carrying no parent-uri resolves the scope from the
	// hierarchical object URI
	newURI := f.srv.AddObject(path, map[string]any{"name": "p2", "status": "stopped"})
	f.srv.PushNotification(map[string]any{
		"notification-type": "inventory-change",
		"class":             "partition",
		"object-uri":        newURI,
		"action":            "add",
	})

	require.Eventually(t, func() bool {
		parts, err := pm.List(ctx, false, nil)
		return err == nil && len(parts) == 2
	}, eventually, tick)
}

func TestAutoUpdatePublishesEvents(t *testing.T) {
	f := newAutoUpdateFixture(t)

	events, cancel := f.client.Events().Subscribe("cpc.*.status-change", 8)
	defer cancel()

	f.srv.PushNotification(map[string]any{
		"notification-type": "status-change",
		"class":             "cpc",
		"object-uri":        f.uri1,
		"status-change":     map[string]any{"status": "degraded"},
	})

	select {
	case ev := <-events:
		assert.Equal(t, "cpc."+f.oid(f.uri1)+".status-change", ev.Topic)
		assert.Equal(t, NotificationStatusChange, ev.Kind)
		assert.Equal(t, f.uri1, ev.URI)
		assert.Equal(t, "degraded", ev.Properties["status"])
	case <-time.After(eventually):
		t.Fatal("no event published")
	}
}

func TestAutoUpdateDisableDropsLiveList(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	require.True(t, f.cpcs.AutoUpdateEnabled())
	f.cpcs.DisableAutoUpdate()
	require.False(t, f.cpcs.AutoUpdateEnabled())

	before := f.srv.RequestCount("GET", "/api/cpcs")
	_, err := f.cpcs.List(ctx, false, Filters{"status": "active"})
	require.NoError(t, err)
	assert.Greater(t, f.srv.RequestCount("GET", "/api/cpcs"), before,
		"without the live list, listing goes back to the server")
}

func TestAutoUpdateReconnectsAfterLostConnection(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC01")
	require.NoError(t, err)
	_, err = cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)

	f.srv.DropSubscribers()
	require.Eventually(t, func() bool {
		return f.srv.SubscriberCount() == 1
	}, 10*time.Second, 50*time.Millisecond, "dispatcher re-subscribes")

	// dispatch works again after the reconnect
	f.srv.PushNotification(map[string]any{
		"notification-type": "property-change",
		"class":             "cpc",
		"object-uri":        f.uri1,
		"property-changes": []map[string]any{
			{"property-name": "description", "new-value": "post-reconnect"},
		},
	})
	require.Eventually(t, func() bool {
		v, ok := cpc.Property("description")
		return ok && v == "post-reconnect"
	}, eventually, tick)
}

func TestResourceAutoUpdateHandlesAreRefCounted(t *testing.T) {
	f := newAutoUpdateFixture(t)
	ctx := context.Background()

	cpc, err := f.cpcs.FindByName(ctx, "CPC01")
	require.NoError(t, err)

	h1, err := cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)
	h2, err := cpc.EnableAutoUpdate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	cpc.DisableAutoUpdate(h1)
	assert.True(t, cpc.AutoUpdateEnabled(), "one registrant's disable never breaks another's")
	cpc.DisableAutoUpdate(h2)
	assert.False(t, cpc.AutoUpdateEnabled())

	// releasing an unknown handle is a no-op
	cpc.DisableAutoUpdate("bogus")
}
