package zhmc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLogon(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	session := client.Session()
	require.NoError(t, session.Logon(ctx))
	assert.NotEmpty(t, session.Token())
	assert.Equal(t, srv.Topic(), session.NotificationTopic())
}

func TestSessionLogonBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	session := NewSession(SessionOptions{
		BaseURL:  srv.URL(),
		Userid:   testUserid,
		Password: "wrong",
	})
	err := session.Logon(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuth))
	// authentication failures are not retried
	assert.Equal(t, 1, srv.RequestCount("POST", "/api/sessions"))
}

func TestSessionLazyLogonOnFirstRequest(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	_, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.RequestCount("POST", "/api/sessions"))
	assert.NotEmpty(t, client.Session().Token())
}

func TestSessionTransparentRelogonOnExpiry(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	_, err := client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)

	srv.ExpireSessions()

	// the expired token yields a 403 with the session-expired reason code;
	// the session re-logs on exactly once and retries
	_, err = client.CPCs().List(ctx, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.RequestCount("POST", "/api/sessions"))
	assert.Equal(t, 3, srv.RequestCount("GET", "/api/cpcs"))
}

func TestSessionLogoffClearsToken(t *testing.T) {
	srv := newTestServer(t)
	session := NewSession(SessionOptions{
		BaseURL:  srv.URL(),
		Userid:   testUserid,
		Password: testPassword,
	})
	ctx := context.Background()
	require.NoError(t, session.Logon(ctx))
	require.NoError(t, session.Logoff(ctx))
	assert.Empty(t, session.Token())
	assert.Empty(t, session.NotificationTopic())

	// logging off a logged-off session is a no-op
	require.NoError(t, session.Logoff(ctx))
	assert.Equal(t, 1, srv.RequestCount("DELETE", "/api/sessions/this-session"))
}

func TestAsyncOperationPollsJobToCompletion(t *testing.T) {
	srv := newTestServer(t)
	srv.AsyncOps = true
	srv.JobPolls = 2
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01", "status": "active"})

	_, err := client.Session().Post(ctx, uri+"/operations/start", nil)
	require.NoError(t, err)
}

func TestAsyncOperationJobTimeout(t *testing.T) {
	srv := newTestServer(t)
	srv.AsyncOps = true
	srv.JobPolls = 1 << 20 // never completes
	session := NewSession(SessionOptions{
		BaseURL:         srv.URL(),
		Userid:          testUserid,
		Password:        testPassword,
		JobTimeout:      80 * time.Millisecond,
		JobPollInterval: 10 * time.Millisecond,
	})
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01"})

	_, err := session.Post(ctx, uri+"/operations/start", nil)
	require.Error(t, err)

	var jte *JobTimeoutError
	require.True(t, errors.As(err, &jte))
	assert.Equal(t, "running", jte.LastStatus)
	assert.True(t, errors.Is(err, ErrOperationTimeout))
	assert.True(t, errors.Is(err, ErrClient))
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	_, err := client.Session().Get(ctx, "/api/cpcs/no-such-cpc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrClient))

	ae, ok := asAppError(err)
	require.True(t, ok)
	assert.Equal(t, 404, ae.StatusCode())
}

func TestConnectionErrorOnUnreachableHMC(t *testing.T) {
	session := NewSession(SessionOptions{
		BaseURL:  "http://127.0.0.1:1", // nothing listens here
		Userid:   testUserid,
		Password: testPassword,
		Timeout:  time.Second,
	})
	err := session.Logon(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestWaitForStatus(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	ctx := context.Background()

	uri := srv.AddObject("/api/cpcs", map[string]any{"name": "CPC01", "status": "starting"})
	cpc, err := client.CPCs().FindByName(ctx, "CPC01")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.SetProperty(uri, "status", "active")
	}()
	require.NoError(t, cpc.WaitForStatus(ctx, "active", 2*time.Second))

	err = cpc.WaitForStatus(ctx, "degraded", 60*time.Millisecond)
	require.Error(t, err)
	var ste *StatusTimeoutError
	require.True(t, errors.As(err, &ste))
	assert.Equal(t, "active", ste.LastStatus)
	assert.True(t, errors.Is(err, ErrStatusTimeout))
}
