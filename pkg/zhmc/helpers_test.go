package zhmc

import (
	"context"
	"testing"
	"time"

	"github.com/zhmcclient/zhmc-go/internal/hmctest"
)

const (
	testUserid   = "ensadmin"
	testPassword = "password1"
)

func newTestServer(t *testing.T) *hmctest.Server {
	t.Helper()
	srv := hmctest.New(testUserid, testPassword)
	t.Cleanup(srv.Close)

	srv.AddCollection(&hmctest.Collection{
		Path:       "/api/consoles",
		Field:      "consoles",
		QueryProps: []string{"name"},
	})
	srv.AddCollection(&hmctest.Collection{
		Path:       "/api/cpcs",
		Field:      "cpcs",
		QueryProps: []string{"name"},
	})
	return srv
}

func newTestClient(t *testing.T, srv *hmctest.Server, opts ...ClientOption) *Client {
	t.Helper()
	session := NewSession(SessionOptions{
		BaseURL:         srv.URL(),
		Userid:          testUserid,
		Password:        testPassword,
		Timeout:         5 * time.Second,
		JobTimeout:      2 * time.Second,
		JobPollInterval: 10 * time.Millisecond,
	})
	client := NewClient(session, opts...)
	t.Cleanup(func() {
		client.Close(context.Background())
	})
	return client
}

// addPartitionCollection registers the partition collection of a CPC and
// returns its path.
func addPartitionCollection(srv *hmctest.Server, cpcURI string) string {
	path := cpcURI + "/partitions"
	srv.AddCollection(&hmctest.Collection{
		Path:       path,
		Field:      "partitions",
		QueryProps: []string{"name", "status"},
	})
	return path
}
