package backend

import (
	"context"
	"flag"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"github.com/bringyour/social/social"
)

func init() {
	initGlog()
	gin.SetMode(gin.TestMode)
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

const testPassword = "password1"

func testSettings() *ServerSettings {
	settings := DefaultServerSettings()
	settings.JwtSecret = []byte("test secret")
	settings.MaxBlobSize = 1024
	return settings
}

type testBackend struct {
	ctx        context.Context
	store      *social.LocalDocumentStore
	server     *Server
	httpServer *httptest.Server
}

func newTestBackend(ctx context.Context, t *testing.T) *testBackend {
	store := social.NewLocalDocumentStoreWithDefaults()
	server := NewServer(ctx, store, NewMemoryBlobEngine(), testSettings())
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	// live connections end with the server context, before the http server closes
	t.Cleanup(func() {
		server.Shutdown()
	})
	return &testBackend{
		ctx:        ctx,
		store:      store,
		server:     server,
		httpServer: httpServer,
	}
}

func (self *testBackend) api() *social.Api {
	return social.NewApiWithContext(self.ctx, self.httpServer.URL)
}

// a new account with a signed in app over the http and live apis
func (self *testBackend) app(t *testing.T, name string) *social.App {
	api := self.api()
	app := social.NewAppWithDefaults(
		self.ctx,
		social.NewApiIdentityService(api),
		social.NewApiDocumentStoreWithDefaults(api),
		social.NewApiBlobStore(api),
	)
	t.Cleanup(app.Close)
	_, err := app.SignUp(self.ctx, &social.SignUpArgs{
		Name:     name,
		Email:    name + "@example.com",
		Password: testPassword,
	})
	assert.Equal(t, err, nil)
	return app
}

func me(app *social.App) social.Id {
	return app.Session.Identity().Id
}

type snapshotResult struct {
	docs []*social.Document
	err  error
}

// collects snapshots of a store subscription
func subscribe(ctx context.Context, t *testing.T, store social.DocumentStore, query *social.Query) chan snapshotResult {
	results := make(chan snapshotResult, 64)
	cancel, err := store.Subscribe(ctx, query, func(snapshot *social.Snapshot, err error) {
		if err != nil {
			results <- snapshotResult{err: err}
			return
		}
		results <- snapshotResult{docs: snapshot.Documents}
	})
	assert.Equal(t, err, nil)
	t.Cleanup(cancel)
	return results
}

func nextResult(t *testing.T, results chan snapshotResult) snapshotResult {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for snapshot.")
		return snapshotResult{}
	}
}

// waits for a snapshot that satisfies `condition`
func waitResult(t *testing.T, results chan snapshotResult, condition func(result snapshotResult) bool) snapshotResult {
	t.Helper()
	end := time.After(5 * time.Second)
	for {
		select {
		case result := <-results:
			if condition(result) {
				return result
			}
		case <-end:
			t.Fatal("Timeout waiting for snapshot.")
			return snapshotResult{}
		}
	}
}
