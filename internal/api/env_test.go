package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/incidentq/internal/connectivity"
	"github.com/kalambet/incidentq/internal/delivery"
	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/payload"
	"github.com/kalambet/incidentq/internal/pending"
	"github.com/kalambet/incidentq/internal/storage"
	"github.com/kalambet/incidentq/internal/syncer"
)

const testToken = "test-token-12345"

type fakeConnectivity struct {
	online atomic.Bool
}

func (c *fakeConnectivity) Online() bool { return c.online.Load() }

func (c *fakeConnectivity) Capability() connectivity.Capability {
	return connectivity.PolicyAnnotate.Capability(c.Online())
}

// testEnv wires the real queue stack against an httptest webhook.
type testEnv struct {
	store   *storage.Store
	orch    *syncer.Orchestrator
	board   *StatusBoard
	conn    *fakeConnectivity
	handler http.Handler
	mcp     MCPDeps

	webhookStatus atomic.Int32
	mu            sync.Mutex
	bodies        []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{conn: &fakeConnectivity{}, board: NewStatusBoard(5)}
	env.webhookStatus.Store(http.StatusOK)

	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.bodies = append(env.bodies, string(b))
		env.mu.Unlock()
		w.WriteHeader(int(env.webhookStatus.Load()))
	}))
	t.Cleanup(webhook.Close)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	env.store = store

	f := form.Default()
	enc, err := payload.NewEncoder(f)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	env.orch = syncer.New(syncer.Deps{
		Queue:    store,
		Encoder:  enc,
		Sender:   delivery.NewClient(webhook.URL, 2*time.Second),
		Status:   env.conn,
		Notifier: env.board,
	})
	projector := pending.NewProjector(store, f, env.conn)
	submitter := syncer.NewSubmitter(env.orch)

	env.handler = NewAppHandler(AppDeps{
		Form:         f,
		Submitter:    submitter,
		Syncer:       env.orch,
		Pending:      projector,
		Connectivity: env.conn,
		Board:        env.board,
		Token:        testToken,
	})
	env.mcp = MCPDeps{
		Form:         f,
		Submitter:    submitter,
		Syncer:       env.orch,
		Pending:      projector,
		Connectivity: env.conn,
		Board:        env.board,
	}
	return env
}

func (env *testEnv) received() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]string(nil), env.bodies...)
}

func (env *testEnv) queued(t *testing.T) int {
	t.Helper()
	n, err := env.store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
