package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/api/handler"
	"github.com/timmy/catalogsync/internal/api/middleware"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/fetch"
	"github.com/timmy/catalogsync/internal/refresh"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/tracker"
)

// gatedRemote blocks every request until the gate is closed.
type gatedRemote struct {
	gate chan struct{}
}

func (r *gatedRemote) FetchBatch(ctx context.Context, ids []int64) (*source.Response, error) {
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	items := make(map[int64][]byte)
	for _, id := range ids {
		items[id] = []byte(fmt.Sprintf(`<item id="%d" type="boardgame"><name type="primary" value="Game"/></item>`, id))
	}
	return &source.Response{StatusCode: http.StatusOK, Items: items}, nil
}

type mapPayloads struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapPayloads) Put(ctx context.Context, ref string, itemID int64, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ref] = body
	return nil
}

func (m *mapPayloads) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.data[ref]
	if !ok {
		return nil, domain.ErrPayloadNotFound
	}
	return body, nil
}

type mapCatalog struct {
	mu    sync.Mutex
	items map[int64]*domain.CatalogItem
}

func (m *mapCatalog) Insert(ctx context.Context, item *domain.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ItemID] = item
	return nil
}

func (m *mapCatalog) Latest(ctx context.Context, itemID int64) (*domain.CatalogItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[itemID], nil
}

type testServer struct {
	tracker *tracker.Tracker
	runner  *service.JobRunner
	remote  *gatedRemote
	catalog *mapCatalog
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tr := tracker.New(tracker.NewMemoryStore(0, nil), refresh.DefaultPolicy(), tracker.WithWorker("api-test"))
	remote := &gatedRemote{gate: make(chan struct{})}
	payloads := &mapPayloads{data: make(map[string][]byte)}
	catalog := &mapCatalog{items: make(map[int64]*domain.CatalogItem)}

	client := fetch.NewClient(remote, fetch.NewLimiter(fetch.LimiterConfig{RatePerSecond: 1000}), fetch.Config{ChunkSize: refresh.MaxChunkSize})
	runner := service.NewJobRunner(
		nil,
		service.NewRefreshScheduler(tr, client, payloads, &service.SchedulerConfig{Workers: 1}),
		service.NewProcessingPipeline(tr, payloads, catalog, &service.PipelineConfig{Workers: 1, BatchSize: 10}),
		time.Minute,
	)

	return &testServer{
		tracker: tr,
		runner:  runner,
		remote:  remote,
		catalog: catalog,
		handler: SetupRouter(tr, runner, catalog, RouterConfig{Mode: "test"}),
	}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) waitIdle(t *testing.T) *service.JobResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.runner.Status(); st != nil && !st.Running {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["worker"] != "api-test" {
		t.Errorf("worker: got %q, want %q", body["worker"], "api-test")
	}
}

func TestStartJobConflictsWhileRunning(t *testing.T) {
	s := newTestServer(t)
	if err := s.tracker.RecordSightings(context.Background(), []domain.Sighting{{ItemID: 7, ItemType: "boardgame"}}); err != nil {
		t.Fatalf("RecordSightings: %v", err)
	}

	w := s.do(http.MethodPost, "/api/v1/jobs/fetch", `{"limit": 5}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first start: got %d, want %d (%s)", w.Code, http.StatusAccepted, w.Body.String())
	}
	var started service.JobResult
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.Job != service.JobFetch || !started.Running {
		t.Errorf("started: got %+v, want running fetch job", started)
	}

	if w := s.do(http.MethodPost, "/api/v1/jobs/process", ""); w.Code != http.StatusConflict {
		t.Errorf("second start: got %d, want %d", w.Code, http.StatusConflict)
	}

	close(s.remote.gate)
	done := s.waitIdle(t)
	if done.ID != started.ID || done.Fetch == nil || done.Fetch.Success != 1 {
		t.Errorf("finished job: got %+v, want one success for %s", done, started.ID)
	}

	w = s.do(http.MethodGet, "/api/v1/status", "")
	var status handler.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Summary == nil || status.Summary.PendingProcessing != 1 {
		t.Errorf("summary: got %+v, want 1 pending", status.Summary)
	}
}

func TestStartJobRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown job", path: "/api/v1/jobs/reindex"},
		{name: "discover without source", path: "/api/v1/jobs/discover"},
		{name: "negative limit", path: "/api/v1/jobs/fetch", body: `{"limit": -1}`},
		{name: "malformed body", path: "/api/v1/jobs/fetch", body: `{"limit":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do(http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("got %d, want %d", w.Code, http.StatusBadRequest)
			}
			if s.runner.Status() != nil {
				t.Errorf("runner started a job: %+v", s.runner.Status())
			}
		})
	}
}

func TestItemEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	if err := s.tracker.RecordSightings(ctx, []domain.Sighting{{ItemID: 3, ItemType: "boardgame"}}); err != nil {
		t.Fatalf("RecordSightings: %v", err)
	}
	if err := s.tracker.RecordFetch(ctx, 3, domain.FetchSuccess, "ref-3"); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	s.catalog.items[3] = &domain.CatalogItem{ItemID: 3, PayloadRef: "ref-3", Name: "Game"}

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "history", path: "/api/v1/items/3/history", want: http.StatusOK},
		{name: "history of unknown item", path: "/api/v1/items/99/history", want: http.StatusNotFound},
		{name: "invalid id", path: "/api/v1/items/abc/history", want: http.StatusBadRequest},
		{name: "snapshot", path: "/api/v1/items/3", want: http.StatusOK},
		{name: "unprocessed snapshot", path: "/api/v1/items/4", want: http.StatusNotFound},
		{name: "preview", path: "/api/v1/refresh/preview", want: http.StatusOK},
		{name: "failures", path: "/api/v1/failures", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Errorf("got %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := s.do(http.MethodGet, "/api/v1/items/3/history", "")
	var history tracker.ItemHistory
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Fetches) != 1 || history.Fetches[0].PayloadRef != "ref-3" {
		t.Errorf("fetches: got %+v, want one fetch of ref-3", history.Fetches)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	router := SetupRouter(s.tracker, s.runner, s.catalog, RouterConfig{
		Mode: "test",
		CORS: middleware.CORSConfig{AllowedOrigins: []string{"https://ops.example.com"}},
	})

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "allowed origin", origin: "https://ops.example.com", wantOrigin: "https://ops.example.com"},
		{name: "other origin", origin: "https://evil.example.com", wantOrigin: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow origin: got %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && w.Code != http.StatusNoContent {
				t.Errorf("status: got %d, want %d", w.Code, http.StatusNoContent)
			}
		})
	}
}
