package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/fetch"
	"github.com/timmy/catalogsync/internal/refresh"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRemote answers from a fixed payload table, or with a fixed status.
type fakeRemote struct {
	mu        sync.Mutex
	payloads  map[int64][]byte
	status    int
	requested [][]int64
}

func (r *fakeRemote) FetchBatch(ctx context.Context, ids []int64) (*source.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, append([]int64(nil), ids...))
	if r.status != 0 {
		return &source.Response{StatusCode: r.status}, nil
	}
	items := make(map[int64][]byte)
	for _, id := range ids {
		if p, ok := r.payloads[id]; ok {
			items[id] = p
		}
	}
	return &source.Response{StatusCode: 200, Items: items}, nil
}

func (r *fakeRemote) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requested)
}

type memoryPayloads struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryPayloads) Put(ctx context.Context, ref string, itemID int64, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[ref]; !ok {
		m.data[ref] = body
	}
	return nil
}

func (m *memoryPayloads) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.data[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPayloadNotFound, ref)
	}
	return body, nil
}

func (m *memoryPayloads) drop(ref string) {
	m.mu.Lock()
	delete(m.data, ref)
	m.mu.Unlock()
}

type memoryCatalog struct {
	mu    sync.Mutex
	items map[string]*domain.CatalogItem
}

func (m *memoryCatalog) Insert(ctx context.Context, item *domain.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s", item.ItemID, item.PayloadRef)
	if _, ok := m.items[key]; !ok {
		m.items[key] = item
	}
	return nil
}

func (m *memoryCatalog) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type harness struct {
	clock     *fakeClock
	store     *tracker.MemoryStore
	tracker   *tracker.Tracker
	remote    *fakeRemote
	payloads  *memoryPayloads
	catalog   *memoryCatalog
	scheduler *RefreshScheduler
	pipeline  *ProcessingPipeline
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	return newLaggedHarness(t, workers, 0)
}

// newLaggedHarness hides appended rows from other trackers for lag.
func newLaggedHarness(t *testing.T, workers int, lag time.Duration) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	store := tracker.NewMemoryStore(lag, clock.Now)
	tr := tracker.New(store, refresh.DefaultPolicy(), tracker.WithClock(clock.Now), tracker.WithWorker("test-worker"))
	remote := &fakeRemote{payloads: make(map[int64][]byte)}
	payloads := &memoryPayloads{data: make(map[string][]byte)}
	catalog := &memoryCatalog{items: make(map[string]*domain.CatalogItem)}

	client := fetch.NewClient(remote, fetch.NewLimiter(fetch.LimiterConfig{RatePerSecond: 1000}), fetch.Config{
		ChunkSize:      refresh.MaxChunkSize,
		MaxRetries:     0,
		BackoffInitial: time.Millisecond,
	})

	return &harness{
		clock:     clock,
		store:     store,
		tracker:   tr,
		remote:    remote,
		payloads:  payloads,
		catalog:   catalog,
		scheduler: NewRefreshScheduler(tr, client, payloads, &SchedulerConfig{Workers: workers}),
		pipeline:  NewProcessingPipeline(tr, payloads, catalog, &PipelineConfig{Workers: workers, BatchSize: 100}),
	}
}

func (h *harness) sight(t *testing.T, ids ...int64) {
	t.Helper()
	sightings := make([]domain.Sighting, len(ids))
	for i, id := range ids {
		sightings[i] = domain.Sighting{ItemID: id, ItemType: "boardgame"}
	}
	if err := h.tracker.RecordSightings(context.Background(), sightings); err != nil {
		t.Fatalf("RecordSightings: %v", err)
	}
}

func (h *harness) serve(id int64, year int) {
	h.remote.mu.Lock()
	h.remote.payloads[id] = []byte(fmt.Sprintf(
		`<item id="%d" type="boardgame"><name type="primary" value="Game %d"/><yearpublished value="%d"/></item>`,
		id, id, year))
	h.remote.mu.Unlock()
}

func (h *harness) serveRaw(id int64, payload string) {
	h.remote.mu.Lock()
	h.remote.payloads[id] = []byte(payload)
	h.remote.mu.Unlock()
}

func pendingIDs(t *testing.T, tr *tracker.Tracker) []int64 {
	t.Helper()
	pending, err := tr.PendingProcessing(context.Background())
	if err != nil {
		t.Fatalf("PendingProcessing: %v", err)
	}
	ids := make([]int64, len(pending))
	for i, p := range pending {
		ids[i] = p.ItemID
	}
	return ids
}
