package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vesaa/hostpulse/internal/apperr"
	"github.com/vesaa/hostpulse/internal/cache"
	"github.com/vesaa/hostpulse/internal/models"
	"github.com/vesaa/hostpulse/internal/store"
	"github.com/vesaa/hostpulse/internal/telemetry"
	"go.uber.org/zap"
)

type fakeSampler struct {
	calls   atomic.Int32
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSampler) Collect(ctx context.Context) (models.Reading, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.Reading{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.Reading{}, f.err
	}
	return models.Reading{
		Timestamp:     time.Now().UTC(),
		CPUPercent:    12.5,
		MemoryPercent: 40,
		DiskPercent:   70.25,
		NetworkSentMB: 0.5,
		NetworkRecvMB: 1.25,
		Hostname:      "node-a",
	}, nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "metrics.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestReadCurrentNeverWrites(t *testing.T) {
	st := newStore(t)
	svc := New(&fakeSampler{}, st, Options{})
	ctx := context.Background()

	before, _ := st.Count(ctx)
	r, err := svc.ReadCurrent(ctx)
	if err != nil {
		t.Fatalf("ReadCurrent: %v", err)
	}
	if r.Hostname != "node-a" {
		t.Fatalf("unexpected reading %+v", r)
	}
	after, _ := st.Count(ctx)
	if before != after {
		t.Fatalf("row count changed: %d -> %d", before, after)
	}
}

func TestReadCurrentCoalescesConcurrentCallers(t *testing.T) {
	fs := &fakeSampler{entered: make(chan struct{}, 8), release: make(chan struct{})}
	svc := New(fs, nil, Options{Timeout: 5 * time.Second})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ReadCurrent(context.Background())
			errs <- err
		}()
	}
	<-fs.entered
	time.Sleep(50 * time.Millisecond)
	close(fs.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("ReadCurrent: %v", err)
		}
	}
	if n := fs.calls.Load(); n != 1 {
		t.Fatalf("sampler called %d times, want 1", n)
	}
}

func TestReadCurrentCallerCancel(t *testing.T) {
	fs := &fakeSampler{release: make(chan struct{})}
	svc := New(fs, nil, Options{Timeout: time.Second})
	defer close(fs.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.ReadCurrent(ctx); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCollectAndPersistThenLatestAndHistory(t *testing.T) {
	st := newStore(t)
	m := telemetry.New(prometheus.NewRegistry())
	svc := New(&fakeSampler{}, st, Options{Metrics: m})
	ctx := context.Background()

	if _, err := svc.GetLatest(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty store: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetHistory(ctx, 1, 100); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty window: expected ErrNotFound, got %v", err)
	}

	stored, err := svc.CollectAndPersist(ctx)
	if err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}
	if stored.ID != 1 {
		t.Fatalf("first id = %d, want 1", stored.ID)
	}

	latest, err := svc.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.ID != stored.ID || latest.CPUPercent != stored.CPUPercent || !latest.Timestamp.Equal(stored.Timestamp) {
		t.Fatalf("latest = %+v, want %+v", latest, stored)
	}

	rows, err := svc.GetHistory(ctx, 1, 100)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 1 {
		t.Fatalf("history = %+v", rows)
	}

	sum, err := svc.GetSummary(ctx, 1, 100)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if sum.Count != 1 || sum.CPUPercent.Max != 12.5 {
		t.Fatalf("summary = %+v", sum)
	}

	if _, err := svc.GetHistory(ctx, 0, 100); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("hours=0: expected ErrValidation, got %v", err)
	}
}

func TestCollectAndPersistSamplerFailure(t *testing.T) {
	st := newStore(t)
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	svc := New(&fakeSampler{err: errors.New("proc unreadable")}, st, Options{Metrics: m})
	ctx := context.Background()

	_, err := svc.CollectAndPersist(ctx)
	if !errors.Is(err, apperr.ErrCollectionFailed) || !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected CollectionFailed+Unavailable, got %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Fatalf("failed collect stored %d rows", n)
	}
	if got := collectCount(t, reg, telemetry.OutcomeFailed); got != 1 {
		t.Fatalf("expected 1 failed collect recorded, got %f", got)
	}
}

func TestCollectAndPersistStoreFailure(t *testing.T) {
	st := newStore(t)
	_ = st.Close()
	svc := New(&fakeSampler{}, st, Options{})

	_, err := svc.CollectAndPersist(context.Background())
	if !errors.Is(err, apperr.ErrCollectionFailed) || !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("expected CollectionFailed+Unavailable, got %v", err)
	}
	if _, err := svc.GetLatest(context.Background()); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("GetLatest on closed store: %v", err)
	}
}

func TestCollectTimeout(t *testing.T) {
	fs := &fakeSampler{release: make(chan struct{})}
	defer close(fs.release)
	svc := New(fs, newStore(t), Options{Timeout: 20 * time.Millisecond})

	_, err := svc.CollectAndPersist(context.Background())
	if !errors.Is(err, apperr.ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout surfaced as unavailable, got %v", err)
	}
}

type fakeCache struct {
	mu      sync.Mutex
	sample  *models.Sample
	getErr  error
	offered int
	hits    int
}

func (c *fakeCache) Get(context.Context) (*models.Sample, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sample != nil {
		c.hits++
	}
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.sample, c.sample != nil, nil
}

func (c *fakeCache) Offer(_ context.Context, s *models.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offered++
	c.sample = s
	return nil
}

func (c *fakeCache) Reset(_ context.Context, s *models.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sample = s
	return nil
}

func TestLatestUsesCache(t *testing.T) {
	st := newStore(t)
	c := &fakeCache{}
	svc := New(&fakeSampler{}, st, Options{Cache: c})
	ctx := context.Background()

	stored, err := svc.CollectAndPersist(ctx)
	if err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}
	if c.offered != 1 {
		t.Fatalf("cache offered %d times", c.offered)
	}

	got, err := svc.GetLatest(ctx)
	if err != nil || got.ID != stored.ID {
		t.Fatalf("GetLatest from cache: %+v %v", got, err)
	}
	if c.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", c.hits)
	}
}

func TestSyncCacheClearsStaleEntry(t *testing.T) {
	st := newStore(t)
	stale := &models.Sample{ID: 7, Timestamp: time.Now().UTC(), Hostname: "elsewhere"}
	c := &fakeCache{sample: stale}
	svc := New(&fakeSampler{}, st, Options{Cache: c})
	ctx := context.Background()

	if err := svc.SyncCache(ctx); err != nil {
		t.Fatalf("SyncCache: %v", err)
	}
	if _, err := svc.GetLatest(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty store after sync: want ErrNotFound, got %v", err)
	}

	stored, err := svc.CollectAndPersist(ctx)
	if err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}
	c.sample = stale
	if err := svc.SyncCache(ctx); err != nil {
		t.Fatalf("SyncCache: %v", err)
	}
	if c.sample == nil || c.sample.ID != stored.ID {
		t.Fatalf("cache not reseeded from store: %+v", c.sample)
	}
}

func TestSharedRedisKeepsInstancesApart(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newInstance := func(dbName string) (*Service, *store.Store) {
		path := filepath.Join(t.TempDir(), dbName)
		st, err := store.Open("sqlite", path, zap.NewNop())
		if err != nil {
			t.Fatalf("store.Open: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		c := cache.NewLatest(mr.Addr(), "", 0, cache.KeyFor("node-a", path), time.Hour)
		t.Cleanup(func() { _ = c.Close() })
		svc := New(&fakeSampler{}, st, Options{Cache: c})
		if err := svc.SyncCache(ctx); err != nil {
			t.Fatalf("SyncCache: %v", err)
		}
		return svc, st
	}

	populated, _ := newInstance("a.db")
	if _, err := populated.CollectAndPersist(ctx); err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}

	empty, emptyStore := newInstance("b.db")
	if n, _ := emptyStore.Count(ctx); n != 0 {
		t.Fatalf("second store has %d rows", n)
	}
	if got, err := empty.GetLatest(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty instance GetLatest = %+v, %v; want ErrNotFound", got, err)
	}
	if got, err := populated.GetLatest(ctx); err != nil || got.ID != 1 {
		t.Fatalf("populated instance GetLatest = %+v, %v", got, err)
	}
}

func TestSyncCacheAfterDatabaseReset(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.db")
	key := cache.KeyFor("node-a", path)

	first, err := store.Open("sqlite", path, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	c := cache.NewLatest(mr.Addr(), "", 0, key, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	if _, err := New(&fakeSampler{}, first, Options{Cache: c}).CollectAndPersist(ctx); err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}
	_ = first.Close()
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			t.Fatalf("remove %s: %v", f, err)
		}
	}

	fresh, err := store.Open("sqlite", path, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = fresh.Close() })
	svc := New(&fakeSampler{}, fresh, Options{Cache: c})
	if err := svc.SyncCache(ctx); err != nil {
		t.Fatalf("SyncCache: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("stale key survived the sync")
	}
	if _, err := svc.GetLatest(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound after reset, got %v", err)
	}
}

func TestLatestFallsBackWhenCacheFails(t *testing.T) {
	st := newStore(t)
	svc := New(&fakeSampler{}, st, Options{Cache: &fakeCache{getErr: errors.New("redis down")}})
	ctx := context.Background()

	if _, err := svc.CollectAndPersist(ctx); err != nil {
		t.Fatalf("CollectAndPersist: %v", err)
	}
	got, err := svc.GetLatest(ctx)
	if err != nil || got.ID != 1 {
		t.Fatalf("fallback GetLatest: %+v %v", got, err)
	}
}

// collectCount sums hostpulse_collect_total samples with the given outcome.
func collectCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != "hostpulse_collect_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
