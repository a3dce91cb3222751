package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metrapark/facility-sync/pkg/facility"
	"github.com/metrapark/facility-sync/pkg/pool"
	"github.com/metrapark/facility-sync/pkg/provider"
	"github.com/metrapark/facility-sync/pkg/storage"
)

// fakeProvider is a scriptable in-memory provider.
type fakeProvider struct {
	name        string
	offers      bool
	healthy     bool
	healthErr   error
	totalCount  int
	readSize    int
	failPages   map[int]bool
	panicPages  map[int]bool
	readCalls   atomic.Int32
	healthCalls atomic.Int32
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) OffersCurrentParking() bool { return f.offers }
func (f *fakeProvider) ReadSize() int              { return f.readSize }

func (f *fakeProvider) Check(ctx context.Context) (provider.HealthSignal, error) {
	f.healthCalls.Add(1)
	if f.healthErr != nil {
		return provider.HealthSignal{}, f.healthErr
	}
	return provider.HealthSignal{Healthy: f.healthy, TotalCount: f.totalCount}, nil
}

func (f *fakeProvider) Read(ctx context.Context, pageNumber, pageSize int) ([]facility.Facility, error) {
	f.readCalls.Add(1)
	if f.panicPages[pageNumber] {
		panic("scripted panic")
	}
	if f.failPages[pageNumber] {
		return nil, errors.New("scripted read failure")
	}

	first := (pageNumber-1)*pageSize + 1
	last := pageNumber * pageSize
	if last > f.totalCount {
		last = f.totalCount
	}
	var records []facility.Facility
	for i := first; i <= last; i++ {
		records = append(records, facility.Facility{
			ID:       fmt.Sprintf("%s-lot-%d", f.name, i),
			Provider: f.name,
			Address:  fmt.Sprintf("%d Main St", i),
		})
	}
	return records, nil
}

// fakeGeocoder resolves every address, optionally failing specific ones.
type fakeGeocoder struct {
	failAddresses map[string]bool
	calls         atomic.Int32
}

func (g *fakeGeocoder) Lookup(ctx context.Context, address string) (facility.Coordinates, error) {
	g.calls.Add(1)
	if g.failAddresses[address] {
		return facility.Coordinates{}, errors.New("scripted geocode failure")
	}
	return facility.Coordinates{Latitude: 37.5, Longitude: 127.0}, nil
}

// failingStore rejects every batch.
type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) SaveAll(ctx context.Context, records []facility.Facility) error {
	s.calls.Add(1)
	return errors.New("scripted store failure")
}

func testPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(pool.Config{MinWorkers: 4, MaxWorkers: 20, ShutdownGrace: time.Second})
	t.Cleanup(func() { p.Shutdown() })
	return p
}

func healthyProvider(name string, totalCount, readSize int) *fakeProvider {
	return &fakeProvider{
		name:       name,
		offers:     true,
		healthy:    true,
		totalCount: totalCount,
		readSize:   readSize,
	}
}

func TestRunOnce_AllPagesSucceed(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 10, 10)
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if store.Count() != 10 {
		t.Errorf("Persisted %d records, want 10", store.Count())
	}
	if p.readCalls.Load() == 0 {
		t.Error("Expected read to be called")
	}
}

func TestRunOnce_PaginationPlansOneTaskPerPage(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 5, 1)
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if got := p.readCalls.Load(); got != 5 {
		t.Errorf("Read calls = %d, want 5 (one per page)", got)
	}
	if store.Count() != 5 {
		t.Errorf("Persisted %d records, want 5", store.Count())
	}
}

func TestRunOnce_PartialPageFailure(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 5, 1)
	p.failPages = map[int]bool{2: true, 4: true}
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	// All 5 pages are attempted; only the 3 surviving pages persist.
	if got := p.readCalls.Load(); got != 5 {
		t.Errorf("Read calls = %d, want 5", got)
	}
	if store.Count() != 3 {
		t.Errorf("Persisted %d records, want 3", store.Count())
	}
}

func TestRunOnce_AllPagesFail(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 3, 1)
	p.failPages = map[int]bool{1: true, 2: true, 3: true}
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	// Must not panic or propagate anything.
	s.RunOnce(context.Background())

	if store.Count() != 0 {
		t.Errorf("Persisted %d records, want 0", store.Count())
	}
	if store.Saves() != 0 {
		t.Errorf("SaveAll calls = %d, want 0", store.Saves())
	}
	if p.readCalls.Load() != 3 {
		t.Errorf("Read calls = %d, want 3 (all pages attempted)", p.readCalls.Load())
	}
}

func TestRunOnce_PanickingPageIsIsolated(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 3, 1)
	p.panicPages = map[int]bool{2: true}
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if store.Count() != 2 {
		t.Errorf("Persisted %d records, want 2 (panicking page excluded)", store.Count())
	}
}

func TestRunOnce_UnhealthyProviderNeverRead(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 10, 10)
	p.healthy = false
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if p.readCalls.Load() != 0 {
		t.Errorf("Read calls = %d, want 0 for unhealthy provider", p.readCalls.Load())
	}
	if store.Count() != 0 {
		t.Errorf("Persisted %d records, want 0", store.Count())
	}
}

func TestRunOnce_HealthCheckErrorSkipsProvider(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 10, 10)
	p.healthErr = errors.New("health endpoint down")
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if p.readCalls.Load() != 0 {
		t.Errorf("Read calls = %d, want 0 after failed health check", p.readCalls.Load())
	}
}

func TestRunOnce_OfferFlagGatesAllCalls(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 10, 10)
	p.offers = false
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	if p.healthCalls.Load() != 0 {
		t.Errorf("Health calls = %d, want 0 when offer flag is off", p.healthCalls.Load())
	}
	if p.readCalls.Load() != 0 {
		t.Errorf("Read calls = %d, want 0 when offer flag is off", p.readCalls.Load())
	}
}

func TestRunOnce_EmptyProviderStillDispatchesOnePage(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 0, 10)
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	// totalCount == 0 still plans one empty-expected page.
	if p.readCalls.Load() != 1 {
		t.Errorf("Read calls = %d, want 1 for empty provider", p.readCalls.Load())
	}
	if store.Saves() != 0 {
		t.Errorf("SaveAll calls = %d, want 0 for empty result", store.Saves())
	}
}

func TestRunOnce_ProviderIsolation(t *testing.T) {
	store := storage.NewMemory()
	good := healthyProvider("city-good", 5, 5)
	bad := healthyProvider("city-bad", 5, 1)
	bad.failPages = map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}
	unhealthy := healthyProvider("city-down", 5, 5)
	unhealthy.healthy = false

	s := New([]provider.Provider{bad, unhealthy, good}, &fakeGeocoder{}, store, testPool(t))

	s.RunOnce(context.Background())

	// The good provider's data survives its siblings' total failure.
	if store.Count() != 5 {
		t.Errorf("Persisted %d records, want 5 from the good provider", store.Count())
	}
	for _, rec := range store.Records() {
		if rec.Provider != "city-good" {
			t.Errorf("Unexpected record from provider %s", rec.Provider)
		}
	}
}

func TestRunOnce_PersistFailureIsolatedToProvider(t *testing.T) {
	store := &failingStore{}
	p := healthyProvider("city-a", 5, 5)
	q := healthyProvider("city-b", 5, 5)
	s := New([]provider.Provider{p, q}, &fakeGeocoder{}, store, testPool(t))

	// Both providers are attempted even though persistence always fails.
	s.RunOnce(context.Background())

	if store.calls.Load() != 2 {
		t.Errorf("SaveAll calls = %d, want 2", store.calls.Load())
	}
}

func TestRunOnce_GeocodeFailureExcludesRecordOnly(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 3, 3)
	geocoder := &fakeGeocoder{failAddresses: map[string]bool{"2 Main St": true}}
	s := New([]provider.Provider{p}, geocoder, store, testPool(t))

	s.RunOnce(context.Background())

	if store.Count() != 2 {
		t.Errorf("Persisted %d records, want 2 (failed lookup excluded)", store.Count())
	}
	for _, rec := range store.Records() {
		if !rec.Geocoded {
			t.Errorf("Record %s should carry coordinates", rec.ID)
		}
	}
}

func TestRunOnce_PoolRejectionBecomesPageFailure(t *testing.T) {
	// A pool with one worker and no headroom: occupy it so every page
	// submission is rejected.
	p := pool.New(pool.Config{MinWorkers: 1, MaxWorkers: 1, ShutdownGrace: time.Second})
	defer p.Shutdown()

	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	if err := p.Submit(func() {
		started.Done()
		<-block
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	started.Wait()

	store := storage.NewMemory()
	prov := healthyProvider("city-a", 3, 1)
	s := New([]provider.Provider{prov}, &fakeGeocoder{}, store, p)

	done := make(chan struct{})
	go func() {
		s.RunOnce(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunOnce blocked on a saturated pool; rejections must fail fast")
	}
	close(block)

	if prov.readCalls.Load() != 0 {
		t.Errorf("Read calls = %d, want 0 with a saturated pool", prov.readCalls.Load())
	}
	if store.Count() != 0 {
		t.Errorf("Persisted %d records, want 0", store.Count())
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := storage.NewMemory()
	p := healthyProvider("city-a", 1, 1)
	s := New([]provider.Provider{p}, &fakeGeocoder{}, store, testPool(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	// The first run fires immediately; then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	if store.Count() != 1 {
		t.Errorf("Persisted %d records, want 1 from the immediate run", store.Count())
	}
}
