package usecase

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdao/propindex/internal/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	prices   map[uint64]uint64
	failures []string
	block    chan struct{}
}

func (g *fakeGateway) Collect(ctx context.Context, city CityTarget) ([]domain.PriceSample, []string) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	price, ok := g.prices[city.ID]
	if !ok {
		price = city.BasePrice
	}
	return []domain.PriceSample{
		{Source: "sourceA", Price: price, Weight: 1, Confidence: 90},
		{Source: "sourceB", Price: price, Weight: 1, Confidence: 80},
	}, g.failures
}

type fakeStore struct {
	mu      sync.Mutex
	latest  *domain.PriceSnapshot
	history []domain.HistoryEntry
	saveErr error
}

func (s *fakeStore) SaveLatest(ctx context.Context, snap domain.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.latest = &snap
	return nil
}

func (s *fakeStore) Latest(ctx context.Context) (domain.PriceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.PriceSnapshot{}, domain.ErrSnapshotMissing
	}
	return *s.latest, nil
}

func (s *fakeStore) AppendHistory(ctx context.Context, entry domain.HistoryEntry, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	return nil
}

func (s *fakeStore) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HistoryEntry(nil), s.history...), nil
}

type fakeStats struct {
	mu        sync.Mutex
	successes int64
	errors    int64
}

func (s *fakeStats) RecordSuccess(ctx context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes++
}

func (s *fakeStats) RecordError(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

func (s *fakeStats) Stats(ctx context.Context) (domain.OracleStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.OracleStats{UpdateCount: s.successes, ErrorCount: s.errors}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.SnapshotEvent
}

func (p *fakePublisher) PublishSnapshot(ctx context.Context, event domain.SnapshotEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeRelay struct {
	mu    sync.Mutex
	snaps []domain.PriceSnapshot
	err   error
}

func (r *fakeRelay) Push(ctx context.Context, snap domain.PriceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.snaps = append(r.snaps, snap)
	return nil
}

func newTestOracle(gw *fakeGateway) (*OracleUsecase, *fakeStore, *fakeStats, *fakePublisher, *fakeRelay) {
	store := &fakeStore{}
	stats := &fakeStats{}
	publisher := &fakePublisher{}
	relay := &fakeRelay{}

	params := OracleParams{
		Cities: []CityTarget{
			{ID: 1, Name: "madrid", BasePrice: 100_000},
			{ID: 2, Name: "barcelona", BasePrice: 100_000},
		},
		Interval:     time.Hour,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		HistoryLimit: 5,
		BasePrice:    100_000,
		BaseIndex:    100_000,
	}

	uc := NewOracleUsecase(gw, store, publisher, stats, relay, params, slog.Default())
	return uc, store, stats, publisher, relay
}

func TestRunCycleProducesSnapshot(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{1: 110_000, 2: 90_000}}
	uc, store, stats, publisher, relay := newTestOracle(gw)
	ctx := context.Background()

	result, err := uc.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.CitiesUpdated)
	// Mean price equals the reference price, so the index stays at
	// the reference value.
	assert.Equal(t, uint64(100_000), result.GlobalIndex)

	snap, err := uc.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Cities, 2)
	assert.Equal(t, uint64(110_000), snap.Cities[0].Price)
	// Two sources at mean confidence 85 plus 2 per source.
	assert.InDelta(t, 89.0, snap.Cities[0].Confidence, 0.001)

	require.Len(t, store.history, 1)
	assert.Equal(t, uint64(110_000), store.history[0].CityPrices[1])

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "snapshot", publisher.events[0].Type)
	assert.Equal(t, 2, publisher.events[0].CityCount)

	require.Len(t, relay.snaps, 1)
	assert.EqualValues(t, 1, stats.successes)
}

func TestRunCycleIndexScaling(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{1: 110_000, 2: 110_000}}
	uc, _, _, _, _ := newTestOracle(gw)

	result, err := uc.RunCycle(context.Background())
	require.NoError(t, err)

	// Prices up 10% move the index up 10%.
	assert.Equal(t, uint64(110_000), result.GlobalIndex)
}

func TestRunCycleSingleFlight(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{}, block: make(chan struct{})}
	uc, _, _, _, _ := newTestOracle(gw)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := uc.RunCycle(ctx)
		done <- err
	}()

	// Wait until the first cycle is inside the gateway.
	gw.block <- struct{}{}

	_, err := uc.RunCycle(ctx)
	assert.ErrorIs(t, err, domain.ErrUpdateInProgress)

	gw.block <- struct{}{}
	require.NoError(t, <-done)

	// Finished cycles release the guard.
	gw.block = nil
	_, err = uc.RunCycle(ctx)
	assert.NoError(t, err)
}

func TestRunCycleStoreFailure(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{}}
	uc, store, stats, publisher, _ := newTestOracle(gw)
	store.saveErr = domain.StateError{Code: "DISK_FULL", Msg: "disk full"}

	_, err := uc.RunCycle(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, stats.errors)
	assert.Empty(t, publisher.events)

	_, err = uc.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrSnapshotMissing)
}

func TestRunCycleRelayFailureIsNotFatal(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{}}
	uc, store, stats, _, relay := newTestOracle(gw)
	relay.err = domain.ErrUnauthorized

	_, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, store.latest)
	assert.EqualValues(t, 1, stats.successes)
}

func TestCityLatest(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{1: 123_456}}
	uc, _, _, _, _ := newTestOracle(gw)
	ctx := context.Background()

	_, err := uc.CityLatest(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrSnapshotMissing)

	_, err = uc.RunCycle(ctx)
	require.NoError(t, err)

	city, err := uc.CityLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456), city.Price)
	assert.Equal(t, "madrid", city.Name)

	_, err = uc.CityLatest(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrCityNotFound)
}

func TestHistoryOrderingAndFilters(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{}}
	uc, _, _, _, _ := newTestOracle(gw)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		day := base.AddDate(0, 0, i)
		uc.now = func() time.Time { return day }
		gw.prices = map[uint64]uint64{1: 100_000 + uint64(i)*1000}
		_, err := uc.RunCycle(ctx)
		require.NoError(t, err)
	}
	uc.now = func() time.Time { return base.AddDate(0, 0, 4) }

	entries, err := uc.History(ctx, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	// Most recent first.
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))

	entries, err = uc.History(ctx, 2, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = uc.History(ctx, 0, 0, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = uc.History(ctx, 0, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(103_000), entries[0].CityPrices[1])
	assert.Len(t, entries[0].CityPrices, 1)
}

func TestHistoryTrimsToLimit(t *testing.T) {
	gw := &fakeGateway{prices: map[uint64]uint64{}}
	uc, store, _, _, _ := newTestOracle(gw)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := uc.RunCycle(ctx)
		require.NoError(t, err)
	}

	assert.Len(t, store.history, 5)
}
