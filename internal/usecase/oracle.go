package usecase

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/propdao/propindex/internal/domain"
)

// CityTarget describes one city the aggregator collects prices for.
type CityTarget struct {
	ID        uint64
	Name      string
	BasePrice uint64 // scaled reference price for the synthetic fallback
}

// PriceGateway queries the configured sources for one city. It never
// fails outright: when every source errors it falls back to the
// synthetic estimator, so the sample slice is never empty. The second
// return value lists per-source failures for the cycle report.
type PriceGateway interface {
	Collect(ctx context.Context, city CityTarget) ([]domain.PriceSample, []string)
}

// SnapshotStore persists the oracle's durable artifacts: the latest
// snapshot (atomically replaced) and the bounded history log.
type SnapshotStore interface {
	SaveLatest(ctx context.Context, snap domain.PriceSnapshot) error
	Latest(ctx context.Context) (domain.PriceSnapshot, error)
	AppendHistory(ctx context.Context, entry domain.HistoryEntry, limit int) error
	History(ctx context.Context) ([]domain.HistoryEntry, error)
}

// SnapshotPublisher fans a cycle result out to realtime subscribers.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, event domain.SnapshotEvent) error
}

// StatsRecorder tracks operational counters.
type StatsRecorder interface {
	RecordSuccess(ctx context.Context, d time.Duration)
	RecordError(ctx context.Context)
	Stats(ctx context.Context) (domain.OracleStats, error)
}

// PriceRelay pushes a snapshot into the token ledger as the
// authorized updater. Fire and forget: a relay failure never undoes
// the already-persisted snapshot.
type PriceRelay interface {
	Push(ctx context.Context, snap domain.PriceSnapshot) error
}

// OracleParams are fixed at construction.
type OracleParams struct {
	Cities       []CityTarget
	Interval     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HistoryLimit int
	BasePrice    uint64 // scaled reference average price
	BaseIndex    uint64 // scaled index value at the reference price
}

// OracleUsecase runs the scheduled aggregation cycle and serves the
// snapshot query operations.
type OracleUsecase struct {
	gateway   PriceGateway
	store     SnapshotStore
	publisher SnapshotPublisher
	stats     StatsRecorder
	relay     PriceRelay
	params    OracleParams
	logger    *slog.Logger

	mu      sync.Mutex
	running bool

	now func() time.Time
}

func NewOracleUsecase(
	gateway PriceGateway,
	store SnapshotStore,
	publisher SnapshotPublisher,
	stats StatsRecorder,
	relay PriceRelay,
	params OracleParams,
	logger *slog.Logger,
) *OracleUsecase {
	return &OracleUsecase{
		gateway:   gateway,
		store:     store,
		publisher: publisher,
		stats:     stats,
		relay:     relay,
		params:    params,
		logger:    logger,
		now:       time.Now,
	}
}

// RunCycle performs one full aggregation cycle. A second trigger
// while one is in flight fails with UpdateInProgress; two cycles
// never run concurrently.
func (uc *OracleUsecase) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	uc.mu.Lock()
	if uc.running {
		uc.mu.Unlock()
		return domain.CycleResult{}, domain.ErrUpdateInProgress
	}
	uc.running = true
	uc.mu.Unlock()

	defer func() {
		uc.mu.Lock()
		uc.running = false
		uc.mu.Unlock()
	}()

	started := uc.now()
	var cycleErrors []string

	cities := make([]domain.CityPrice, 0, len(uc.params.Cities))
	for _, target := range uc.params.Cities {
		if ctx.Err() != nil {
			uc.stats.RecordError(ctx)
			return domain.CycleResult{}, ctx.Err()
		}

		samples, sourceErrors := uc.gateway.Collect(ctx, target)
		cycleErrors = append(cycleErrors, sourceErrors...)

		cities = append(cities, reduceCity(target, samples))
	}

	snap := domain.PriceSnapshot{
		Timestamp:   started,
		GlobalIndex: uc.globalIndex(cities),
		Cities:      cities,
	}

	if err := uc.store.SaveLatest(ctx, snap); err != nil {
		uc.stats.RecordError(ctx)
		uc.logger.Error("failed to persist snapshot",
			slog.String("error", err.Error()),
			slog.String("module", "oracle"),
		)
		return domain.CycleResult{}, err
	}

	cityPrices := make(map[uint64]uint64, len(cities))
	for _, c := range cities {
		cityPrices[c.CityID] = c.Price
	}
	entry := domain.HistoryEntry{
		Timestamp:   snap.Timestamp,
		GlobalIndex: snap.GlobalIndex,
		CityCount:   len(cities),
		CityPrices:  cityPrices,
	}
	if err := uc.store.AppendHistory(ctx, entry, uc.params.HistoryLimit); err != nil {
		uc.stats.RecordError(ctx)
		return domain.CycleResult{}, err
	}

	duration := uc.now().Sub(started)
	uc.stats.RecordSuccess(ctx, duration)

	if uc.publisher != nil {
		event := domain.SnapshotEvent{
			Type:        "snapshot",
			Timestamp:   snap.Timestamp,
			GlobalIndex: snap.GlobalIndex,
			CityCount:   len(cities),
		}
		if err := uc.publisher.PublishSnapshot(ctx, event); err != nil {
			uc.logger.Error("failed to publish snapshot event",
				slog.String("error", err.Error()),
				slog.String("module", "oracle"),
			)
		}
	}

	if uc.relay != nil {
		if err := uc.relay.Push(ctx, snap); err != nil {
			uc.logger.Error("price relay failed, ledger keeps previous prices",
				slog.String("error", err.Error()),
				slog.String("module", "oracle"),
			)
		}
	}

	return domain.CycleResult{
		CitiesUpdated: len(cities),
		Errors:        cycleErrors,
		Duration:      duration,
		DurationMs:    duration.Milliseconds(),
		GlobalIndex:   snap.GlobalIndex,
	}, nil
}

// reduceCity computes the source-weight-weighted average price and the
// confidence score for one city.
func reduceCity(target CityTarget, samples []domain.PriceSample) domain.CityPrice {
	var weightedSum, totalWeight float64
	var confidenceSum float64
	for _, s := range samples {
		weightedSum += float64(s.Price) * float64(s.Weight)
		totalWeight += float64(s.Weight)
		confidenceSum += s.Confidence
	}

	price := target.BasePrice
	if totalWeight > 0 {
		price = uint64(math.Round(weightedSum / totalWeight))
	}

	confidence := confidenceSum/float64(len(samples)) + 2*float64(len(samples))
	if confidence > domain.MaxConfidence {
		confidence = domain.MaxConfidence
	}

	return domain.CityPrice{
		CityID:     target.ID,
		Name:       target.Name,
		Price:      price,
		Confidence: confidence,
		Samples:    samples,
	}
}

// globalIndex is the unweighted mean of city prices rescaled against
// the configured reference price and index.
func (uc *OracleUsecase) globalIndex(cities []domain.CityPrice) uint64 {
	if len(cities) == 0 {
		return uc.params.BaseIndex
	}
	var sum float64
	for _, c := range cities {
		sum += float64(c.Price)
	}
	avg := sum / float64(len(cities))
	return uint64(math.Round(avg * float64(uc.params.BaseIndex) / float64(uc.params.BasePrice)))
}

// Start runs the collection schedule until the context is cancelled.
// A failing cycle is retried a bounded number of times with a fixed
// backoff, then abandoned until the next tick.
func (uc *OracleUsecase) Start(ctx context.Context) {
	uc.logger.Info("oracle scheduler started",
		slog.Duration("interval", uc.params.Interval),
		slog.String("module", "oracle"),
	)

	uc.runWithRetry(ctx)

	ticker := time.NewTicker(uc.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			uc.logger.Info("oracle scheduler stopped", slog.String("module", "oracle"))
			return
		case <-ticker.C:
			uc.runWithRetry(ctx)
		}
	}
}

func (uc *OracleUsecase) runWithRetry(ctx context.Context) {
	for attempt := 0; attempt <= uc.params.MaxRetries; attempt++ {
		result, err := uc.RunCycle(ctx)
		if err == nil {
			uc.logger.Info("price update cycle completed",
				slog.Int("cities", result.CitiesUpdated),
				slog.Int64("durationMs", result.DurationMs),
				slog.Uint64("globalIndex", result.GlobalIndex),
				slog.String("module", "oracle"),
			)
			return
		}
		if ctx.Err() != nil {
			return
		}
		uc.logger.Error("price update cycle failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
			slog.String("module", "oracle"),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(uc.params.RetryBackoff):
		}
	}
}

// Latest returns the most recent snapshot, or ErrSnapshotMissing when
// no cycle has completed yet.
func (uc *OracleUsecase) Latest(ctx context.Context) (domain.PriceSnapshot, error) {
	return uc.store.Latest(ctx)
}

// CityLatest returns one city's detail from the latest snapshot.
func (uc *OracleUsecase) CityLatest(ctx context.Context, cityID uint64) (domain.CityPrice, error) {
	snap, err := uc.store.Latest(ctx)
	if err != nil {
		return domain.CityPrice{}, err
	}
	for _, c := range snap.Cities {
		if c.CityID == cityID {
			return c, nil
		}
	}
	return domain.CityPrice{}, domain.ErrCityNotFound
}

// History returns summaries most-recent-first, optionally filtered by
// city and age, capped at limit.
func (uc *OracleUsecase) History(ctx context.Context, limit int, cityID uint64, days int) ([]domain.HistoryEntry, error) {
	entries, err := uc.store.History(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > uc.params.HistoryLimit {
		limit = uc.params.HistoryLimit
	}

	var cutoff time.Time
	if days > 0 {
		cutoff = uc.now().AddDate(0, 0, -days)
	}

	// Stored oldest-first; serve most-recent-first.
	result := make([]domain.HistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := entries[i]
		if days > 0 && e.Timestamp.Before(cutoff) {
			continue
		}
		if cityID != 0 {
			price, ok := e.CityPrices[cityID]
			if !ok {
				continue
			}
			e = domain.HistoryEntry{
				Timestamp:   e.Timestamp,
				GlobalIndex: e.GlobalIndex,
				CityCount:   e.CityCount,
				CityPrices:  map[uint64]uint64{cityID: price},
			}
		}
		result = append(result, e)
	}
	return result, nil
}

// Stats reports the operational counters.
func (uc *OracleUsecase) Stats(ctx context.Context) (domain.OracleStats, error) {
	return uc.stats.Stats(ctx)
}
