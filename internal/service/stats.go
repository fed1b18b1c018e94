package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propdao/propindex/internal/domain"
)

const (
	statsUpdatesKey  = "propindex:stats:updates"
	statsErrorsKey   = "propindex:stats:errors"
	statsDurationKey = "propindex:stats:last_duration_ms"
	statsSuccessKey  = "propindex:stats:last_success"
)

// StatsService keeps operational counters in redis so they survive
// restarts and are shared across replicas.
type StatsService struct {
	rdb     *redis.Client
	logger  *slog.Logger
	started time.Time
}

func NewStatsService(redisClient *redis.Client, logger *slog.Logger) *StatsService {
	return &StatsService{
		rdb:     redisClient,
		logger:  logger,
		started: time.Now(),
	}
}

func (s *StatsService) RecordSuccess(ctx context.Context, d time.Duration) {
	pipe := s.rdb.Pipeline()
	pipe.Incr(ctx, statsUpdatesKey)
	pipe.Set(ctx, statsDurationKey, d.Milliseconds(), 0)
	pipe.Set(ctx, statsSuccessKey, time.Now().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to record stats",
			slog.String("error", err.Error()),
			slog.String("module", "stats"),
		)
	}
}

func (s *StatsService) RecordError(ctx context.Context) {
	if err := s.rdb.Incr(ctx, statsErrorsKey).Err(); err != nil {
		s.logger.Error("failed to record error counter",
			slog.String("error", err.Error()),
			slog.String("module", "stats"),
		)
	}
}

func (s *StatsService) Stats(ctx context.Context) (domain.OracleStats, error) {
	stats := domain.OracleStats{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	updates, err := s.rdb.Get(ctx, statsUpdatesKey).Int64()
	if err != nil && err != redis.Nil {
		return stats, err
	}
	stats.UpdateCount = updates

	errorCount, err := s.rdb.Get(ctx, statsErrorsKey).Int64()
	if err != nil && err != redis.Nil {
		return stats, err
	}
	stats.ErrorCount = errorCount

	duration, err := s.rdb.Get(ctx, statsDurationKey).Int64()
	if err != nil && err != redis.Nil {
		return stats, err
	}
	stats.LastDurationMs = duration

	if raw, err := s.rdb.Get(ctx, statsSuccessKey).Result(); err == nil {
		if t, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			stats.LastSuccess = t
		}
	}

	return stats, nil
}
