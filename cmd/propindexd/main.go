package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/time/rate"

	"github.com/propdao/propindex/internal/config"
	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/infra/database"
	"github.com/propdao/propindex/internal/infra/gateway"
	"github.com/propdao/propindex/internal/infra/repository"
	"github.com/propdao/propindex/internal/present/rest"
	restmiddleware "github.com/propdao/propindex/internal/present/rest/middleware"
	"github.com/propdao/propindex/internal/present/rest/presenter"
	"github.com/propdao/propindex/internal/service"
	"github.com/propdao/propindex/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		shutdown, err := setupTracer(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("failed to flush traces", slog.String("error", err.Error()))
			}
		}()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = database.MigratePostgres(db)
	if err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	snapshotStore, err := repository.NewSnapshotStore(conf.Server.SnapshotDir)
	if err != nil {
		slog.Error("failed to open snapshot store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ledgerRepo := repository.NewLedgerRepository(db)
	governanceRepo := repository.NewGovernanceRepository(db)
	stakingRepo := repository.NewStakingRepository(db)

	ledger := usecase.NewLedgerUsecase(ledgerRepo, conf.Token.Owner)
	governance := usecase.NewGovernanceUsecase(governanceRepo, ledger, usecase.GovernanceParams{
		Owner:             conf.Token.Owner,
		ProposalThreshold: conf.Token.ProposalThresholdUnits(),
		VotingDelay:       time.Duration(conf.Token.VotingDelaySeconds) * time.Second,
		VotingPeriod:      time.Duration(conf.Token.VotingPeriodSeconds) * time.Second,
	})
	staking := usecase.NewStakingUsecase(stakingRepo, ledger, usecase.StakingParams{
		Owner:         conf.Token.Owner,
		Pool:          conf.Token.StakingPool,
		MinMultiplier: conf.Staking.MinMultiplier,
		MaxMultiplier: conf.Staking.MaxMultiplier,
		MinPeriod:     conf.Staking.MinPeriodSeconds,
		MaxPeriod:     conf.Staking.MaxPeriodSeconds,
	})

	if err := seed(ctx, conf, ledger, governance, staking); err != nil {
		slog.Error("failed to seed initial state", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var sources []gateway.PriceSource
	for _, s := range conf.Oracle.Sources {
		sources = append(sources, gateway.NewHTTPSource(
			s.Name, s.URL, s.Weight,
			time.Duration(s.TimeoutSeconds)*time.Second,
		))
	}
	fallback := gateway.NewSyntheticSource(1, conf.Oracle.Variation)
	priceGateway := gateway.NewPriceGateway(sources, fallback, logger)

	signalService := service.NewSignalService(rdb)
	stats := service.NewStatsService(rdb, logger)
	relay := service.NewRelayService(governance, conf.Oracle.Updater, logger)

	var targets []usecase.CityTarget
	for _, city := range conf.Oracle.Cities {
		targets = append(targets, usecase.CityTarget{
			ID:        city.ID,
			Name:      city.Name,
			BasePrice: city.BasePrice,
		})
	}

	oracle := usecase.NewOracleUsecase(priceGateway, snapshotStore, signalService, stats, relay, usecase.OracleParams{
		Cities:       targets,
		Interval:     time.Duration(conf.Oracle.IntervalSeconds) * time.Second,
		MaxRetries:   conf.Oracle.MaxRetries,
		RetryBackoff: time.Duration(conf.Oracle.RetryBackoffSeconds) * time.Second,
		HistoryLimit: conf.Oracle.HistoryLimit,
		BasePrice:    conf.Oracle.BasePrice,
		BaseIndex:    conf.Oracle.BaseIndex,
	}, logger)

	go oracle.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(conf.Server.RateLimit),
			Burst:     conf.Server.RateBurst,
			ExpiresIn: 3 * time.Minute,
		}),
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return presenter.RateLimited(c, time.Second)
		},
	}))
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("propindex"))
	}
	e.Use(restmiddleware.IdentifyCaller)

	handler := rest.NewHandler(ledger, governance, staking, oracle, signalService, mc)
	handler.RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down cleanly", slog.String("error", err.Error()))
	}
}

// seed installs the initial ledger supply, the configured city set and
// the staking period table. All steps are idempotent across restarts.
func seed(
	ctx context.Context,
	conf config.Config,
	ledger *usecase.LedgerUsecase,
	governance *usecase.GovernanceUsecase,
	staking *usecase.StakingUsecase,
) error {
	if err := ledger.Seed(ctx, conf.Token.TotalSupplyUnits()); err != nil {
		return err
	}

	state, err := ledger.State(ctx)
	if err != nil {
		return err
	}
	if state.AuthorizedUpdater == "" {
		if err := ledger.SetAuthorizedUpdater(ctx, conf.Token.Owner, conf.Oracle.Updater); err != nil {
			return err
		}
	}

	now := time.Now()
	cities := make([]domain.City, 0, len(conf.Oracle.Cities))
	for _, city := range conf.Oracle.Cities {
		cities = append(cities, domain.City{
			ID:          city.ID,
			Name:        city.Name,
			PriceIndex:  city.BasePrice,
			Weight:      city.Weight,
			IsActive:    true,
			LastUpdated: now,
		})
	}
	if err := governance.SeedCities(ctx, cities); err != nil {
		return err
	}

	multipliers := make([]domain.PeriodMultiplier, 0, len(conf.Staking.Periods))
	for _, period := range conf.Staking.Periods {
		multipliers = append(multipliers, domain.PeriodMultiplier{
			PeriodSeconds: period.Seconds,
			Multiplier:    period.Multiplier,
		})
	}
	return staking.SeedMultipliers(ctx, multipliers)
}

func setupTracer(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("propindex"),
		)),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
