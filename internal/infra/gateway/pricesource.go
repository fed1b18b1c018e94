package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/usecase"
)

// PriceSource is one weighted estimator for city prices. Real
// integrations are external collaborators; the synthetic estimator is
// the only implementation guaranteed to answer.
type PriceSource interface {
	Name() string
	Weight() uint64
	FetchPrice(ctx context.Context, city usecase.CityTarget) (domain.PriceSample, error)
}

// PriceGateway aggregates the configured sources for the oracle. A
// failing source is logged and excluded; when nothing answers the
// synthetic fallback keeps the cycle alive.
type PriceGateway struct {
	sources  []PriceSource
	fallback PriceSource
	cache    *cache.Cache
	logger   *slog.Logger
}

func NewPriceGateway(sources []PriceSource, fallback PriceSource, logger *slog.Logger) *PriceGateway {
	return &PriceGateway{
		sources:  sources,
		fallback: fallback,
		cache:    cache.New(5*time.Minute, 10*time.Minute),
		logger:   logger,
	}
}

// Collect implements usecase.PriceGateway.
func (g *PriceGateway) Collect(ctx context.Context, city usecase.CityTarget) ([]domain.PriceSample, []string) {
	var samples []domain.PriceSample
	var failures []string

	for _, source := range g.sources {
		cacheKey := fmt.Sprintf("%s/%d", source.Name(), city.ID)
		if cached, found := g.cache.Get(cacheKey); found {
			samples = append(samples, cached.(domain.PriceSample))
			continue
		}

		sample, err := source.FetchPrice(ctx, city)
		if err != nil {
			g.logger.Error("price source failed",
				slog.String("source", source.Name()),
				slog.String("city", city.Name),
				slog.String("error", err.Error()),
				slog.String("module", "gateway"),
			)
			failures = append(failures, fmt.Sprintf("%s/%s: %v", source.Name(), city.Name, err))
			continue
		}

		g.cache.Set(cacheKey, sample, cache.DefaultExpiration)
		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		sample, err := g.fallback.FetchPrice(ctx, city)
		if err != nil {
			// The synthetic estimator never errors; guard anyway.
			sample = domain.PriceSample{
				Source:     domain.SyntheticSourceName,
				Price:      city.BasePrice,
				Weight:     g.fallback.Weight(),
				Confidence: 50,
			}
		}
		g.logger.Info("all sources failed, using synthetic fallback",
			slog.String("city", city.Name),
			slog.String("module", "gateway"),
		)
		samples = append(samples, sample)
	}

	return samples, failures
}

// SyntheticSource fabricates prices with bounded random variation
// around the city's configured base price.
type SyntheticSource struct {
	weight    uint64
	variation float64
	rng       *rand.Rand
}

func NewSyntheticSource(weight uint64, variation float64) *SyntheticSource {
	return &SyntheticSource{
		weight:    weight,
		variation: variation,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SyntheticSource) Name() string   { return domain.SyntheticSourceName }
func (s *SyntheticSource) Weight() uint64 { return s.weight }

func (s *SyntheticSource) FetchPrice(ctx context.Context, city usecase.CityTarget) (domain.PriceSample, error) {
	// variation in [-v, +v]
	factor := 1 + (s.rng.Float64()*2-1)*s.variation
	price := uint64(math.Round(float64(city.BasePrice) * factor))
	if price == 0 {
		price = 1
	}

	return domain.PriceSample{
		Source:     domain.SyntheticSourceName,
		Price:      price,
		Weight:     s.weight,
		Confidence: 70 + s.rng.Float64()*25,
	}, nil
}

// HTTPSource queries a remote estimator endpoint. The endpoint is
// expected to answer {"price": <scaled uint>, "confidence": <0-100>}.
type HTTPSource struct {
	name   string
	url    string
	weight uint64
	client *resty.Client
}

func NewHTTPSource(name, url string, weight uint64, timeout time.Duration) *HTTPSource {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &HTTPSource{
		name:   name,
		url:    url,
		weight: weight,
		client: client,
	}
}

func (s *HTTPSource) Name() string   { return s.name }
func (s *HTTPSource) Weight() uint64 { return s.weight }

type quoteResponse struct {
	Price      uint64  `json:"price"`
	Confidence float64 `json:"confidence"`
}

func (s *HTTPSource) FetchPrice(ctx context.Context, city usecase.CityTarget) (domain.PriceSample, error) {
	var quote quoteResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("city", city.Name).
		SetQueryParam("cityId", fmt.Sprintf("%d", city.ID)).
		SetResult(&quote).
		Get(s.url)
	if err != nil {
		return domain.PriceSample{}, errors.Wrapf(err, "fetch from %s failed", s.name)
	}
	if resp.IsError() {
		return domain.PriceSample{}, fmt.Errorf("%s answered %s", s.name, resp.Status())
	}
	if quote.Price == 0 {
		return domain.PriceSample{}, fmt.Errorf("%s answered zero price", s.name)
	}

	return domain.PriceSample{
		Source:     s.name,
		Price:      quote.Price,
		Weight:     s.weight,
		Confidence: quote.Confidence,
	}, nil
}
