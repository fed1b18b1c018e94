package service

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/usecase"
)

var tracer = otel.Tracer("service")

// RelayService pushes oracle snapshots into the governance index as
// the authorized updater. A per-city failure is logged and skipped;
// the ledger keeps its previous price for that city until the next
// successful relay.
type RelayService struct {
	governance *usecase.GovernanceUsecase
	updater    string
	logger     *slog.Logger
}

func NewRelayService(governance *usecase.GovernanceUsecase, updater string, logger *slog.Logger) *RelayService {
	return &RelayService{
		governance: governance,
		updater:    updater,
		logger:     logger,
	}
}

// Push implements usecase.PriceRelay.
func (s *RelayService) Push(ctx context.Context, snap domain.PriceSnapshot) error {
	ctx, span := tracer.Start(ctx, "Relay.Push")
	defer span.End()

	var failed int
	for _, city := range snap.Cities {
		err := s.governance.UpdateCityPrice(ctx, s.updater, city.CityID, city.Price)
		if err != nil {
			// Cities unknown to the ledger are expected when the
			// oracle tracks more markets than governance does.
			if errors.Is(err, domain.ErrInvalidCity) {
				continue
			}
			failed++
			span.RecordError(err)
			s.logger.Error("city price relay failed",
				slog.Uint64("cityId", city.CityID),
				slog.String("error", err.Error()),
				slog.String("module", "relay"),
			)
		}
	}

	if failed > 0 {
		return errors.Errorf("relay failed for %d cities", failed)
	}
	return nil
}
