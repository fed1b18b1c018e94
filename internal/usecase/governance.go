package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/propdao/propindex/internal/domain"
)

var tracer = otel.Tracer("usecase")

// GovernanceRepository defines storage for cities, proposals and votes.
type GovernanceRepository interface {
	GetCity(ctx context.Context, id uint64) (domain.City, error)
	ListCities(ctx context.Context) ([]domain.City, error)
	CreateCity(ctx context.Context, city domain.City) error
	SaveCity(ctx context.Context, city domain.City) error
	GlobalIndex(ctx context.Context) (domain.GlobalIndex, error)
	SetGlobalIndex(ctx context.Context, index domain.GlobalIndex) error

	CreateProposal(ctx context.Context, p domain.Proposal) (uint64, error)
	GetProposal(ctx context.Context, id uint64) (domain.Proposal, error)
	ListProposals(ctx context.Context, limit, offset int) ([]domain.Proposal, error)
	// AddVote records the vote and bumps the tally atomically; it
	// returns ErrAlreadyVoted when a record already exists.
	AddVote(ctx context.Context, vote domain.Vote) error
	MarkExecuted(ctx context.Context, id uint64, passed bool) error
}

// TokenLedger is the slice of the ledger governance depends on: vote
// weight comes from live balances, update rights from ledger state.
type TokenLedger interface {
	BalanceOf(ctx context.Context, addr string) (uint64, error)
	State(ctx context.Context) (domain.LedgerState, error)
}

// GovernanceParams are fixed at construction; administrative mutation
// happens through explicit operations, never ambient globals.
type GovernanceParams struct {
	Owner             string
	ProposalThreshold uint64 // base units
	VotingDelay       time.Duration
	VotingPeriod      time.Duration
}

// GovernanceUsecase runs the proposal lifecycle and the weighted city
// price index.
type GovernanceUsecase struct {
	mu     sync.Mutex
	repo   GovernanceRepository
	ledger TokenLedger
	params GovernanceParams

	now func() time.Time
}

func NewGovernanceUsecase(repo GovernanceRepository, ledger TokenLedger, params GovernanceParams) *GovernanceUsecase {
	return &GovernanceUsecase{
		repo:   repo,
		ledger: ledger,
		params: params,
		now:    time.Now,
	}
}

// SeedCities registers the initial city set. Existing ids are left
// untouched so restarts are idempotent.
func (uc *GovernanceUsecase) SeedCities(ctx context.Context, cities []domain.City) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	for _, city := range cities {
		_, err := uc.repo.GetCity(ctx, city.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if createErr := uc.repo.CreateCity(ctx, city); createErr != nil {
			return createErr
		}
	}
	return uc.recomputeIndex(ctx)
}

// UpdateCityPrice is restricted to the ledger's authorized updater.
func (uc *GovernanceUsecase) UpdateCityPrice(ctx context.Context, caller string, cityID uint64, newPrice uint64) error {
	ctx, span := tracer.Start(ctx, "Governance.UpdateCityPrice")
	defer span.End()

	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if newPrice == 0 {
		return domain.ErrInvalidPrice
	}

	state, err := uc.ledger.State(ctx)
	if err != nil {
		return err
	}
	if caller != state.AuthorizedUpdater {
		span.RecordError(domain.ErrUnauthorized)
		return domain.ErrUnauthorized
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	city, err := uc.repo.GetCity(ctx, cityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCity
		}
		return err
	}
	if !city.IsActive {
		return domain.ErrInvalidCity
	}

	city.PriceIndex = newPrice
	city.LastUpdated = uc.now()
	if err := uc.repo.SaveCity(ctx, city); err != nil {
		return err
	}

	return uc.recomputeIndex(ctx)
}

func (uc *GovernanceUsecase) AddCity(ctx context.Context, caller string, id uint64, name string, weight uint64) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}
	if weight == 0 {
		return domain.ErrInvalidWeight
	}
	if strings.TrimSpace(name) == "" {
		return domain.ValidationError{Code: "EMPTY_NAME", Msg: "city name must not be empty"}
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	_, err := uc.repo.GetCity(ctx, id)
	if err == nil {
		return domain.ErrCityExists
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	city := domain.City{
		ID:          id,
		Name:        name,
		Weight:      weight,
		IsActive:    true,
		LastUpdated: uc.now(),
	}
	if err := uc.repo.CreateCity(ctx, city); err != nil {
		return err
	}
	return uc.recomputeIndex(ctx)
}

func (uc *GovernanceUsecase) UpdateCityWeight(ctx context.Context, caller string, id uint64, weight uint64) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}
	if weight == 0 {
		return domain.ErrInvalidWeight
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	city, err := uc.repo.GetCity(ctx, id)
	if err != nil {
		return err
	}
	city.Weight = weight
	if err := uc.repo.SaveCity(ctx, city); err != nil {
		return err
	}
	return uc.recomputeIndex(ctx)
}

func (uc *GovernanceUsecase) ToggleCityStatus(ctx context.Context, caller string, id uint64) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	city, err := uc.repo.GetCity(ctx, id)
	if err != nil {
		return err
	}
	city.IsActive = !city.IsActive
	if err := uc.repo.SaveCity(ctx, city); err != nil {
		return err
	}
	return uc.recomputeIndex(ctx)
}

// recomputeIndex refreshes the stored global index. A zero-weight
// state leaves the previous value untouched. Caller holds the mutex.
func (uc *GovernanceUsecase) recomputeIndex(ctx context.Context) error {
	cities, err := uc.repo.ListCities(ctx)
	if err != nil {
		return err
	}
	value, totalWeight, ok := domain.ComputeGlobalIndex(cities)
	if !ok {
		return nil
	}
	active := 0
	for _, c := range cities {
		if c.IsActive {
			active++
		}
	}
	return uc.repo.SetGlobalIndex(ctx, domain.GlobalIndex{
		Value:       value,
		ActiveCount: active,
		TotalWeight: totalWeight,
		UpdatedAt:   uc.now(),
	})
}

// CreateProposal opens a proposal with a fixed voting window:
// start = now + delay, end = start + period. IDs are 1-based.
func (uc *GovernanceUsecase) CreateProposal(ctx context.Context, caller, description string) (domain.Proposal, error) {
	ctx, span := tracer.Start(ctx, "Governance.CreateProposal")
	defer span.End()

	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return domain.Proposal{}, err
	}
	if strings.TrimSpace(description) == "" {
		return domain.Proposal{}, domain.ErrEmptyDescription
	}

	balance, err := uc.ledger.BalanceOf(ctx, caller)
	if err != nil {
		return domain.Proposal{}, err
	}
	if balance < uc.params.ProposalThreshold {
		span.RecordError(domain.ErrInsufficientBalance)
		return domain.Proposal{}, domain.ErrInsufficientBalance
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	start := uc.now().Add(uc.params.VotingDelay)
	proposal := domain.Proposal{
		Proposer:    caller,
		Description: description,
		StartTime:   start,
		EndTime:     start.Add(uc.params.VotingPeriod),
	}
	id, err := uc.repo.CreateProposal(ctx, proposal)
	if err != nil {
		return domain.Proposal{}, err
	}
	proposal.ID = id
	return proposal, nil
}

// Vote records a single permanent vote weighted by the caller's
// balance at vote time.
func (uc *GovernanceUsecase) Vote(ctx context.Context, caller string, proposalID uint64, support bool) error {
	ctx, span := tracer.Start(ctx, "Governance.Vote")
	defer span.End()

	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	proposal, err := uc.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}

	now := uc.now()
	if now.Before(proposal.StartTime) {
		return domain.ErrVotingNotStarted
	}
	if now.After(proposal.EndTime) {
		return domain.ErrVotingEnded
	}

	weight, err := uc.ledger.BalanceOf(ctx, caller)
	if err != nil {
		return err
	}
	if weight == 0 {
		return domain.ErrNoVotingPower
	}

	return uc.repo.AddVote(ctx, domain.Vote{
		ProposalID: proposalID,
		Voter:      caller,
		Support:    support,
		Weight:     weight,
		CastAt:     now,
	})
}

// ExecuteProposal records the outcome exactly once after the voting
// window closes. Nothing is actuated beyond the record.
func (uc *GovernanceUsecase) ExecuteProposal(ctx context.Context, proposalID uint64) (domain.Proposal, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	proposal, err := uc.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if proposal.Executed {
		return domain.Proposal{}, domain.ErrAlreadyExecuted
	}
	if !uc.now().After(proposal.EndTime) {
		return domain.Proposal{}, domain.ErrVotingNotEnded
	}

	passed := proposal.ForVotes > proposal.AgainstVotes
	if err := uc.repo.MarkExecuted(ctx, proposalID, passed); err != nil {
		return domain.Proposal{}, err
	}

	proposal.Executed = true
	proposal.Passed = passed
	return proposal, nil
}

func (uc *GovernanceUsecase) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	return uc.repo.GetProposal(ctx, id)
}

func (uc *GovernanceUsecase) ListProposals(ctx context.Context, limit, offset int) ([]domain.Proposal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return uc.repo.ListProposals(ctx, limit, offset)
}

func (uc *GovernanceUsecase) ListCities(ctx context.Context) ([]domain.City, error) {
	return uc.repo.ListCities(ctx)
}

func (uc *GovernanceUsecase) GetCity(ctx context.Context, id uint64) (domain.City, error) {
	return uc.repo.GetCity(ctx, id)
}

func (uc *GovernanceUsecase) GlobalIndex(ctx context.Context) (domain.GlobalIndex, error) {
	return uc.repo.GlobalIndex(ctx)
}

// ProposalStatus reports a proposal's lifecycle stage at this instant.
func (uc *GovernanceUsecase) ProposalStatus(p domain.Proposal) domain.ProposalStatus {
	return p.Status(uc.now())
}

func (uc *GovernanceUsecase) requireOwner(caller string) error {
	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if caller != uc.params.Owner {
		return domain.ErrUnauthorized
	}
	return nil
}
