package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/propdao/propindex/internal/domain"
)

type memGovernanceRepo struct {
	cities    map[uint64]domain.City
	index     domain.GlobalIndex
	proposals map[uint64]domain.Proposal
	votes     map[string]domain.Vote
	nextID    uint64
}

func newMemGovernanceRepo() *memGovernanceRepo {
	return &memGovernanceRepo{
		cities:    map[uint64]domain.City{},
		proposals: map[uint64]domain.Proposal{},
		votes:     map[string]domain.Vote{},
	}
}

func (m *memGovernanceRepo) GetCity(ctx context.Context, id uint64) (domain.City, error) {
	city, ok := m.cities[id]
	if !ok {
		return domain.City{}, domain.ErrCityNotFound
	}
	return city, nil
}

func (m *memGovernanceRepo) ListCities(ctx context.Context) ([]domain.City, error) {
	ids := make([]uint64, 0, len(m.cities))
	for id := range m.cities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cities := make([]domain.City, 0, len(ids))
	for _, id := range ids {
		cities = append(cities, m.cities[id])
	}
	return cities, nil
}

func (m *memGovernanceRepo) CreateCity(ctx context.Context, city domain.City) error {
	m.cities[city.ID] = city
	return nil
}

func (m *memGovernanceRepo) SaveCity(ctx context.Context, city domain.City) error {
	m.cities[city.ID] = city
	return nil
}

func (m *memGovernanceRepo) GlobalIndex(ctx context.Context) (domain.GlobalIndex, error) {
	return m.index, nil
}

func (m *memGovernanceRepo) SetGlobalIndex(ctx context.Context, index domain.GlobalIndex) error {
	m.index = index
	return nil
}

func (m *memGovernanceRepo) CreateProposal(ctx context.Context, p domain.Proposal) (uint64, error) {
	m.nextID++
	p.ID = m.nextID
	m.proposals[p.ID] = p
	return p.ID, nil
}

func (m *memGovernanceRepo) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrUnknownProposal
	}
	return p, nil
}

func (m *memGovernanceRepo) ListProposals(ctx context.Context, limit, offset int) ([]domain.Proposal, error) {
	ids := make([]uint64, 0, len(m.proposals))
	for id := range m.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	result := make([]domain.Proposal, 0, limit)
	for i := offset; i < len(ids) && len(result) < limit; i++ {
		result = append(result, m.proposals[ids[i]])
	}
	return result, nil
}

func (m *memGovernanceRepo) AddVote(ctx context.Context, vote domain.Vote) error {
	key := fmt.Sprintf("%d|%s", vote.ProposalID, vote.Voter)
	if _, ok := m.votes[key]; ok {
		return domain.ErrAlreadyVoted
	}
	m.votes[key] = vote

	p := m.proposals[vote.ProposalID]
	if vote.Support {
		p.ForVotes += vote.Weight
	} else {
		p.AgainstVotes += vote.Weight
	}
	m.proposals[vote.ProposalID] = p
	return nil
}

func (m *memGovernanceRepo) MarkExecuted(ctx context.Context, id uint64, passed bool) error {
	p, ok := m.proposals[id]
	if !ok {
		return domain.ErrUnknownProposal
	}
	if p.Executed {
		return domain.ErrAlreadyExecuted
	}
	p.Executed = true
	p.Passed = passed
	m.proposals[id] = p
	return nil
}

func newTestGovernance(t *testing.T) (*GovernanceUsecase, *memGovernanceRepo, *LedgerUsecase, time.Time) {
	t.Helper()

	ledger, _ := newTestLedger()
	if err := ledger.SetAuthorizedUpdater(context.Background(), ownerAddr, updaterAddr); err != nil {
		t.Fatalf("set updater failed: %v", err)
	}

	repo := newMemGovernanceRepo()
	uc := NewGovernanceUsecase(repo, ledger, GovernanceParams{
		Owner:             ownerAddr,
		ProposalThreshold: 100_000,
		VotingDelay:       time.Hour,
		VotingPeriod:      7 * 24 * time.Hour,
	})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return base }

	return uc, repo, ledger, base
}

func seedTenCities(t *testing.T, uc *GovernanceUsecase) {
	t.Helper()
	cities := make([]domain.City, 0, 10)
	for i := uint64(1); i <= 10; i++ {
		cities = append(cities, domain.City{
			ID:         i,
			Name:       fmt.Sprintf("city-%d", i),
			PriceIndex: 100_000,
			Weight:     10,
			IsActive:   true,
		})
	}
	if err := uc.SeedCities(context.Background(), cities); err != nil {
		t.Fatalf("seed cities failed: %v", err)
	}
}

func TestUpdateCityPriceRecomputesIndex(t *testing.T) {
	uc, repo, _, _ := newTestGovernance(t)
	ctx := context.Background()
	seedTenCities(t, uc)

	if repo.index.Value != 100_000 {
		t.Fatalf("expected seeded index 100000, got %d", repo.index.Value)
	}

	if err := uc.UpdateCityPrice(ctx, updaterAddr, 1, 110_000); err != nil {
		t.Fatalf("update price failed: %v", err)
	}

	// (9*100000 + 110000) / 10
	if repo.index.Value != 101_000 {
		t.Fatalf("expected index 101000, got %d", repo.index.Value)
	}
	if repo.index.ActiveCount != 10 || repo.index.TotalWeight != 100 {
		t.Fatalf("unexpected index meta %+v", repo.index)
	}
}

func TestUpdateCityPriceAuthorization(t *testing.T) {
	uc, _, _, _ := newTestGovernance(t)
	ctx := context.Background()
	seedTenCities(t, uc)

	if err := uc.UpdateCityPrice(ctx, aliceAddr, 1, 110_000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	// Owner rights do not imply update rights.
	if err := uc.UpdateCityPrice(ctx, ownerAddr, 1, 110_000); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized owner, got %v", err)
	}
	if err := uc.UpdateCityPrice(ctx, updaterAddr, 1, 0); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if err := uc.UpdateCityPrice(ctx, updaterAddr, 99, 110_000); !errors.Is(err, domain.ErrInvalidCity) {
		t.Fatalf("expected invalid city, got %v", err)
	}
}

func TestUpdateCityPriceInactiveCity(t *testing.T) {
	uc, _, _, _ := newTestGovernance(t)
	ctx := context.Background()
	seedTenCities(t, uc)

	if err := uc.ToggleCityStatus(ctx, ownerAddr, 3); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := uc.UpdateCityPrice(ctx, updaterAddr, 3, 120_000); !errors.Is(err, domain.ErrInvalidCity) {
		t.Fatalf("expected invalid city for inactive, got %v", err)
	}
}

func TestIndexUnchangedWhenAllCitiesInactive(t *testing.T) {
	uc, repo, _, _ := newTestGovernance(t)
	ctx := context.Background()
	seedTenCities(t, uc)

	previous := repo.index.Value
	for i := uint64(1); i <= 10; i++ {
		if err := uc.ToggleCityStatus(ctx, ownerAddr, i); err != nil {
			t.Fatalf("toggle %d failed: %v", i, err)
		}
	}

	if repo.index.Value != previous {
		t.Fatalf("index changed with zero weight: %d -> %d", previous, repo.index.Value)
	}
}

func TestAddCityValidation(t *testing.T) {
	uc, _, _, _ := newTestGovernance(t)
	ctx := context.Background()
	seedTenCities(t, uc)

	if err := uc.AddCity(ctx, aliceAddr, 11, "newtown", 5); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := uc.AddCity(ctx, ownerAddr, 11, "newtown", 0); !errors.Is(err, domain.ErrInvalidWeight) {
		t.Fatalf("expected invalid weight, got %v", err)
	}
	if err := uc.AddCity(ctx, ownerAddr, 1, "duplicate", 5); !errors.Is(err, domain.ErrCityExists) {
		t.Fatalf("expected city exists, got %v", err)
	}
	if err := uc.AddCity(ctx, ownerAddr, 11, "newtown", 5); err != nil {
		t.Fatalf("add city failed: %v", err)
	}
}

func TestCreateProposalThreshold(t *testing.T) {
	uc, _, ledger, base := newTestGovernance(t)
	ctx := context.Background()

	if _, err := uc.CreateProposal(ctx, aliceAddr, "raise weights"); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected threshold rejection, got %v", err)
	}
	if _, err := uc.CreateProposal(ctx, ownerAddr, "  "); !errors.Is(err, domain.ErrEmptyDescription) {
		t.Fatalf("expected empty description, got %v", err)
	}

	if err := ledger.Transfer(ctx, ownerAddr, aliceAddr, 100_000); err != nil {
		t.Fatalf("fund alice failed: %v", err)
	}
	proposal, err := uc.CreateProposal(ctx, aliceAddr, "raise weights")
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if proposal.ID != 1 {
		t.Fatalf("expected first proposal id 1, got %d", proposal.ID)
	}
	if !proposal.StartTime.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected start time %v", proposal.StartTime)
	}
	if !proposal.EndTime.Equal(proposal.StartTime.Add(7 * 24 * time.Hour)) {
		t.Fatalf("unexpected end time %v", proposal.EndTime)
	}
}

func TestVoteLifecycle(t *testing.T) {
	uc, repo, ledger, base := newTestGovernance(t)
	ctx := context.Background()

	if err := ledger.Transfer(ctx, ownerAddr, aliceAddr, 200_000); err != nil {
		t.Fatalf("fund alice failed: %v", err)
	}
	proposal, err := uc.CreateProposal(ctx, aliceAddr, "raise weights")
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	if err := uc.Vote(ctx, aliceAddr, proposal.ID, true); !errors.Is(err, domain.ErrVotingNotStarted) {
		t.Fatalf("expected voting not started, got %v", err)
	}

	uc.now = func() time.Time { return base.Add(2 * time.Hour) }

	if err := uc.Vote(ctx, bobAddr, proposal.ID, true); !errors.Is(err, domain.ErrNoVotingPower) {
		t.Fatalf("expected no voting power, got %v", err)
	}
	if err := uc.Vote(ctx, aliceAddr, proposal.ID, true); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := uc.Vote(ctx, aliceAddr, proposal.ID, false); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}

	// Weight is the balance at vote time; later transfers change
	// nothing.
	if repo.proposals[proposal.ID].ForVotes != 200_000 {
		t.Fatalf("expected for votes 200000, got %d", repo.proposals[proposal.ID].ForVotes)
	}
	if err := ledger.Transfer(ctx, aliceAddr, bobAddr, 150_000); err != nil {
		t.Fatalf("drain alice failed: %v", err)
	}
	if repo.proposals[proposal.ID].ForVotes != 200_000 {
		t.Fatalf("tally changed after transfer")
	}

	uc.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	if err := uc.Vote(ctx, bobAddr, proposal.ID, false); !errors.Is(err, domain.ErrVotingEnded) {
		t.Fatalf("expected voting ended, got %v", err)
	}

	if err := uc.Vote(ctx, aliceAddr, 42, true); !errors.Is(err, domain.ErrUnknownProposal) {
		t.Fatalf("expected unknown proposal, got %v", err)
	}
}

func TestExecuteProposal(t *testing.T) {
	uc, _, ledger, base := newTestGovernance(t)
	ctx := context.Background()

	if err := ledger.Transfer(ctx, ownerAddr, aliceAddr, 200_000); err != nil {
		t.Fatalf("fund alice failed: %v", err)
	}
	proposal, err := uc.CreateProposal(ctx, aliceAddr, "raise weights")
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	uc.now = func() time.Time { return base.Add(2 * time.Hour) }
	if err := uc.Vote(ctx, aliceAddr, proposal.ID, true); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	if _, err := uc.ExecuteProposal(ctx, proposal.ID); !errors.Is(err, domain.ErrVotingNotEnded) {
		t.Fatalf("expected voting not ended, got %v", err)
	}

	// Execution is rejected at the exact end instant; the window is
	// inclusive.
	uc.now = func() time.Time { return proposal.EndTime }
	if _, err := uc.ExecuteProposal(ctx, proposal.ID); !errors.Is(err, domain.ErrVotingNotEnded) {
		t.Fatalf("expected rejection at end instant, got %v", err)
	}

	uc.now = func() time.Time { return proposal.EndTime.Add(time.Second) }
	executed, err := uc.ExecuteProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !executed.Executed || !executed.Passed {
		t.Fatalf("expected executed and passed, got %+v", executed)
	}

	if _, err := uc.ExecuteProposal(ctx, proposal.ID); !errors.Is(err, domain.ErrAlreadyExecuted) {
		t.Fatalf("expected already executed, got %v", err)
	}
}
