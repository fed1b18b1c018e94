package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/propdao/propindex/internal/domain"
)

// StakingRepository defines storage for stakes, the multiplier table
// and global totals. CreateStake and Deactivate keep the totals and
// the staker count consistent atomically.
type StakingRepository interface {
	Totals(ctx context.Context) (domain.StakingTotals, error)
	SetEmergencyMode(ctx context.Context, on bool) error
	Multipliers(ctx context.Context) ([]domain.PeriodMultiplier, error)
	GetMultiplier(ctx context.Context, periodSeconds int64) (domain.PeriodMultiplier, error)
	UpsertMultiplier(ctx context.Context, pm domain.PeriodMultiplier) error

	CreateStake(ctx context.Context, stake domain.Stake) (domain.Stake, error)
	GetStake(ctx context.Context, account string, index int) (domain.Stake, error)
	Deactivate(ctx context.Context, account string, index int, at time.Time) error
	AccountStakes(ctx context.Context, account string) (domain.AccountStakes, error)
}

// TokenMover is the slice of the ledger staking depends on to move
// funds in and out of the pool.
type TokenMover interface {
	Transfer(ctx context.Context, from, to string, amount uint64) error
	TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error
}

// StakingParams are fixed bounds passed in at construction.
type StakingParams struct {
	Owner         string
	Pool          string
	MinMultiplier uint64
	MaxMultiplier uint64
	MinPeriod     int64 // seconds
	MaxPeriod     int64
}

// StakingUsecase locks tokens for enumerated durations and tracks the
// derived governance weight. Deposits earn nothing: the amount out
// always equals the amount in.
type StakingUsecase struct {
	mu     sync.Mutex
	repo   StakingRepository
	ledger TokenMover
	params StakingParams

	now func() time.Time
}

func NewStakingUsecase(repo StakingRepository, ledger TokenMover, params StakingParams) *StakingUsecase {
	return &StakingUsecase{
		repo:   repo,
		ledger: ledger,
		params: params,
		now:    time.Now,
	}
}

// SeedMultipliers installs the configured period table, leaving any
// administratively changed entries alone.
func (uc *StakingUsecase) SeedMultipliers(ctx context.Context, table []domain.PeriodMultiplier) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	existing, err := uc.repo.Multipliers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, pm := range table {
		if err := uc.repo.UpsertMultiplier(ctx, pm); err != nil {
			return err
		}
	}
	return nil
}

// Stake pulls amount from the caller into the pool and appends a
// locked entry. The caller must have approved the pool beforehand.
func (uc *StakingUsecase) Stake(ctx context.Context, caller string, amount uint64, periodSeconds int64) (domain.Stake, error) {
	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return domain.Stake{}, err
	}
	if amount == 0 {
		return domain.Stake{}, domain.ErrInvalidAmount
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	pm, err := uc.repo.GetMultiplier(ctx, periodSeconds)
	if err != nil {
		return domain.Stake{}, err
	}

	// Pull-style token move; propagates InsufficientBalance and
	// InsufficientAllowance from the ledger.
	if err := uc.ledger.TransferFrom(ctx, uc.params.Pool, caller, uc.params.Pool, amount); err != nil {
		return domain.Stake{}, err
	}

	stake := domain.Stake{
		Account:          caller,
		Amount:           amount,
		StartTime:        uc.now(),
		LockPeriod:       periodSeconds,
		GovernanceWeight: pm.GovernanceWeight(amount),
		IsActive:         true,
	}
	created, err := uc.repo.CreateStake(ctx, stake)
	if err != nil {
		// Funds are in the pool but the entry failed to persist;
		// return them so the ledger invariant holds.
		if refundErr := uc.ledger.Transfer(ctx, uc.params.Pool, caller, amount); refundErr != nil {
			return domain.Stake{}, refundErr
		}
		return domain.Stake{}, err
	}
	return created, nil
}

// Unstake releases a matured stake and returns exactly the staked
// amount. Entries are retained inactive for audit.
func (uc *StakingUsecase) Unstake(ctx context.Context, caller string, index int) (uint64, error) {
	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return 0, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	totals, err := uc.repo.Totals(ctx)
	if err != nil {
		return 0, err
	}

	return uc.release(ctx, caller, index, !totals.EmergencyMode)
}

// EmergencyUnstake lets the owner release any account's stake before
// maturity. It requires the global emergency flag: owner rights alone
// do not bypass lock times.
func (uc *StakingUsecase) EmergencyUnstake(ctx context.Context, caller, account string, index int) (uint64, error) {
	if err := uc.requireOwner(caller); err != nil {
		return 0, err
	}
	account, err := domain.NormalizeAddress(account)
	if err != nil {
		return 0, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	totals, err := uc.repo.Totals(ctx)
	if err != nil {
		return 0, err
	}
	if !totals.EmergencyMode {
		return 0, domain.ErrEmergencyNotActive
	}

	return uc.release(ctx, account, index, false)
}

// release marks the stake inactive and pays out. Caller holds the
// mutex.
func (uc *StakingUsecase) release(ctx context.Context, account string, index int, enforceLock bool) (uint64, error) {
	stake, err := uc.repo.GetStake(ctx, account, index)
	if err != nil {
		return 0, err
	}
	if !stake.IsActive {
		return 0, domain.ErrStakeNotActive
	}

	now := uc.now()
	if enforceLock && now.Before(stake.UnlockTime()) {
		return 0, domain.ErrStillLocked
	}

	// Pay out before touching the entry: a failed transfer (paused
	// ledger, drained pool) must leave the stake active and retryable.
	if err := uc.ledger.Transfer(ctx, uc.params.Pool, account, stake.Amount); err != nil {
		return 0, err
	}
	if err := uc.repo.Deactivate(ctx, account, index, now); err != nil {
		// Payout landed but the entry is still active; pull the funds
		// back so a retry releases them exactly once.
		if clawErr := uc.ledger.Transfer(ctx, account, uc.params.Pool, stake.Amount); clawErr != nil {
			return 0, clawErr
		}
		return 0, err
	}
	return stake.Amount, nil
}

func (uc *StakingUsecase) SetEmergencyMode(ctx context.Context, caller string, on bool) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.SetEmergencyMode(ctx, on)
}

// UpdatePeriodMultiplier changes the table within configured bounds.
// Existing stakes keep the weight they were created with.
func (uc *StakingUsecase) UpdatePeriodMultiplier(ctx context.Context, caller string, periodSeconds int64, multiplier uint64) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}
	if periodSeconds < uc.params.MinPeriod || periodSeconds > uc.params.MaxPeriod {
		return domain.ErrInvalidPeriod
	}
	if multiplier < uc.params.MinMultiplier || multiplier > uc.params.MaxMultiplier {
		return domain.ErrInvalidMultiplier
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.UpsertMultiplier(ctx, domain.PeriodMultiplier{
		PeriodSeconds: periodSeconds,
		Multiplier:    multiplier,
	})
}

func (uc *StakingUsecase) AccountStakes(ctx context.Context, account string) (domain.AccountStakes, error) {
	account, err := domain.NormalizeAddress(account)
	if err != nil {
		return domain.AccountStakes{}, err
	}
	return uc.repo.AccountStakes(ctx, account)
}

func (uc *StakingUsecase) Totals(ctx context.Context) (domain.StakingTotals, error) {
	return uc.repo.Totals(ctx)
}

func (uc *StakingUsecase) SupportedPeriods(ctx context.Context) ([]domain.PeriodMultiplier, error) {
	return uc.repo.Multipliers(ctx)
}

func (uc *StakingUsecase) requireOwner(caller string) error {
	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if caller != uc.params.Owner {
		return domain.ErrUnauthorized
	}
	return nil
}
