package usecase

import (
	"context"
	"sync"

	"github.com/propdao/propindex/internal/domain"
)

// LedgerRepository defines the atomic storage operations backing the
// token ledger. Balance-mutating methods are all-or-nothing.
type LedgerRepository interface {
	State(ctx context.Context) (domain.LedgerState, error)
	SetPaused(ctx context.Context, paused bool) error
	SetAuthorizedUpdater(ctx context.Context, addr string) error
	BalanceOf(ctx context.Context, addr string) (uint64, error)
	Allowance(ctx context.Context, owner, spender string) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
	TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error
	Approve(ctx context.Context, owner, spender string, amount uint64) error
	Burn(ctx context.Context, from string, amount uint64) error
	Seed(ctx context.Context, owner string, supply uint64) error
}

// LedgerUsecase owns the conserved-balance token ledger. All mutations
// are serialized: the ledger is a single-writer state machine.
type LedgerUsecase struct {
	mu    sync.Mutex
	repo  LedgerRepository
	owner string
}

func NewLedgerUsecase(repo LedgerRepository, owner string) *LedgerUsecase {
	return &LedgerUsecase{repo: repo, owner: owner}
}

// Seed issues the initial supply to the owner. No-op if the ledger is
// already initialized.
func (uc *LedgerUsecase) Seed(ctx context.Context, supply uint64) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.Seed(ctx, uc.owner, supply)
}

func (uc *LedgerUsecase) Transfer(ctx context.Context, from, to string, amount uint64) error {
	from, err := domain.NormalizeAddress(from)
	if err != nil {
		return err
	}
	to, err = domain.NormalizeAddress(to)
	if err != nil {
		return err
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, err := uc.repo.State(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}

	return uc.repo.Transfer(ctx, from, to, amount)
}

func (uc *LedgerUsecase) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	spender, err := domain.NormalizeAddress(spender)
	if err != nil {
		return err
	}
	from, err = domain.NormalizeAddress(from)
	if err != nil {
		return err
	}
	to, err = domain.NormalizeAddress(to)
	if err != nil {
		return err
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, err := uc.repo.State(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}

	return uc.repo.TransferFrom(ctx, spender, from, to, amount)
}

func (uc *LedgerUsecase) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	owner, err := domain.NormalizeAddress(owner)
	if err != nil {
		return err
	}
	spender, err = domain.NormalizeAddress(spender)
	if err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.Approve(ctx, owner, spender, amount)
}

// Burn destroys tokens from the caller's balance, reducing total
// supply. The only supply-reducing path after initial issuance.
func (uc *LedgerUsecase) Burn(ctx context.Context, from string, amount uint64) error {
	from, err := domain.NormalizeAddress(from)
	if err != nil {
		return err
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, err := uc.repo.State(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}

	return uc.repo.Burn(ctx, from, amount)
}

func (uc *LedgerUsecase) Pause(ctx context.Context, caller string) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, err := uc.repo.State(ctx)
	if err != nil {
		return err
	}
	if state.Paused {
		return domain.ErrPaused
	}
	return uc.repo.SetPaused(ctx, true)
}

func (uc *LedgerUsecase) Unpause(ctx context.Context, caller string) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	state, err := uc.repo.State(ctx)
	if err != nil {
		return err
	}
	if !state.Paused {
		return domain.ErrNotPaused
	}
	return uc.repo.SetPaused(ctx, false)
}

// SetAuthorizedUpdater replaces the single address permitted to push
// price data into the ledger.
func (uc *LedgerUsecase) SetAuthorizedUpdater(ctx context.Context, caller, addr string) error {
	if err := uc.requireOwner(caller); err != nil {
		return err
	}
	addr, err := domain.NormalizeAddress(addr)
	if err != nil {
		return err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.repo.SetAuthorizedUpdater(ctx, addr)
}

func (uc *LedgerUsecase) BalanceOf(ctx context.Context, addr string) (uint64, error) {
	addr, err := domain.NormalizeAddress(addr)
	if err != nil {
		return 0, err
	}
	return uc.repo.BalanceOf(ctx, addr)
}

func (uc *LedgerUsecase) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	owner, err := domain.NormalizeAddress(owner)
	if err != nil {
		return 0, err
	}
	spender, err = domain.NormalizeAddress(spender)
	if err != nil {
		return 0, err
	}
	return uc.repo.Allowance(ctx, owner, spender)
}

func (uc *LedgerUsecase) State(ctx context.Context) (domain.LedgerState, error) {
	return uc.repo.State(ctx)
}

// AuthorizedUpdater reports the address currently permitted to push
// prices.
func (uc *LedgerUsecase) AuthorizedUpdater(ctx context.Context) (string, error) {
	state, err := uc.repo.State(ctx)
	if err != nil {
		return "", err
	}
	return state.AuthorizedUpdater, nil
}

func (uc *LedgerUsecase) requireOwner(caller string) error {
	caller, err := domain.NormalizeAddress(caller)
	if err != nil {
		return err
	}
	if caller != uc.owner {
		return domain.ErrUnauthorized
	}
	return nil
}
