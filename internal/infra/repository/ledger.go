package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/infra/database/models"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Seed creates the ledger state row and issues the whole supply to
// the owner. Idempotent: does nothing if the state row exists.
func (r *LedgerRepository) Seed(ctx context.Context, owner string, supply uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state models.LedgerState
		err := tx.First(&state).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "ledger state lookup failed")
		}

		if err := tx.Create(&models.LedgerState{TotalSupply: supply}).Error; err != nil {
			return errors.Wrap(err, "ledger state create failed")
		}
		if err := tx.Create(&models.Balance{Address: owner, Amount: supply}).Error; err != nil {
			return errors.Wrap(err, "initial issuance failed")
		}
		return nil
	})
}

func (r *LedgerRepository) State(ctx context.Context) (domain.LedgerState, error) {
	var state models.LedgerState
	err := r.db.WithContext(ctx).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.LedgerState{}, domain.NotFoundError{Resource: "ledger state"}
		}
		return domain.LedgerState{}, err
	}
	return domain.LedgerState{
		TotalSupply:       state.TotalSupply,
		Paused:            state.Paused,
		AuthorizedUpdater: state.AuthorizedUpdater,
	}, nil
}

func (r *LedgerRepository) SetPaused(ctx context.Context, paused bool) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerState{}).
		Where("1 = 1").
		Update("paused", paused).Error
}

func (r *LedgerRepository) SetAuthorizedUpdater(ctx context.Context, addr string) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerState{}).
		Where("1 = 1").
		Update("authorized_updater", addr).Error
}

func (r *LedgerRepository) BalanceOf(ctx context.Context, addr string) (uint64, error) {
	var balance models.Balance
	err := r.db.WithContext(ctx).First(&balance, "address = ?", addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Amount, nil
}

func (r *LedgerRepository) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	var allowance models.Allowance
	err := r.db.WithContext(ctx).
		First(&allowance, "owner = ? AND spender = ?", owner, spender).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return allowance.Amount, nil
}

// Transfer debits and credits in one transaction; both rows change or
// neither does.
func (r *LedgerRepository) Transfer(ctx context.Context, from, to string, amount uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return move(tx, from, to, amount)
	})
}

// TransferFrom additionally consumes allowance in the same
// transaction.
func (r *LedgerRepository) TransferFrom(ctx context.Context, spender, from, to string, amount uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var allowance models.Allowance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&allowance, "owner = ? AND spender = ?", from, spender).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInsufficientAllowance
			}
			return err
		}
		if allowance.Amount < amount {
			return domain.ErrInsufficientAllowance
		}

		if err := tx.Model(&models.Allowance{}).
			Where("owner = ? AND spender = ?", from, spender).
			Update("amount", allowance.Amount-amount).Error; err != nil {
			return err
		}

		return move(tx, from, to, amount)
	})
}

func (r *LedgerRepository) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	allowance := models.Allowance{Owner: owner, Spender: spender, Amount: amount}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&allowance).Error
}

// Burn destroys tokens and shrinks total supply atomically.
func (r *LedgerRepository) Burn(ctx context.Context, from string, amount uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, from, amount); err != nil {
			return err
		}

		var state models.LedgerState
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&state).Error; err != nil {
			return err
		}
		return tx.Model(&state).Update("total_supply", state.TotalSupply-amount).Error
	})
}

func move(tx *gorm.DB, from, to string, amount uint64) error {
	if err := debit(tx, from, amount); err != nil {
		return err
	}

	credit := models.Balance{Address: to, Amount: amount}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]any{"amount": gorm.Expr("balances.amount + ?", amount)}),
	}).Create(&credit).Error
}

func debit(tx *gorm.DB, from string, amount uint64) error {
	var balance models.Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&balance, "address = ?", from).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrInsufficientBalance
		}
		return err
	}
	if balance.Amount < amount {
		return domain.ErrInsufficientBalance
	}
	return tx.Model(&models.Balance{}).
		Where("address = ?", from).
		Update("amount", balance.Amount-amount).Error
}
