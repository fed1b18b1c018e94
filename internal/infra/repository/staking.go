package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/infra/database/models"
)

type StakingRepository struct {
	db *gorm.DB
}

func NewStakingRepository(db *gorm.DB) *StakingRepository {
	return &StakingRepository{db: db}
}

func (r *StakingRepository) Totals(ctx context.Context) (domain.StakingTotals, error) {
	state, err := r.loadState(ctx, r.db)
	if err != nil {
		return domain.StakingTotals{}, err
	}
	return domain.StakingTotals{
		TotalStaked:   state.TotalStaked,
		TotalStakers:  state.TotalStakers,
		EmergencyMode: state.EmergencyMode,
	}, nil
}

func (r *StakingRepository) SetEmergencyMode(ctx context.Context, on bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := r.loadState(ctx, tx)
		if err != nil {
			return err
		}
		return tx.Model(&state).Update("emergency_mode", on).Error
	})
}

func (r *StakingRepository) Multipliers(ctx context.Context) ([]domain.PeriodMultiplier, error) {
	var records []models.PeriodMultiplier
	err := r.db.WithContext(ctx).Order("period_seconds asc").Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.PeriodMultiplier, 0, len(records))
	for _, pm := range records {
		result = append(result, domain.PeriodMultiplier{
			PeriodSeconds: pm.PeriodSeconds,
			Multiplier:    pm.Multiplier,
		})
	}
	return result, nil
}

func (r *StakingRepository) GetMultiplier(ctx context.Context, periodSeconds int64) (domain.PeriodMultiplier, error) {
	var record models.PeriodMultiplier
	err := r.db.WithContext(ctx).First(&record, "period_seconds = ?", periodSeconds).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.PeriodMultiplier{}, domain.ErrUnsupportedPeriod
		}
		return domain.PeriodMultiplier{}, err
	}
	return domain.PeriodMultiplier{
		PeriodSeconds: record.PeriodSeconds,
		Multiplier:    record.Multiplier,
	}, nil
}

func (r *StakingRepository) UpsertMultiplier(ctx context.Context, pm domain.PeriodMultiplier) error {
	record := models.PeriodMultiplier{
		PeriodSeconds: pm.PeriodSeconds,
		Multiplier:    pm.Multiplier,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_seconds"}},
		DoUpdates: clause.AssignmentColumns([]string{"multiplier"}),
	}).Create(&record).Error
}

// CreateStake appends the entry and keeps global totals consistent:
// the staker count grows only when this is the account's first active
// stake.
func (r *StakingRepository) CreateStake(ctx context.Context, stake domain.Stake) (domain.Stake, error) {
	var created domain.Stake
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activeCount int64
		if err := tx.Model(&models.Stake{}).
			Where("account = ? AND is_active = true", stake.Account).
			Count(&activeCount).Error; err != nil {
			return err
		}

		var maxIndex int64 = -1
		row := tx.Model(&models.Stake{}).
			Where("account = ?", stake.Account).
			Select("COALESCE(MAX(account_index), -1)").
			Row()
		if err := row.Scan(&maxIndex); err != nil {
			return err
		}

		record := models.Stake{
			Account:          stake.Account,
			AccountIndex:     int(maxIndex) + 1,
			Amount:           stake.Amount,
			StartTime:        stake.StartTime,
			LockPeriod:       stake.LockPeriod,
			GovernanceWeight: stake.GovernanceWeight,
			IsActive:         true,
		}
		if err := tx.Create(&record).Error; err != nil {
			return errors.Wrap(err, "stake create failed")
		}

		state, err := r.loadState(ctx, tx)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"total_staked": state.TotalStaked + stake.Amount,
		}
		if activeCount == 0 {
			updates["total_stakers"] = state.TotalStakers + 1
		}
		if err := tx.Model(&state).Updates(updates).Error; err != nil {
			return err
		}

		created = stake
		created.Index = record.AccountIndex
		return nil
	})
	if err != nil {
		return domain.Stake{}, err
	}
	return created, nil
}

func (r *StakingRepository) GetStake(ctx context.Context, account string, index int) (domain.Stake, error) {
	var record models.Stake
	err := r.db.WithContext(ctx).
		First(&record, "account = ? AND account_index = ?", account, index).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Stake{}, domain.ErrInvalidIndex
		}
		return domain.Stake{}, err
	}
	return stakeToDomain(record), nil
}

// Deactivate marks the stake withdrawn and shrinks the totals; the
// staker count drops when no active stake remains. The entry itself is
// retained.
func (r *StakingRepository) Deactivate(ctx context.Context, account string, index int, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.Stake
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, "account = ? AND account_index = ?", account, index).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrInvalidIndex
			}
			return err
		}
		if !record.IsActive {
			return domain.ErrStakeNotActive
		}

		if err := tx.Model(&record).Updates(map[string]any{
			"is_active":    false,
			"withdrawn_at": at,
		}).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.Stake{}).
			Where("account = ? AND is_active = true", account).
			Count(&remaining).Error; err != nil {
			return err
		}

		state, err := r.loadState(ctx, tx)
		if err != nil {
			return err
		}
		updates := map[string]any{
			"total_staked": state.TotalStaked - record.Amount,
		}
		if remaining == 0 {
			updates["total_stakers"] = state.TotalStakers - 1
		}
		return tx.Model(&state).Updates(updates).Error
	})
}

func (r *StakingRepository) AccountStakes(ctx context.Context, account string) (domain.AccountStakes, error) {
	var records []models.Stake
	err := r.db.WithContext(ctx).
		Where("account = ?", account).
		Order("account_index asc").
		Find(&records).Error
	if err != nil {
		return domain.AccountStakes{}, err
	}

	result := domain.AccountStakes{Account: account, Stakes: make([]domain.Stake, 0, len(records))}
	for _, record := range records {
		stake := stakeToDomain(record)
		result.Stakes = append(result.Stakes, stake)
		if stake.IsActive {
			result.TotalStaked += stake.Amount
			result.TotalWeight += stake.GovernanceWeight
			result.ActiveStakes++
		}
	}
	return result, nil
}

func (r *StakingRepository) loadState(ctx context.Context, tx *gorm.DB) (models.StakingState, error) {
	var state models.StakingState
	err := tx.WithContext(ctx).First(&state).Error
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StakingState{}, err
	}
	state = models.StakingState{}
	if err := tx.WithContext(ctx).Create(&state).Error; err != nil {
		return models.StakingState{}, err
	}
	return state, nil
}

func stakeToDomain(record models.Stake) domain.Stake {
	return domain.Stake{
		Account:          record.Account,
		Index:            record.AccountIndex,
		Amount:           record.Amount,
		StartTime:        record.StartTime,
		LockPeriod:       record.LockPeriod,
		GovernanceWeight: record.GovernanceWeight,
		IsActive:         record.IsActive,
		WithdrawnAt:      record.WithdrawnAt,
	}
}
