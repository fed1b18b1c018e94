package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/propdao/propindex/internal/domain"
	"github.com/propdao/propindex/internal/infra/database/models"
)

type GovernanceRepository struct {
	db *gorm.DB
}

func NewGovernanceRepository(db *gorm.DB) *GovernanceRepository {
	return &GovernanceRepository{db: db}
}

func (r *GovernanceRepository) GetCity(ctx context.Context, id uint64) (domain.City, error) {
	var city models.City
	err := r.db.WithContext(ctx).First(&city, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.City{}, domain.ErrCityNotFound
		}
		return domain.City{}, err
	}
	return cityToDomain(city), nil
}

func (r *GovernanceRepository) ListCities(ctx context.Context) ([]domain.City, error) {
	var cities []models.City
	err := r.db.WithContext(ctx).Order("id asc").Find(&cities).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.City, 0, len(cities))
	for _, c := range cities {
		result = append(result, cityToDomain(c))
	}
	return result, nil
}

func (r *GovernanceRepository) CreateCity(ctx context.Context, city domain.City) error {
	record := cityToModel(city)
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *GovernanceRepository) SaveCity(ctx context.Context, city domain.City) error {
	record := cityToModel(city)
	return r.db.WithContext(ctx).
		Model(&models.City{}).
		Where("id = ?", city.ID).
		Select("name", "price_index", "weight", "is_active", "last_updated").
		Updates(&record).Error
}

func (r *GovernanceRepository) GlobalIndex(ctx context.Context) (domain.GlobalIndex, error) {
	var state models.IndexState
	err := r.db.WithContext(ctx).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GlobalIndex{}, domain.NotFoundError{Resource: "global index"}
		}
		return domain.GlobalIndex{}, err
	}
	return domain.GlobalIndex{
		Value:       state.Value,
		ActiveCount: state.ActiveCount,
		TotalWeight: state.TotalWeight,
		UpdatedAt:   state.UpdatedAt,
	}, nil
}

func (r *GovernanceRepository) SetGlobalIndex(ctx context.Context, index domain.GlobalIndex) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state models.IndexState
		err := tx.First(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.IndexState{
				Value:       index.Value,
				ActiveCount: index.ActiveCount,
				TotalWeight: index.TotalWeight,
				UpdatedAt:   index.UpdatedAt,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&state).Updates(map[string]any{
			"value":        index.Value,
			"active_count": index.ActiveCount,
			"total_weight": index.TotalWeight,
			"updated_at":   index.UpdatedAt,
		}).Error
	})
}

func (r *GovernanceRepository) CreateProposal(ctx context.Context, p domain.Proposal) (uint64, error) {
	record := models.Proposal{
		Proposer:    p.Proposer,
		Description: p.Description,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return 0, errors.Wrap(err, "proposal create failed")
	}
	return record.ID, nil
}

func (r *GovernanceRepository) GetProposal(ctx context.Context, id uint64) (domain.Proposal, error) {
	var record models.Proposal
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Proposal{}, domain.ErrUnknownProposal
		}
		return domain.Proposal{}, err
	}
	return proposalToDomain(record), nil
}

func (r *GovernanceRepository) ListProposals(ctx context.Context, limit, offset int) ([]domain.Proposal, error) {
	var records []models.Proposal
	err := r.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	result := make([]domain.Proposal, 0, len(records))
	for _, p := range records {
		result = append(result, proposalToDomain(p))
	}
	return result, nil
}

// AddVote inserts the vote record and bumps the proposal tally in one
// transaction. The composite primary key makes revoting a conflict.
func (r *GovernanceRepository) AddVote(ctx context.Context, vote domain.Vote) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.Vote{
			ProposalID: vote.ProposalID,
			Voter:      vote.Voter,
			Support:    vote.Support,
			Weight:     vote.Weight,
		}
		err := tx.Create(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrAlreadyVoted
			}
			return errors.Wrap(err, "vote create failed")
		}

		column := "against_votes"
		if vote.Support {
			column = "for_votes"
		}
		return tx.Model(&models.Proposal{}).
			Where("id = ?", vote.ProposalID).
			Update(column, gorm.Expr(column+" + ?", vote.Weight)).Error
	})
}

func (r *GovernanceRepository) MarkExecuted(ctx context.Context, id uint64, passed bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.Proposal{}).
		Where("id = ? AND executed = false", id).
		Updates(map[string]any{"executed": true, "passed": passed})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAlreadyExecuted
	}
	return nil
}

func cityToDomain(c models.City) domain.City {
	return domain.City{
		ID:          c.ID,
		Name:        c.Name,
		PriceIndex:  c.PriceIndex,
		Weight:      c.Weight,
		IsActive:    c.IsActive,
		LastUpdated: c.LastUpdated,
	}
}

func cityToModel(c domain.City) models.City {
	return models.City{
		ID:          c.ID,
		Name:        c.Name,
		PriceIndex:  c.PriceIndex,
		Weight:      c.Weight,
		IsActive:    c.IsActive,
		LastUpdated: c.LastUpdated,
	}
}

func proposalToDomain(p models.Proposal) domain.Proposal {
	return domain.Proposal{
		ID:           p.ID,
		Proposer:     p.Proposer,
		Description:  p.Description,
		ForVotes:     p.ForVotes,
		AgainstVotes: p.AgainstVotes,
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		Executed:     p.Executed,
		Passed:       p.Passed,
	}
}
