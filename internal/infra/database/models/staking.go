package models

import (
	"time"
)

type Stake struct {
	ID               uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Account          string     `json:"account" gorm:"type:text;index:idx_stake_account;not null"`
	AccountIndex     int        `json:"accountIndex" gorm:"not null"`
	Amount           uint64     `json:"amount" gorm:"not null"`
	StartTime        time.Time  `json:"startTime" gorm:"type:timestamp with time zone;not null"`
	LockPeriod       int64      `json:"lockPeriod" gorm:"not null"`
	GovernanceWeight uint64     `json:"governanceWeight" gorm:"not null"`
	IsActive         bool       `json:"isActive" gorm:"not null;default:true"`
	WithdrawnAt      *time.Time `json:"withdrawnAt" gorm:"type:timestamp with time zone"`
}

type PeriodMultiplier struct {
	PeriodSeconds int64  `json:"periodSeconds" gorm:"primaryKey"`
	Multiplier    uint64 `json:"multiplier" gorm:"not null"`
}

// StakingState is a single-row table for global staking totals and the
// emergency flag.
type StakingState struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	TotalStaked   uint64 `json:"totalStaked" gorm:"not null;default:0"`
	TotalStakers  uint64 `json:"totalStakers" gorm:"not null;default:0"`
	EmergencyMode bool   `json:"emergencyMode" gorm:"not null;default:false"`
}
