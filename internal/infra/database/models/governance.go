package models

import (
	"time"
)

type City struct {
	ID          uint64    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	PriceIndex  uint64    `json:"priceIndex" gorm:"not null"`
	Weight      uint64    `json:"weight" gorm:"not null"`
	IsActive    bool      `json:"isActive" gorm:"not null;default:true"`
	LastUpdated time.Time `json:"lastUpdated" gorm:"type:timestamp with time zone"`
}

// IndexState is a single-row table holding the last computed global
// index. Kept separate from cities so a zero-weight state can leave it
// untouched.
type IndexState struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Value       uint64    `json:"value" gorm:"not null"`
	ActiveCount int       `json:"activeCount" gorm:"not null;default:0"`
	TotalWeight uint64    `json:"totalWeight" gorm:"not null"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"type:timestamp with time zone"`
}

type Proposal struct {
	ID           uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Proposer     string    `json:"proposer" gorm:"type:text;index;not null"`
	Description  string    `json:"description" gorm:"type:text;not null"`
	ForVotes     uint64    `json:"forVotes" gorm:"not null;default:0"`
	AgainstVotes uint64    `json:"againstVotes" gorm:"not null;default:0"`
	StartTime    time.Time `json:"startTime" gorm:"type:timestamp with time zone;not null"`
	EndTime      time.Time `json:"endTime" gorm:"type:timestamp with time zone;not null"`
	Executed     bool      `json:"executed" gorm:"not null;default:false"`
	Passed       bool      `json:"passed" gorm:"not null;default:false"`
	CDate        time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

type Vote struct {
	ProposalID uint64    `json:"proposalId" gorm:"primaryKey"`
	Proposal   Proposal  `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	Voter      string    `json:"voter" gorm:"primaryKey;type:text"`
	Support    bool      `json:"support" gorm:"not null"`
	Weight     uint64    `json:"weight" gorm:"not null"`
	CDate      time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}
