package models

import (
	"time"
)

// LedgerState is a single-row table holding the ledger's
// administrative state.
type LedgerState struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	TotalSupply       uint64    `json:"totalSupply" gorm:"not null"`
	Paused            bool      `json:"paused" gorm:"not null;default:false"`
	AuthorizedUpdater string    `json:"authorizedUpdater" gorm:"type:text"`
	CDate             time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate             time.Time `json:"mdate" gorm:"type:timestamp with time zone;autoUpdateTime"`
}

type Balance struct {
	Address string `json:"address" gorm:"primaryKey;type:text"`
	Amount  uint64 `json:"amount" gorm:"not null;default:0"`
}

type Allowance struct {
	Owner   string `json:"owner" gorm:"primaryKey;type:text"`
	Spender string `json:"spender" gorm:"primaryKey;type:text"`
	Amount  uint64 `json:"amount" gorm:"not null;default:0"`
}
