package domain

import "time"

// Stake is one time-locked deposit. Withdrawn entries stay on record
// with IsActive=false.
type Stake struct {
	Account          string    `json:"account"`
	Index            int       `json:"index"`
	Amount           uint64    `json:"amount"`
	StartTime        time.Time `json:"startTime"`
	LockPeriod       int64     `json:"lockPeriod"` // seconds
	GovernanceWeight uint64    `json:"governanceWeight"`
	IsActive         bool      `json:"isActive"`
	WithdrawnAt      *time.Time `json:"withdrawnAt,omitempty"`
}

// UnlockTime is the first instant at which the stake may be withdrawn.
func (s Stake) UnlockTime() time.Time {
	return s.StartTime.Add(time.Duration(s.LockPeriod) * time.Second)
}

// PeriodMultiplier maps a lock period to its governance-weight
// multiplier (scaled by MultiplierBase).
type PeriodMultiplier struct {
	PeriodSeconds int64  `json:"periodSeconds"`
	Multiplier    uint64 `json:"multiplier"`
}

// GovernanceWeight derives the weight granted for staking amount over
// this period. Fixed at stake creation, never retroactive.
func (pm PeriodMultiplier) GovernanceWeight(amount uint64) uint64 {
	return amount * pm.Multiplier / MultiplierBase
}

// AccountStakes aggregates one account's staking position.
type AccountStakes struct {
	Account      string  `json:"account"`
	Stakes       []Stake `json:"stakes"`
	TotalStaked  uint64  `json:"totalStaked"`
	TotalWeight  uint64  `json:"totalWeight"`
	ActiveStakes int     `json:"activeStakes"`
}

// StakingTotals is the global staking view.
type StakingTotals struct {
	TotalStaked   uint64 `json:"totalStaked"`
	TotalStakers  uint64 `json:"totalStakers"`
	EmergencyMode bool   `json:"emergencyMode"`
}
