package domain

import "time"

// City is a tracked market contributing to the global price index.
type City struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	PriceIndex  uint64    `json:"priceIndex"` // scaled by PriceScale
	Weight      uint64    `json:"weight"`
	IsActive    bool      `json:"isActive"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// GlobalIndex is the weighted-average price scalar over active cities.
type GlobalIndex struct {
	Value       uint64    `json:"value"` // scaled by PriceScale
	ActiveCount int       `json:"activeCities"`
	TotalWeight uint64    `json:"totalWeight"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ComputeGlobalIndex reduces active cities to the weighted average.
// A zero total weight yields ok=false and the caller must leave the
// stored index untouched.
func ComputeGlobalIndex(cities []City) (value uint64, totalWeight uint64, ok bool) {
	var sum uint64
	for _, c := range cities {
		if !c.IsActive {
			continue
		}
		sum += c.PriceIndex * c.Weight
		totalWeight += c.Weight
	}
	if totalWeight == 0 {
		return 0, 0, false
	}
	return sum / totalWeight, totalWeight, true
}

// Proposal is a governance record. Execution only stores the outcome;
// nothing is actuated.
type Proposal struct {
	ID           uint64    `json:"id"`
	Proposer     string    `json:"proposer"`
	Description  string    `json:"description"`
	ForVotes     uint64    `json:"forVotes"`
	AgainstVotes uint64    `json:"againstVotes"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	Executed     bool      `json:"executed"`
	Passed       bool      `json:"passed"`
}

// Status derives the lifecycle stage at the given instant.
func (p Proposal) Status(now time.Time) ProposalStatus {
	if p.Executed {
		return ProposalExecuted
	}
	if now.Before(p.StartTime) {
		return ProposalPending
	}
	if now.After(p.EndTime) {
		return ProposalEnded
	}
	return ProposalActive
}

// Vote is the permanent per-(proposal, account) record.
type Vote struct {
	ProposalID uint64    `json:"proposalId"`
	Voter      string    `json:"voter"`
	Support    bool      `json:"support"`
	Weight     uint64    `json:"weight"`
	CastAt     time.Time `json:"castAt"`
}
