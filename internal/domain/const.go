package domain

const (
	// TokenDecimals fixes the base-unit scale: 1 token = 10^6 base units.
	TokenDecimals = 6

	// TokenUnit is one whole token in base units.
	TokenUnit uint64 = 1_000_000

	// PriceScale is the fixed-point scale for prices and indexes
	// (two decimal places).
	PriceScale uint64 = 100

	// MultiplierBase is the fixed-point scale for staking multipliers
	// (200 means 2.0x).
	MultiplierBase uint64 = 100

	// MaxConfidence caps per-city confidence scores.
	MaxConfidence float64 = 100

	// SyntheticSourceName labels samples produced by the fallback
	// estimator so consumers can tell fabricated data apart.
	SyntheticSourceName = "synthetic"
)

const (
	// CallerCtxKey is the echo context key holding the normalized
	// caller address extracted by the caller middleware.
	CallerCtxKey = "pi-caller"
)

// ProposalStatus reports where a proposal sits in its lifecycle.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalActive   ProposalStatus = "active"
	ProposalEnded    ProposalStatus = "ended"
	ProposalExecuted ProposalStatus = "executed"
)
