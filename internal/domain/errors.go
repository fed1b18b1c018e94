package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// ValidationError represents rejected input. Never retried.
type ValidationError struct {
	Code string
	Msg  string
}

func (e ValidationError) Error() string { return e.Msg }

func (e ValidationError) Is(target error) bool {
	t, ok := target.(ValidationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// AuthorizationError represents a privileged operation invoked by the
// wrong caller. Never retried.
type AuthorizationError struct {
	Code string
	Msg  string
}

func (e AuthorizationError) Error() string { return e.Msg }

func (e AuthorizationError) Is(target error) bool {
	t, ok := target.(AuthorizationError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// StateError represents a violated precondition (already voted, still
// locked, paused). Never retried.
type StateError struct {
	Code string
	Msg  string
}

func (e StateError) Error() string { return e.Msg }

func (e StateError) Is(target error) bool {
	t, ok := target.(StateError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Ledger errors.
var (
	ErrInvalidAddress        = ValidationError{Code: "INVALID_ADDRESS", Msg: "invalid address"}
	ErrInvalidAmount         = ValidationError{Code: "INVALID_AMOUNT", Msg: "amount must be greater than zero"}
	ErrInsufficientBalance   = StateError{Code: "INSUFFICIENT_BALANCE", Msg: "insufficient balance"}
	ErrInsufficientAllowance = StateError{Code: "INSUFFICIENT_ALLOWANCE", Msg: "insufficient allowance"}
	ErrPaused                = StateError{Code: "PAUSED", Msg: "ledger is paused"}
	ErrNotPaused             = StateError{Code: "NOT_PAUSED", Msg: "ledger is not paused"}
	ErrUnauthorized          = AuthorizationError{Code: "UNAUTHORIZED", Msg: "caller is not authorized"}
)

// Governance errors.
var (
	ErrUnknownProposal  = NotFoundError{Resource: "proposal"}
	ErrEmptyDescription = ValidationError{Code: "EMPTY_DESCRIPTION", Msg: "proposal description must not be empty"}
	ErrVotingNotStarted = StateError{Code: "VOTING_NOT_STARTED", Msg: "voting has not started"}
	ErrVotingEnded      = StateError{Code: "VOTING_ENDED", Msg: "voting has ended"}
	ErrVotingNotEnded   = StateError{Code: "VOTING_NOT_ENDED", Msg: "voting has not ended"}
	ErrAlreadyVoted     = StateError{Code: "ALREADY_VOTED", Msg: "account has already voted"}
	ErrAlreadyExecuted  = StateError{Code: "ALREADY_EXECUTED", Msg: "proposal already executed"}
	ErrNoVotingPower    = StateError{Code: "NO_VOTING_POWER", Msg: "account holds no voting power"}
	ErrInvalidCity      = ValidationError{Code: "INVALID_CITY", Msg: "unknown or inactive city"}
	ErrCityNotFound     = NotFoundError{Resource: "city"}
	ErrCityExists       = ValidationError{Code: "CITY_EXISTS", Msg: "city id already registered"}
	ErrInvalidPrice     = ValidationError{Code: "INVALID_PRICE", Msg: "price must be greater than zero"}
	ErrInvalidWeight    = ValidationError{Code: "INVALID_WEIGHT", Msg: "weight must be greater than zero"}
)

// Staking errors.
var (
	ErrUnsupportedPeriod  = ValidationError{Code: "UNSUPPORTED_PERIOD", Msg: "lock period has no configured multiplier"}
	ErrInvalidIndex       = ValidationError{Code: "INVALID_INDEX", Msg: "stake index out of range"}
	ErrStakeNotActive     = StateError{Code: "NOT_ACTIVE", Msg: "stake already withdrawn"}
	ErrStillLocked        = StateError{Code: "STILL_LOCKED", Msg: "stake is still locked"}
	ErrEmergencyNotActive = StateError{Code: "EMERGENCY_NOT_ACTIVE", Msg: "emergency mode is not active"}
	ErrInvalidMultiplier  = ValidationError{Code: "INVALID_MULTIPLIER", Msg: "multiplier outside the allowed range"}
	ErrInvalidPeriod      = ValidationError{Code: "INVALID_PERIOD", Msg: "lock period outside the allowed range"}
)

// Oracle errors.
var (
	ErrUpdateInProgress = StateError{Code: "UPDATE_IN_PROGRESS", Msg: "a price update cycle is already running"}
	ErrSnapshotMissing  = NotFoundError{Resource: "snapshot"}
)

// ErrorCode extracts the stable machine-readable code carried by a
// domain error, or "INTERNAL_ERROR" for anything else.
func ErrorCode(err error) string {
	switch e := err.(type) {
	case ValidationError:
		return e.Code
	case AuthorizationError:
		return e.Code
	case StateError:
		return e.Code
	case NotFoundError:
		if e.Resource == "city" {
			return "CITY_NOT_FOUND"
		}
		return "NOT_FOUND"
	}
	return "INTERNAL_ERROR"
}
