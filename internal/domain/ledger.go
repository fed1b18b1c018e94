package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerState is the single-row administrative state of the token ledger.
type LedgerState struct {
	TotalSupply       uint64 `json:"totalSupply"`
	Paused            bool   `json:"paused"`
	AuthorizedUpdater string `json:"authorizedUpdater"`
}

// Balance pairs an address with its current balance.
type Balance struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// NormalizeAddress validates an address-like key and returns its
// checksummed form. Every account key in the system passes through here.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(addr).Hex(), nil
}
