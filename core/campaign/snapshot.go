// Package campaign derives the client-side view of a crowdfunding campaign
// from the raw ledger snapshot and predicts which actions an actor may
// attempt. Everything here is pure: the ledger stays authoritative and callers
// re-project after every mutating attempt.
package campaign

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"crowdfund/core/amount"
)

// MaxFeeBps is the largest fee expressible in basis points (100%).
const MaxFeeBps = 10_000

// Snapshot mirrors the fundraiser contract state at a point in time.
type Snapshot struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Creator     common.Address `json:"creator"`
	Goal        amount.Amount  `json:"goal"`
	Deadline    int64          `json:"deadline"` // unix seconds
	TotalRaised amount.Amount  `json:"total_raised"`
	Withdrawn   bool           `json:"withdrawn"`
	Cancelled   bool           `json:"cancelled"`
	FeeBps      uint16         `json:"fee_bps"`
	Token       common.Address `json:"token"`
}

// Validate checks the invariants the ledger is expected to uphold.
func (s Snapshot) Validate() error {
	if s.FeeBps > MaxFeeBps {
		return fmt.Errorf("campaign %s: fee %d bps exceeds %d", s.Address.Hex(), s.FeeBps, MaxFeeBps)
	}
	if s.Withdrawn && s.Cancelled {
		return fmt.Errorf("campaign %s: withdrawn and cancelled are mutually exclusive", s.Address.Hex())
	}
	return nil
}
