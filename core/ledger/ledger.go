// Package ledger defines the ports through which the crowdfunding engine reads
// campaign state from, and submits transactions to, the external ledger.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
)

// Reader captures the read calls the engine issues against the ledger.
type Reader interface {
	Snapshot(ctx context.Context, fundraiser common.Address) (campaign.Snapshot, error)
	Donation(ctx context.Context, fundraiser, actor common.Address) (amount.Amount, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (amount.Amount, error)
	// Campaigns returns the fundraisers created by the factory in creation order.
	Campaigns(ctx context.Context, factory common.Address) ([]common.Address, error)
}

// Signer produces signatures for transactions submitted on behalf of the actor.
type Signer interface {
	Account() (common.Address, bool)
	SignTx(ctx context.Context, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Writer captures the mutating calls. Each returns once the transaction has
// been accepted for broadcast; confirmation is awaited on the PendingTx.
type Writer interface {
	Approve(ctx context.Context, signer Signer, token, spender common.Address, value amount.Amount) (PendingTx, error)
	Donate(ctx context.Context, signer Signer, fundraiser common.Address, value amount.Amount) (PendingTx, error)
	Withdraw(ctx context.Context, signer Signer, fundraiser common.Address) (PendingTx, error)
	Cancel(ctx context.Context, signer Signer, fundraiser common.Address) (PendingTx, error)
	ClaimRefund(ctx context.Context, signer Signer, fundraiser common.Address) (PendingTx, error)
	CreateFundraiser(ctx context.Context, signer Signer, factory common.Address, draft campaign.Draft) (PendingTx, error)
}

// Ledger is the full collaborator consumed by the orchestrator.
type Ledger interface {
	Reader
	Writer
}

// PendingTx is an opaque handle to a submitted transaction.
type PendingTx interface {
	Hash() common.Hash
	// Wait blocks until the transaction is confirmed or fails. A reverted
	// transaction yields ErrLedgerRejected.
	Wait(ctx context.Context) error
}

// FuncPendingTx adapts a hash and a callback to the PendingTx interface.
type FuncPendingTx struct {
	TxHash   common.Hash
	WaitFunc func(ctx context.Context) error
}

// Hash returns the configured transaction hash.
func (p FuncPendingTx) Hash() common.Hash { return p.TxHash }

// Wait delegates to the configured callback.
func (p FuncPendingTx) Wait(ctx context.Context) error {
	if p.WaitFunc == nil {
		return nil
	}
	return p.WaitFunc(ctx)
}
