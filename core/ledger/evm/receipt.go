package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"crowdfund/core/ledger"
)

type pendingTx struct {
	client *Client
	hash   common.Hash
	method string
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

// Wait polls for the receipt until the transaction is mined with the required
// number of confirmations, reverts, or ctx is done. There is no built-in
// timeout; callers bound the wait through ctx.
func (p *pendingTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(p.client.pollInterval)
	defer ticker.Stop()
	for {
		done, err := p.client.confirm(ctx, p.hash)
		if err != nil {
			return fmt.Errorf("evm: %s %s: %w", p.method, p.hash.Hex(), err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ledger.Transport(fmt.Errorf("evm: %s %s: %w", p.method, p.hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

// confirm reports whether txHash is final. A missing receipt or insufficient
// depth is not an error; the caller keeps polling.
func (c *Client) confirm(ctx context.Context, txHash common.Hash) (bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, ledger.Transport(fmt.Errorf("fetch receipt: %w", err))
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return false, ledger.Rejected(fmt.Sprintf("transaction %s reverted", txHash.Hex()))
	}
	if c.confirmations <= 1 {
		return true, nil
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, ledger.Transport(fmt.Errorf("fetch head: %w", err))
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, ledger.Transport(fmt.Errorf("block metadata unavailable"))
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return false, nil
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(new(big.Int).SetUint64(c.confirmations)) >= 0, nil
}
