package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
)

// Approve authorises spender to pull value of token from the signer.
func (c *Client) Approve(ctx context.Context, signer ledger.Signer, token, spender common.Address, value amount.Amount) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, erc20ABI, token, "approve", spender, value.Big())
}

// Donate transfers value from the signer into the fundraiser.
func (c *Client) Donate(ctx context.Context, signer ledger.Signer, fundraiser common.Address, value amount.Amount) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, fundraiserABI, fundraiser, "donate", value.Big())
}

// Withdraw pays out the raised funds, net of fees, to the creator.
func (c *Client) Withdraw(ctx context.Context, signer ledger.Signer, fundraiser common.Address) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, fundraiserABI, fundraiser, "withdraw")
}

// Cancel closes the fundraiser and opens refunds.
func (c *Client) Cancel(ctx context.Context, signer ledger.Signer, fundraiser common.Address) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, fundraiserABI, fundraiser, "cancel")
}

// ClaimRefund returns the signer's donation.
func (c *Client) ClaimRefund(ctx context.Context, signer ledger.Signer, fundraiser common.Address) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, fundraiserABI, fundraiser, "claimRefund")
}

// CreateFundraiser deploys a new fundraiser through the factory.
func (c *Client) CreateFundraiser(ctx context.Context, signer ledger.Signer, factory common.Address, draft campaign.Draft) (ledger.PendingTx, error) {
	return c.submit(ctx, signer, factoryABI, factory, "createFundraiser",
		draft.Name, draft.Description, draft.Goal.Big(), big.NewInt(draft.Deadline))
}

func (c *Client) submit(ctx context.Context, signer ledger.Signer, contract abi.ABI, to common.Address, method string, args ...interface{}) (ledger.PendingTx, error) {
	if signer == nil {
		return nil, ledger.NewError(ledger.KindUserDeclined, "no signing session", nil)
	}
	from, ok := signer.Account()
	if !ok {
		return nil, ledger.NewError(ledger.KindUserDeclined, "no signing session", nil)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.buildTx(ctx, from, to, data, chainID)
	if err != nil {
		return nil, classify(fmt.Errorf("evm: prepare %s: %w", method, err))
	}
	signed, err := signer.SignTx(ctx, tx, chainID)
	if err != nil {
		return nil, classify(fmt.Errorf("evm: sign %s: %w", method, err))
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify(fmt.Errorf("evm: send %s: %w", method, err))
	}
	return &pendingTx{
		client: c,
		hash:   signed.Hash(),
		method: method,
	}, nil
}

// buildTx estimates gas, which also surfaces reverts before anything is
// signed, and prices the transaction as EIP-1559 when the chain supports it.
func (c *Client) buildTx(ctx context.Context, from, to common.Address, data []byte, chainID *big.Int) (*gethtypes.Transaction, error) {
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	gas += gas * c.gasHeadroom / 100
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	if head == nil || head.BaseFee == nil {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}), nil
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}), nil
}
