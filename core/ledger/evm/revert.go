package evm

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"crowdfund/core/ledger"
)

// classify turns a node error into a ledger error. Reverts carrying an
// Error(string) payload keep their reason verbatim; anything that merely
// mentions "execution reverted" is still a rejection with a generic reason.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *ledger.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, ledger.ErrUserDeclined) {
		return ledger.NewError(ledger.KindUserDeclined, "signature request declined", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ledger.Transport(err)
	}
	if reason, ok := revertReason(err); ok {
		return ledger.NewError(ledger.KindLedgerRejected, reason, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		return ledger.NewError(ledger.KindLedgerRejected, err.Error(), err)
	}
	return ledger.Transport(err)
}

func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || raw == "" {
		return "", false
	}
	payload, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(payload)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}
