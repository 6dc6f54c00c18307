package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
)

var (
	fundraiserAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	factoryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	tokenAddr      = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	creatorAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type revertError struct {
	data string
}

func (e revertError) Error() string          { return "execution reverted" }
func (e revertError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	mu        sync.Mutex
	responses map[string][]interface{}
	estimate  error
	sent      []*gethtypes.Transaction
	receipts  map[common.Hash]*gethtypes.Receipt
	misses    int
	baseFee   *big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		responses: map[string][]interface{}{
			"name":        {"Fund the thing"},
			"description": {"A worthy cause"},
			"creator":     {creatorAddr},
			"goalAmount":  {big.NewInt(1_000_000000)},
			"deadline":    {big.NewInt(1_700_086_400)},
			"totalRaised": {big.NewInt(400_000000)},
			"withdrawn":   {false},
			"cancelled":   {true},
			"usdc":        {tokenAddr},
			"feeBps":      {big.NewInt(250)},
			"donations":   {big.NewInt(10_000000)},
			"allowance":   {big.NewInt(7)},
			"getFundraisers": {[]common.Address{
				common.HexToAddress("0x0000000000000000000000000000000000000001"),
				common.HexToAddress("0x0000000000000000000000000000000000000002"),
			}},
		},
		receipts: make(map[common.Hash]*gethtypes.Receipt),
		baseFee:  big.NewInt(1_000_000_000),
	}
}

func methodFor(data []byte) (*abi.Method, error) {
	for _, contract := range []abi.ABI{fundraiserABI, factoryABI, erc20ABI} {
		if m, err := contract.MethodById(data[:4]); err == nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := methodFor(call.Data)
	if err != nil {
		return nil, err
	}
	values, ok := b.responses[m.Name]
	if !ok {
		return nil, fmt.Errorf("no response for %s", m.Name)
	}
	return m.Outputs.Pack(values...)
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(100), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 4, nil }

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(3), nil }

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(2), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if b.estimate != nil {
		return 0, b.estimate
	}
	return 50_000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.misses > 0 {
		b.misses--
		return nil, ethereum.NotFound
	}
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)}, nil
}

type keySigner struct {
	key      *ecdsa.PrivateKey
	declined bool
}

func (s keySigner) Account() (common.Address, bool) {
	return gethcrypto.PubkeyToAddress(s.key.PublicKey), true
}

func (s keySigner) SignTx(_ context.Context, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	if s.declined {
		return nil, ledger.ErrUserDeclined
	}
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), s.key)
}

func newSigner(t *testing.T) keySigner {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return keySigner{key: key}
}

func TestSnapshotDecodesFundraiserState(t *testing.T) {
	client := NewClient(newFakeBackend())
	s, err := client.Snapshot(context.Background(), fundraiserAddr)
	require.NoError(t, err)

	require.Equal(t, fundraiserAddr, s.Address)
	require.Equal(t, "Fund the thing", s.Name)
	require.Equal(t, creatorAddr, s.Creator)
	require.Equal(t, "1000000000", s.Goal.Units())
	require.Equal(t, int64(1_700_086_400), s.Deadline)
	require.Equal(t, "400000000", s.TotalRaised.Units())
	require.True(t, s.Cancelled)
	require.False(t, s.Withdrawn)
	require.Equal(t, tokenAddr, s.Token)
	require.EqualValues(t, 250, s.FeeBps)
	require.NoError(t, s.Validate())
}

func TestSnapshotRejectsOutOfRangeFee(t *testing.T) {
	backend := newFakeBackend()
	backend.responses["feeBps"] = []interface{}{big.NewInt(10_001)}
	_, err := NewClient(backend).Snapshot(context.Background(), fundraiserAddr)
	require.ErrorIs(t, err, ledger.ErrTransportFailure)
}

func TestReaderCalls(t *testing.T) {
	client := NewClient(newFakeBackend())
	ctx := context.Background()

	donation, err := client.Donation(ctx, fundraiserAddr, creatorAddr)
	require.NoError(t, err)
	require.Equal(t, "10000000", donation.Units())

	allowance, err := client.Allowance(ctx, tokenAddr, creatorAddr, fundraiserAddr)
	require.NoError(t, err)
	require.Equal(t, "7", allowance.Units())

	list, err := client.Campaigns(ctx, factoryAddr)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000001"), list[0])
}

func TestSubmitSignsAndWaits(t *testing.T) {
	backend := newFakeBackend()
	backend.misses = 2
	client := NewClient(backend, WithPollInterval(time.Millisecond))
	signer := newSigner(t)

	pending, err := client.Donate(context.Background(), signer, fundraiserAddr, amount.FromUnits(50_000000))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	require.Equal(t, pending.Hash(), tx.Hash())
	require.Equal(t, fundraiserAddr, *tx.To())
	require.EqualValues(t, 4, tx.Nonce())
	require.EqualValues(t, 60_000, tx.Gas())
	require.Equal(t, uint8(gethtypes.DynamicFeeTxType), tx.Type())

	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(31337)), tx)
	require.NoError(t, err)
	from, _ := signer.Account()
	require.Equal(t, from, sender)

	m, err := fundraiserABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "donate", m.Name)
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, 0, args[0].(*big.Int).Cmp(big.NewInt(50_000000)))

	require.NoError(t, pending.Wait(context.Background()))
}

func TestSubmitFallsBackToLegacyPricing(t *testing.T) {
	backend := newFakeBackend()
	backend.baseFee = nil
	client := NewClient(backend)

	_, err := client.Withdraw(context.Background(), newSigner(t), fundraiserAddr)
	require.NoError(t, err)
	require.Equal(t, uint8(gethtypes.LegacyTxType), backend.sent[0].Type())
	require.Equal(t, 0, backend.sent[0].GasPrice().Cmp(big.NewInt(3)))
}

func TestCreateFundraiserPacksDraft(t *testing.T) {
	backend := newFakeBackend()
	client := NewClient(backend)
	draft := campaign.Draft{Name: "n", Description: "d", Goal: amount.FromUnits(5), Deadline: 1_800_000_000}

	_, err := client.CreateFundraiser(context.Background(), newSigner(t), factoryAddr, draft)
	require.NoError(t, err)
	tx := backend.sent[0]
	m, err := factoryABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "createFundraiser", m.Name)
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, "n", args[0])
	require.Equal(t, "d", args[1])
	require.Equal(t, int64(1_800_000_000), args[3].(*big.Int).Int64())
}

func TestRevertReasonSurfacesVerbatim(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	encoded, err := abi.Arguments{{Type: stringType}}.Pack("Fundraiser: goal not met")
	require.NoError(t, err)
	payload := append(gethcrypto.Keccak256([]byte("Error(string)"))[:4], encoded...)

	backend := newFakeBackend()
	backend.estimate = revertError{data: hexutil.Encode(payload)}
	client := NewClient(backend)

	_, err = client.Withdraw(context.Background(), newSigner(t), fundraiserAddr)
	require.ErrorIs(t, err, ledger.ErrLedgerRejected)
	require.Equal(t, "Fundraiser: goal not met", ledger.Reason(err))
	require.Empty(t, backend.sent)
}

func TestDeclinedSignatureSendsNothing(t *testing.T) {
	backend := newFakeBackend()
	signer := newSigner(t)
	signer.declined = true

	_, err := NewClient(backend).Cancel(context.Background(), signer, fundraiserAddr)
	require.ErrorIs(t, err, ledger.ErrUserDeclined)
	require.Equal(t, ledger.KindUserDeclined, ledger.Classify(err))
	require.Empty(t, backend.sent)
}

func TestRevertedReceiptIsRejected(t *testing.T) {
	backend := newFakeBackend()
	client := NewClient(backend)
	pending, err := client.ClaimRefund(context.Background(), newSigner(t), fundraiserAddr)
	require.NoError(t, err)
	backend.receipts[pending.Hash()] = &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed}

	err = pending.Wait(context.Background())
	require.ErrorIs(t, err, ledger.ErrLedgerRejected)
}

func TestWaitHonoursCancellation(t *testing.T) {
	backend := newFakeBackend()
	backend.misses = 1 << 30
	client := NewClient(backend, WithPollInterval(time.Millisecond))
	pending, err := client.Approve(context.Background(), newSigner(t), tokenAddr, fundraiserAddr, amount.FromUnits(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pending.Wait(ctx)
	require.ErrorIs(t, err, ledger.ErrTransportFailure)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConfirmationDepth(t *testing.T) {
	backend := newFakeBackend()
	client := NewClient(backend, WithConfirmations(3))
	hash := common.HexToHash("0x01")
	backend.receipts[hash] = &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)}
	done, err := client.confirm(context.Background(), hash)
	require.NoError(t, err)
	require.False(t, done)

	backend.receipts[hash].BlockNumber = big.NewInt(98)
	done, err = client.confirm(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, done)
}
