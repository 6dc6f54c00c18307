// Package evm implements the ledger ports against an EVM node using the
// fundraiser, factory and ERC-20 contract ABIs.
package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
)

// Backend defines the subset of the Ethereum RPC used by the client.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an EVM RPC client for the provided endpoint. HTTP
// endpoints are instrumented so every JSON-RPC round trip carries a span.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	var opts []rpc.ClientOption
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		opts = append(opts, rpc.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}))
	}
	rpcClient, err := rpc.DialOptions(ctx, trimmed, opts...)
	if err != nil {
		return nil, ledger.Transport(fmt.Errorf("evm: dial: %w", err))
	}
	return ethclient.NewClient(rpcClient), nil
}

// Client implements ledger.Ledger against an EVM node.
type Client struct {
	backend       Backend
	pollInterval  time.Duration
	confirmations uint64
	gasHeadroom   uint64

	mu      sync.Mutex
	chainID *big.Int
}

// Option customises the client.
type Option func(*Client)

// WithPollInterval configures the receipt polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) { c.pollInterval = interval }
}

// WithConfirmations sets how many blocks must include a transaction before it
// counts as confirmed.
func WithConfirmations(n uint64) Option {
	return func(c *Client) { c.confirmations = n }
}

// NewClient constructs a ledger client over backend.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:       backend,
		pollInterval:  2 * time.Second,
		confirmations: 1,
		gasHeadroom:   20,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	return c
}

var _ ledger.Ledger = (*Client)(nil)

// ChainID returns the chain identifier reported by the node, cached after
// the first successful call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, ledger.Transport(fmt.Errorf("evm: chain id: %w", err))
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("evm: call %s on %s: %w", method, to.Hex(), err))
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, ledger.Transport(fmt.Errorf("evm: unpack %s from %s: %w", method, to.Hex(), err))
	}
	if len(values) == 0 {
		return nil, ledger.Transport(fmt.Errorf("evm: %s on %s returned nothing", method, to.Hex()))
	}
	return values, nil
}

func (c *Client) callString(ctx context.Context, contract abi.ABI, to common.Address, method string) (string, error) {
	values, err := c.call(ctx, contract, to, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", ledger.Transport(fmt.Errorf("evm: %s: unexpected %T", method, values[0]))
	}
	return s, nil
}

func (c *Client) callAddress(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (common.Address, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, ledger.Transport(fmt.Errorf("evm: %s: unexpected %T", method, values[0]))
	}
	return addr, nil
}

func (c *Client) callBool(ctx context.Context, contract abi.ABI, to common.Address, method string) (bool, error) {
	values, err := c.call(ctx, contract, to, method)
	if err != nil {
		return false, err
	}
	b, ok := values[0].(bool)
	if !ok {
		return false, ledger.Transport(fmt.Errorf("evm: %s: unexpected %T", method, values[0]))
	}
	return b, nil
}

func (c *Client) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := values[0].(*big.Int)
	if !ok || n == nil {
		return nil, ledger.Transport(fmt.Errorf("evm: %s: unexpected %T", method, values[0]))
	}
	return n, nil
}

func (c *Client) callAmount(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (amount.Amount, error) {
	n, err := c.callUint(ctx, contract, to, method, args...)
	if err != nil {
		return amount.Amount{}, err
	}
	a, err := amount.FromBig(n)
	if err != nil {
		return amount.Amount{}, ledger.Transport(fmt.Errorf("evm: %s: %w", method, err))
	}
	return a, nil
}

// Snapshot reads the fundraiser's state. Calls are issued one after another
// so a snapshot never mixes concurrent in-flight reads.
func (c *Client) Snapshot(ctx context.Context, fundraiser common.Address) (campaign.Snapshot, error) {
	s := campaign.Snapshot{Address: fundraiser}
	var err error
	if s.Name, err = c.callString(ctx, fundraiserABI, fundraiser, "name"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Description, err = c.callString(ctx, fundraiserABI, fundraiser, "description"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Creator, err = c.callAddress(ctx, fundraiserABI, fundraiser, "creator"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Goal, err = c.callAmount(ctx, fundraiserABI, fundraiser, "goalAmount"); err != nil {
		return campaign.Snapshot{}, err
	}
	deadline, err := c.callUint(ctx, fundraiserABI, fundraiser, "deadline")
	if err != nil {
		return campaign.Snapshot{}, err
	}
	if !deadline.IsInt64() {
		s.Deadline = math.MaxInt64
	} else {
		s.Deadline = deadline.Int64()
	}
	if s.TotalRaised, err = c.callAmount(ctx, fundraiserABI, fundraiser, "totalRaised"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Withdrawn, err = c.callBool(ctx, fundraiserABI, fundraiser, "withdrawn"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Cancelled, err = c.callBool(ctx, fundraiserABI, fundraiser, "cancelled"); err != nil {
		return campaign.Snapshot{}, err
	}
	if s.Token, err = c.callAddress(ctx, fundraiserABI, fundraiser, "usdc"); err != nil {
		return campaign.Snapshot{}, err
	}
	fee, err := c.callUint(ctx, fundraiserABI, fundraiser, "feeBps")
	if err != nil {
		return campaign.Snapshot{}, err
	}
	if !fee.IsUint64() || fee.Uint64() > campaign.MaxFeeBps {
		return campaign.Snapshot{}, ledger.Transport(fmt.Errorf("evm: fee %s bps out of range", fee.String()))
	}
	s.FeeBps = uint16(fee.Uint64())
	return s, nil
}

// Donation returns the cumulative amount actor has donated to fundraiser.
func (c *Client) Donation(ctx context.Context, fundraiser, actor common.Address) (amount.Amount, error) {
	return c.callAmount(ctx, fundraiserABI, fundraiser, "donations", actor)
}

// Allowance returns how much owner has authorised spender to pull from token.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (amount.Amount, error) {
	return c.callAmount(ctx, erc20ABI, token, "allowance", owner, spender)
}

// Campaigns lists the fundraisers created by factory, oldest first.
func (c *Client) Campaigns(ctx context.Context, factory common.Address) ([]common.Address, error) {
	values, err := c.call(ctx, factoryABI, factory, "getFundraisers")
	if err != nil {
		return nil, err
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, ledger.Transport(fmt.Errorf("evm: getFundraisers: unexpected %T", values[0]))
	}
	return append([]common.Address(nil), addrs...), nil
}
