// Package browser loads campaign presentations: the full list, an actor's
// donations and created campaigns, and the detail of a single campaign.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
	"crowdfund/core/registry"
	"crowdfund/observability"
)

// ChainSource reports the chain the current session is connected to.
type ChainSource interface {
	ChainID() (uint64, bool)
}

// FixedChain is a ChainSource pinned to a single chain.
type FixedChain uint64

// ChainID implements ChainSource.
func (c FixedChain) ChainID() (uint64, bool) { return uint64(c), c != 0 }

// Donated pairs a campaign with the actor's cumulative donation to it.
type Donated struct {
	View     campaign.View `json:"view"`
	Donation amount.Amount `json:"donation"`
}

// Detail is everything shown on a single campaign page.
type Detail struct {
	View      campaign.View              `json:"view"`
	Donation  amount.Amount              `json:"donation"`
	IsCreator bool                       `json:"is_creator"`
	Actions   campaign.ActionSet         `json:"actions"`
	Preview   campaign.WithdrawalPreview `json:"withdrawal_preview"`
}

// Option customises the browser.
type Option func(*Browser)

// WithRegistry overrides the built-in deployment registry.
func WithRegistry(r registry.Registry) Option {
	return func(b *Browser) { b.registry = r }
}

// WithRateLimit throttles ledger reads to limit per second with the given burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(b *Browser) {
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithClock sets the time campaigns are projected at.
func WithClock(clock func() time.Time) Option {
	return func(b *Browser) { b.now = clock }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Browser) { b.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.BrowserMetrics) Option {
	return func(b *Browser) { b.metrics = m }
}

// Browser issues read-only ledger calls. Reads are sequential; the limiter
// only spaces them out for rate limited RPC endpoints.
type Browser struct {
	reader   ledger.Reader
	chain    ChainSource
	registry registry.Registry
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *slog.Logger
	metrics  *observability.BrowserMetrics
}

// New constructs a browser reading through reader for the chain reported by chain.
func New(reader ledger.Reader, chain ChainSource, opts ...Option) *Browser {
	b := &Browser{
		reader:   reader,
		chain:    chain,
		registry: registry.Defaults(),
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.metrics == nil {
		b.metrics = observability.Browser()
	}
	return b
}

// List returns every campaign created by the chain's factory, newest first.
func (b *Browser) List(ctx context.Context) (views []campaign.View, err error) {
	defer func() { b.metrics.RecordLoad("list", len(views), err) }()
	return b.collect(ctx, func(campaign.View) (bool, error) { return true, nil })
}

// MyCampaigns returns the campaigns actor created, newest first.
func (b *Browser) MyCampaigns(ctx context.Context, actor common.Address) (views []campaign.View, err error) {
	defer func() { b.metrics.RecordLoad("my_campaigns", len(views), err) }()
	return b.collect(ctx, func(v campaign.View) (bool, error) {
		return campaign.IsCreator(v, &actor), nil
	})
}

// MyDonations returns the campaigns actor has a positive donation in, newest first.
func (b *Browser) MyDonations(ctx context.Context, actor common.Address) (out []Donated, err error) {
	defer func() { b.metrics.RecordLoad("my_donations", len(out), err) }()
	donations := make(map[common.Address]amount.Amount)
	views, err := b.collect(ctx, func(v campaign.View) (bool, error) {
		if err := b.wait(ctx); err != nil {
			return false, err
		}
		donation, err := b.reader.Donation(ctx, v.Address, actor)
		if err != nil {
			return false, fmt.Errorf("browser: donation to %s: %w", v.Address.Hex(), err)
		}
		if donation.IsZero() {
			return false, nil
		}
		donations[v.Address] = donation
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	out = make([]Donated, 0, len(views))
	for _, v := range views {
		out = append(out, Donated{View: v, Donation: donations[v.Address]})
	}
	return out, nil
}

// Detail loads one campaign with the permissions of actor, who may be nil for
// a read-only session.
func (b *Browser) Detail(ctx context.Context, target common.Address, actor *common.Address) (detail Detail, err error) {
	defer func() { b.metrics.RecordLoad("detail", 1, err) }()
	view, err := b.load(ctx, target)
	if err != nil {
		return Detail{}, err
	}
	donation := amount.Zero()
	if actor != nil {
		if err := b.wait(ctx); err != nil {
			return Detail{}, err
		}
		if donation, err = b.reader.Donation(ctx, target, *actor); err != nil {
			return Detail{}, fmt.Errorf("browser: donation to %s: %w", target.Hex(), err)
		}
	}
	preview, err := campaign.PreviewWithdrawal(view)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		View:      view,
		Donation:  donation,
		IsCreator: campaign.IsCreator(view, actor),
		Actions:   campaign.Permissions(view, actor, donation),
		Preview:   preview,
	}, nil
}

func (b *Browser) collect(ctx context.Context, keep func(campaign.View) (bool, error)) ([]campaign.View, error) {
	addrs, err := b.campaigns(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]campaign.View, 0, len(addrs))
	for i := len(addrs) - 1; i >= 0; i-- {
		view, err := b.load(ctx, addrs[i])
		if err != nil {
			return nil, err
		}
		ok, err := keep(view)
		if err != nil {
			return nil, err
		}
		if ok {
			views = append(views, view)
		}
	}
	return views, nil
}

func (b *Browser) campaigns(ctx context.Context) ([]common.Address, error) {
	chainID, ok := b.chain.ChainID()
	if !ok {
		return nil, ledger.NewError(ledger.KindConfigurationMissing, "not connected to any chain", nil)
	}
	deployment, err := registry.Require(b.registry, chainID)
	if err != nil {
		return nil, err
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	addrs, err := b.reader.Campaigns(ctx, deployment.Factory)
	if err != nil {
		return nil, fmt.Errorf("browser: list %s campaigns: %w", deployment.Name, err)
	}
	b.logger.Debug("campaigns listed", slog.Uint64("chain_id", chainID), slog.Int("count", len(addrs)))
	return addrs, nil
}

func (b *Browser) load(ctx context.Context, addr common.Address) (campaign.View, error) {
	if err := b.wait(ctx); err != nil {
		return campaign.View{}, err
	}
	snapshot, err := b.reader.Snapshot(ctx, addr)
	if err != nil {
		return campaign.View{}, fmt.Errorf("browser: load %s: %w", addr.Hex(), err)
	}
	return campaign.Project(snapshot, b.now()), nil
}

func (b *Browser) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return ledger.Transport(err)
	}
	return nil
}
