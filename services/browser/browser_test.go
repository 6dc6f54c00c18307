package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
	"crowdfund/core/registry"
)

var (
	factory = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	first   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	second  = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	third   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	baseNow = time.Unix(1_700_000_000, 0)
)

type fakeReader struct {
	order     []common.Address
	snapshots map[common.Address]campaign.Snapshot
	donations map[common.Address]map[common.Address]amount.Amount
	listErr   error
	reads     int
}

func (f *fakeReader) Snapshot(_ context.Context, addr common.Address) (campaign.Snapshot, error) {
	f.reads++
	s, ok := f.snapshots[addr]
	if !ok {
		return campaign.Snapshot{}, ledger.Rejected("unknown fundraiser")
	}
	return s, nil
}

func (f *fakeReader) Donation(_ context.Context, fundraiser, actor common.Address) (amount.Amount, error) {
	f.reads++
	return f.donations[fundraiser][actor], nil
}

func (f *fakeReader) Allowance(context.Context, common.Address, common.Address, common.Address) (amount.Amount, error) {
	return amount.Zero(), errors.New("unused")
}

func (f *fakeReader) Campaigns(_ context.Context, addr common.Address) ([]common.Address, error) {
	f.reads++
	if addr != factory {
		return nil, errors.New("unexpected factory")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.order, nil
}

func fixture() *fakeReader {
	mk := func(addr, creatorAddr common.Address, name string, goal, raised uint64, cancelled bool) campaign.Snapshot {
		return campaign.Snapshot{
			Address:     addr,
			Name:        name,
			Description: name + " description",
			Creator:     creatorAddr,
			Goal:        amount.FromUnits(goal),
			Deadline:    baseNow.Add(48 * time.Hour).Unix(),
			TotalRaised: amount.FromUnits(raised),
			Cancelled:   cancelled,
			FeeBps:      250,
			Token:       token,
		}
	}
	return &fakeReader{
		order: []common.Address{first, second, third},
		snapshots: map[common.Address]campaign.Snapshot{
			first:  mk(first, alice, "first", 100_000000, 100_000000, false),
			second: mk(second, bob, "second", 100_000000, 10_000000, false),
			third:  mk(third, alice, "third", 100_000000, 0, true),
		},
		donations: map[common.Address]map[common.Address]amount.Amount{
			first:  {bob: amount.FromUnits(100_000000)},
			third:  {bob: amount.FromUnits(5_000000)},
			second: {alice: amount.Zero()},
		},
	}
}

func newTestBrowser(r ledger.Reader, opts ...Option) *Browser {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return baseNow }),
		WithRegistry(registry.NewStatic(registry.Deployment{ChainID: registry.ChainAnvil, Name: "anvil", Factory: factory, Token: token})),
	}
	return New(r, FixedChain(registry.ChainAnvil), append(base, opts...)...)
}

func names(views []campaign.View) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Name)
	}
	return out
}

func TestListNewestFirst(t *testing.T) {
	b := newTestBrowser(fixture())
	views, err := b.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"third", "second", "first"}, names(views))
	require.Equal(t, campaign.StatusCancelled, views[0].Status)
	require.Equal(t, campaign.StatusActive, views[1].Status)
	require.Equal(t, uint8(10), views[1].ProgressPercent)
	require.Equal(t, campaign.StatusGoalMet, views[2].Status)
}

func TestMyCampaignsFiltersByCreator(t *testing.T) {
	b := newTestBrowser(fixture())
	views, err := b.MyCampaigns(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, []string{"third", "first"}, names(views))
}

func TestMyDonationsKeepsPositiveDonations(t *testing.T) {
	b := newTestBrowser(fixture())
	donated, err := b.MyDonations(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, donated, 2)
	require.Equal(t, "third", donated[0].View.Name)
	require.Equal(t, amount.FromUnits(5_000000), donated[0].Donation)
	require.Equal(t, "first", donated[1].View.Name)

	none, err := b.MyDonations(context.Background(), alice)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestDetailCombinesPermissionsAndPreview(t *testing.T) {
	b := newTestBrowser(fixture())

	detail, err := b.Detail(context.Background(), first, &alice)
	require.NoError(t, err)
	require.True(t, detail.IsCreator)
	require.Equal(t, campaign.ActionSet{CanDonate: true, CanWithdraw: true, CanCancel: true}, detail.Actions)
	require.Equal(t, amount.FromUnits(2_500000), detail.Preview.Fee)
	require.Equal(t, amount.FromUnits(97_500000), detail.Preview.Net)

	detail, err = b.Detail(context.Background(), third, &bob)
	require.NoError(t, err)
	require.False(t, detail.IsCreator)
	require.Equal(t, campaign.ActionSet{CanRefund: true}, detail.Actions)
	require.Equal(t, amount.FromUnits(5_000000), detail.Donation)

	detail, err = b.Detail(context.Background(), second, nil)
	require.NoError(t, err)
	require.True(t, detail.Donation.IsZero())
	require.Equal(t, campaign.ActionSet{CanDonate: true}, detail.Actions)
}

func TestMissingDeploymentIsConfigurationError(t *testing.T) {
	r := fixture()
	b := New(r, FixedChain(1), WithRegistry(registry.NewStatic()))
	_, err := b.List(context.Background())
	require.ErrorIs(t, err, ledger.ErrConfigurationMissing)
	require.Zero(t, r.reads)

	_, err = New(r, FixedChain(0)).List(context.Background())
	require.ErrorIs(t, err, ledger.ErrConfigurationMissing)
}

func TestReadErrorsPropagate(t *testing.T) {
	r := fixture()
	r.listErr = ledger.Transport(errors.New("connection reset"))
	_, err := newTestBrowser(r).List(context.Background())
	require.ErrorIs(t, err, ledger.ErrTransportFailure)

	r = fixture()
	r.order = append(r.order, common.HexToAddress("0x00000000000000000000000000000000000000ff"))
	_, err = newTestBrowser(r).List(context.Background())
	require.ErrorIs(t, err, ledger.ErrLedgerRejected)
}

func TestRateLimitHonoursContext(t *testing.T) {
	b := newTestBrowser(fixture(), WithRateLimit(rate.Every(time.Hour), 1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.List(ctx)
	require.ErrorIs(t, err, ledger.ErrTransportFailure)
}
