package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"crowdfund/core/amount"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
	"crowdfund/services/browser"
	"crowdfund/services/orchestrator"
	"crowdfund/storage"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, os.Stdin, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunWithoutCommandPrintsUsage(t *testing.T) {
	code, _, stderr := runCLI(t)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Usage: crowdfund")
	require.Contains(t, stderr, "my-donations")
	require.Contains(t, stderr, "CROWDFUND_RPC_URL")

	code, _, _ = runCLI(t, "help")
	require.Equal(t, 0, code)
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "launch")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: launch")
}

func TestHistoryReadsJournal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "crowdfund.toml")

	code, stdout, stderr := runCLI(t, "--config", cfgPath, "history")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "No attempts recorded.")

	db, err := storage.NewLevelDB(filepath.Join(dir, "crowdfund-journal"))
	require.NoError(t, err)
	journal := orchestrator.NewJournal(db)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, journal.Record(orchestrator.Entry{
		ID:         "a1",
		Action:     campaign.ActionDonate,
		Target:     "0x00000000000000000000000000000000000000f1",
		Actor:      "0x2000000000000000000000000000000000000002",
		Amount:     "12.5",
		Outcome:    orchestrator.OutcomeFailed,
		Kind:       string(ledger.KindLedgerRejected),
		Reason:     "Campaign has ended",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}))
	require.NoError(t, db.Close())

	code, stdout, stderr = runCLI(t, "--config", cfgPath, "history")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "2024-03-01 12:00:00")
	require.Contains(t, stdout, "Campaign has ended")
	require.Contains(t, stdout, "12.5")

	code, stdout, _ = runCLI(t, "--config", cfgPath, "--json", "history")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"reason": "Campaign has ended"`)

	code, stdout, stderr = runCLI(t, "--config", cfgPath, "--json", "history", "--id", "a1")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, `"id": "a1"`)

	code, _, stderr = runCLI(t, "--config", cfgPath, "history", "--id", "zz")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, `unknown attempt "zz"`)
}

func TestHistoryWithBoltJournal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CROWDFUND_JOURNAL_BACKEND", "bolt")
	t.Setenv("CROWDFUND_JOURNAL", filepath.Join(dir, "journal.db"))

	db, err := storage.NewBoltDB(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	started := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, orchestrator.NewJournal(db).Record(orchestrator.Entry{
		ID:         "b7",
		Action:     campaign.ActionRefund,
		Target:     "0x00000000000000000000000000000000000000f1",
		Actor:      "0x2000000000000000000000000000000000000002",
		Outcome:    orchestrator.OutcomeSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}))
	require.NoError(t, db.Close())

	code, stdout, stderr := runCLI(t, "--config", filepath.Join(dir, "crowdfund.toml"), "history", "--id", "b7")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "2024-05-02 09:30:00")
}

func TestAddressWithoutKeystoreIsUsageError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "crowdfund.toml")
	code, _, stderr := runCLI(t, "--config", cfgPath, "address")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "no address given")
}

func TestParseDeadline(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseDeadline("+48h", now)
	require.NoError(t, err)
	require.Equal(t, now.Add(48*time.Hour), got)

	got, err = parseDeadline("2024-02-10", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 10, 23, 59, 59, 0, time.UTC), got)

	got, err = parseDeadline("2024-02-10T08:00:00Z", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC), got)

	for _, bad := range []string{"", "+-1h", "+soon", "next week"} {
		_, err := parseDeadline(bad, now)
		var usageErr usageError
		require.ErrorAs(t, err, &usageErr, bad)
	}
}

func TestDescribeByKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("wrap: %w", orchestrator.ErrAttemptInFlight), "another transaction for this campaign is still pending"},
		{ledger.NewError(ledger.KindUserDeclined, "declined", nil), "signature declined, nothing was submitted"},
		{ledger.Rejected("Goal not met"), "rejected by the ledger: Goal not met"},
		{ledger.NewError(ledger.KindConfigurationMissing, "no contracts deployed on chain 5", nil), "no contracts deployed on chain 5; switch to a supported network"},
		{errors.New("dial tcp: refused"), "network failure: dial tcp: refused (nothing is retried automatically)"},
		{fmt.Errorf("%w: name must be 1-80 characters", campaign.ErrInvalidDraft), "invalid draft: name must be 1-80 characters"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, describe(tc.err))
	}
}

func TestWriteViews(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	view := campaign.Project(campaign.Snapshot{
		Address:     common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
		Name:        "Community garden",
		Goal:        amount.MustParse("1500"),
		TotalRaised: amount.MustParse("1234.567"),
		Deadline:    now.Add(50 * time.Hour).Unix(),
	}, now)

	var buf bytes.Buffer
	writeViews(&buf, []campaign.View{view})
	out := buf.String()
	require.Contains(t, out, "0x1234...5678")
	require.Contains(t, out, "Community garden")
	require.Contains(t, out, "1,234.57")
	require.Contains(t, out, "1,500.00")
	require.Contains(t, out, "82%")
	require.Contains(t, out, "2d 2h left")

	buf.Reset()
	writeViews(&buf, nil)
	require.Equal(t, "No campaigns found.\n", buf.String())
}

func TestWriteDetailShowsActions(t *testing.T) {
	creator := common.HexToAddress("0x1000000000000000000000000000000000000001")
	now := time.Unix(1_700_000_000, 0)
	view := campaign.Project(campaign.Snapshot{
		Name:        "Library",
		Description: "Books for everyone",
		Creator:     creator,
		Goal:        amount.MustParse("100"),
		TotalRaised: amount.MustParse("100"),
		Deadline:    now.Add(time.Hour).Unix(),
		FeeBps:      250,
	}, now)
	preview, err := campaign.PreviewWithdrawal(view)
	require.NoError(t, err)
	detail := browser.Detail{
		View:      view,
		IsCreator: true,
		Actions:   campaign.Permissions(view, &creator, amount.Zero()),
		Preview:   preview,
	}

	var buf bytes.Buffer
	writeDetail(&buf, detail, &creator)
	out := buf.String()
	require.Contains(t, out, "Goal Met")
	require.Contains(t, out, "donate, withdraw, cancel")
	require.Contains(t, out, "2.50 fee, 97.50 to you")
	require.Contains(t, out, "2.5%")
	require.Contains(t, out, "Books for everyone")
}

func TestBpsPercent(t *testing.T) {
	require.Equal(t, "2.5", bpsPercent(250))
	require.Equal(t, "1", bpsPercent(100))
	require.Equal(t, "0", bpsPercent(0))
	require.Equal(t, "100", bpsPercent(10_000))
	require.Equal(t, "0.01", bpsPercent(1))
}

func TestMetricsTextfileWrittenOnExit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "crowdfund.prom")
	t.Setenv("CROWDFUND_METRICS_TEXTFILE", out)

	code, _, stderr := runCLI(t, "--config", filepath.Join(dir, "crowdfund.toml"), "history")
	require.Equal(t, 0, code, stderr)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(raw), "go_goroutines")
}
