package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crowdfund/cmd/internal/passphrase"
	"crowdfund/crypto"
	"crowdfund/services/orchestrator"
)

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runList(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return usageError{msg: "list takes no arguments"}
	}
	views, err := a.browser().List(ctx)
	if err != nil {
		return err
	}
	return a.render(views, func(w io.Writer) { writeViews(w, views) })
}

func runShow(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageError{msg: "campaign address required"}
	}
	target, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	fs := newFlagSet("show", a.stderr)
	as := fs.String("as", "", "address whose donation and permissions are shown (defaults to the keystore account)")
	if err := fs.Parse(args[1:]); err != nil {
		return usageError{msg: err.Error()}
	}
	var actor *common.Address
	if addr, err := a.actor(*as); err == nil {
		actor = &addr
	} else if *as != "" {
		return err
	}
	detail, err := a.browser().Detail(ctx, target, actor)
	if err != nil {
		return err
	}
	return a.render(detail, func(w io.Writer) { writeDetail(w, detail, actor) })
}

func runMyDonations(ctx context.Context, a *app, args []string) error {
	actor, err := a.actor(optionalArg(args))
	if err != nil {
		return err
	}
	donated, err := a.browser().MyDonations(ctx, actor)
	if err != nil {
		return err
	}
	return a.render(donated, func(w io.Writer) { writeDonations(w, donated) })
}

func runMyCampaigns(ctx context.Context, a *app, args []string) error {
	actor, err := a.actor(optionalArg(args))
	if err != nil {
		return err
	}
	views, err := a.browser().MyCampaigns(ctx, actor)
	if err != nil {
		return err
	}
	return a.render(views, func(w io.Writer) { writeViews(w, views) })
}

func runDonate(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return usageError{msg: "campaign address and amount required"}
	}
	target, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	result, err := orch.Donate(ctx, target, strings.TrimSpace(args[1]))
	if err != nil {
		return err
	}
	return a.renderResult(result)
}

func runWithdraw(ctx context.Context, a *app, args []string) error {
	return a.single(ctx, args, (*orchestrator.Orchestrator).Withdraw)
}

func runCancel(ctx context.Context, a *app, args []string) error {
	return a.single(ctx, args, (*orchestrator.Orchestrator).Cancel)
}

func runRefund(ctx context.Context, a *app, args []string) error {
	return a.single(ctx, args, (*orchestrator.Orchestrator).ClaimRefund)
}

func (a *app) single(ctx context.Context, args []string, action func(*orchestrator.Orchestrator, context.Context, common.Address) (orchestrator.Result, error)) error {
	if len(args) != 1 {
		return usageError{msg: "campaign address required"}
	}
	target, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	result, err := action(orch, ctx, target)
	if err != nil {
		return err
	}
	return a.renderResult(result)
}

func runCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("create", a.stderr)
	var req orchestrator.CreateRequest
	var deadline string
	fs.StringVar(&req.Name, "name", "", "campaign name (1-80 characters)")
	fs.StringVar(&req.Description, "description", "", "campaign description (1-500 characters)")
	fs.StringVar(&req.Goal, "goal", "", "funding goal in tokens, up to 6 decimals")
	fs.StringVar(&deadline, "deadline", "", "deadline as YYYY-MM-DD, RFC3339 timestamp or +duration (e.g. +720h)")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return usageError{msg: "unexpected positional arguments"}
	}
	at, err := parseDeadline(deadline, time.Now())
	if err != nil {
		return err
	}
	req.Goal = strings.TrimSpace(req.Goal)
	req.Deadline = at
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	result, err := orch.Create(ctx, req)
	if err != nil {
		return err
	}
	return a.renderResult(result)
}

func runHistory(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("history", a.stderr)
	limit := fs.Int("limit", 20, "number of attempts to show, 0 for all")
	id := fs.String("id", "", "show only the attempt with this id")
	if err := fs.Parse(args); err != nil {
		return usageError{msg: err.Error()}
	}
	journal, err := a.openJournal()
	if err != nil {
		return err
	}
	if *id != "" {
		entry, err := journal.Lookup(*id)
		if err != nil {
			return err
		}
		entries := []orchestrator.Entry{entry}
		return a.render(entry, func(w io.Writer) { writeHistory(w, entries) })
	}
	entries, err := journal.History(*limit)
	if err != nil {
		return err
	}
	return a.render(entries, func(w io.Writer) { writeHistory(w, entries) })
}

func runNewAccount(_ context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return usageError{msg: "new-account takes no arguments"}
	}
	source := passphrase.NewSource(a.cfg.PassphraseEnv,
		passphrase.WithConfirmation(),
		passphrase.WithTerminal(a.stdin, a.stderr),
	)
	pass, err := source.Get()
	if err != nil {
		return err
	}
	addr, err := crypto.CreateKeystore(a.cfg.KeystorePath, pass)
	if err != nil {
		return err
	}
	a.logger.Info("keystore created", "address", addr.Hex())
	fmt.Fprintln(a.stdout, addr.Hex())
	return nil
}

func runAddress(_ context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return usageError{msg: "address takes no arguments"}
	}
	addr, err := a.actor("")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, addr.Hex())
	return nil
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// parseDeadline accepts a calendar date (end of that day, UTC), an RFC3339
// timestamp, or a duration relative to now prefixed with "+".
func parseDeadline(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return time.Time{}, usageError{msg: "--deadline is required"}
	case strings.HasPrefix(raw, "+"):
		d, err := time.ParseDuration(raw[1:])
		if err != nil || d <= 0 {
			return time.Time{}, usageError{msg: fmt.Sprintf("invalid deadline duration %q", raw)}
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Time{}, usageError{msg: fmt.Sprintf("invalid deadline %q", raw)}
}
