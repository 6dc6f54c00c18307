package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"crowdfund/config"
	"crowdfund/core/campaign"
	"crowdfund/core/ledger"
	"crowdfund/services/orchestrator"
)

const defaultConfigPath = "./crowdfund.toml"

type globals struct {
	configPath string
	jsonOut    bool
	yes        bool
}

type command struct {
	usage   string
	summary string
	// node commands dial the configured RPC endpoint first.
	node bool
	run  func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"list":         {usage: "list", summary: "List all campaigns, newest first", node: true, run: runList},
	"show":         {usage: "show <campaign> [--as <address>]", summary: "Show a campaign with the actions available to an address", node: true, run: runShow},
	"my-donations": {usage: "my-donations [address]", summary: "List campaigns the account has donated to", node: true, run: runMyDonations},
	"my-campaigns": {usage: "my-campaigns [address]", summary: "List campaigns the account created", node: true, run: runMyCampaigns},
	"donate":       {usage: "donate <campaign> <amount>", summary: "Donate tokens, approving the campaign first when needed", node: true, run: runDonate},
	"withdraw":     {usage: "withdraw <campaign>", summary: "Withdraw the raised funds of a funded campaign", node: true, run: runWithdraw},
	"cancel":       {usage: "cancel <campaign>", summary: "Cancel a campaign you created", node: true, run: runCancel},
	"refund":       {usage: "refund <campaign>", summary: "Claim back your donation from a cancelled or failed campaign", node: true, run: runRefund},
	"create":       {usage: "create --name <n> --description <d> --goal <amount> --deadline <date|+duration>", summary: "Create a new campaign", node: true, run: runCreate},
	"history":      {usage: "history [--limit n] [--id attempt]", summary: "Show recorded transaction attempts", run: runHistory},
	"new-account":  {usage: "new-account", summary: "Create an encrypted keystore at the configured path", run: runNewAccount},
	"address":      {usage: "address", summary: "Print the keystore account address", run: runAddress},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) int {
	var g globals
	fs := flag.NewFlagSet("crowdfund", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&g.configPath, "config", defaultConfigPath, "path to the configuration file")
	fs.BoolVar(&g.jsonOut, "json", false, "print results as JSON")
	fs.BoolVar(&g.yes, "yes", false, "sign transactions without asking for confirmation")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 || rest[0] == "help" {
		fmt.Fprintln(stderr, usage())
		if len(rest) == 0 {
			return 1
		}
		return 0
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	a, err := newApp(ctx, cfg, g, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if cmd.node {
		if err := a.connectNode(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: %s\n", describe(err))
			return 1
		}
	}
	if err := cmd.run(ctx, a, rest[1:]); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "Error: %s\nUsage: crowdfund %s\n", usageErr.msg, cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "Error: %s\n", describe(err))
		return 1
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: crowdfund [--config path] [--json] [--yes] <command> [args]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-60s %s\n", commands[name].usage, commands[name].summary)
	}
	fmt.Fprintf(&b, "\nEvery config key can be overridden with %s<KEY>, e.g. %sRPC_URL.", config.EnvPrefix, config.EnvPrefix)
	return b.String()
}

// describe renders err for the terminal according to its kind.
func describe(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrAttemptInFlight):
		return "another transaction for this campaign is still pending"
	case errors.Is(err, orchestrator.ErrActionNotPermitted):
		return strings.TrimPrefix(err.Error(), "orchestrator: ")
	case errors.Is(err, campaign.ErrInvalidDraft):
		return strings.TrimPrefix(err.Error(), "campaign: ")
	case errors.Is(err, orchestrator.ErrUnknownAttempt):
		return strings.TrimPrefix(err.Error(), "journal: ")
	case errors.Is(err, orchestrator.ErrNoSession):
		return "no account unlocked; run `crowdfund new-account` or check KeystorePath"
	}
	reason := ledger.Reason(err)
	switch ledger.Classify(err) {
	case ledger.KindInvalidAmount:
		return "invalid amount: " + reason
	case ledger.KindUserDeclined:
		return "signature declined, nothing was submitted"
	case ledger.KindLedgerRejected:
		return "rejected by the ledger: " + reason
	case ledger.KindConfigurationMissing:
		return reason + "; switch to a supported network"
	default:
		return "network failure: " + reason + " (nothing is retried automatically)"
	}
}
