package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"crowdfund/cmd/internal/passphrase"
	"crowdfund/config"
	"crowdfund/core/ledger/evm"
	"crowdfund/core/registry"
	"crowdfund/crypto"
	"crowdfund/observability/logging"
	telemetry "crowdfund/observability/otel"
	"crowdfund/services/browser"
	"crowdfund/services/orchestrator"
	"crowdfund/storage"
)

const serviceName = "crowdfund"

// app holds the components a command needs. Node and session resources are
// only opened by commands that use them.
type app struct {
	cfg    *config.Config
	g      globals
	logger *slog.Logger
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
	answer *bufio.Reader

	registry *registry.Static
	shutdown func(context.Context) error

	eth     *ethclient.Client
	client  *evm.Client
	chainID uint64

	session *crypto.KeystoreSession
	db      storage.Database
	journal *orchestrator.Journal
}

func newApp(ctx context.Context, cfg *config.Config, g globals, stdin *os.File, stdout, stderr io.Writer) (*app, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(serviceName, cfg.Environment,
		logging.WithOutput(stderr),
		logging.WithFile(cfg.LogFile),
		logging.WithLevel(level),
	)

	reg := registry.Defaults()
	if cfg.DeploymentsFile != "" {
		if reg, err = registry.Load(cfg.DeploymentsFile); err != nil {
			return nil, err
		}
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(cfg.OTLPHeaders),
		Traces:      true,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		g:        g,
		logger:   logger,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		registry: reg,
		shutdown: shutdown,
	}, nil
}

func (a *app) connectNode(ctx context.Context) error {
	eth, err := evm.Dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return err
	}
	client := evm.NewClient(eth,
		evm.WithPollInterval(a.cfg.PollInterval),
		evm.WithConfirmations(a.cfg.Confirmations),
	)
	id, err := client.ChainID(ctx)
	if err != nil {
		eth.Close()
		return err
	}
	if !id.IsUint64() {
		eth.Close()
		return fmt.Errorf("node reports chain id %s out of range", id)
	}
	if a.cfg.ChainID != 0 && id.Uint64() != a.cfg.ChainID {
		eth.Close()
		return fmt.Errorf("node serves chain %d but ChainID is set to %d", id.Uint64(), a.cfg.ChainID)
	}
	a.eth, a.client, a.chainID = eth, client, id.Uint64()
	a.logger.Debug("connected to node",
		logging.Endpoint("rpc", a.cfg.RPCURL),
		slog.Uint64("chain_id", a.chainID),
	)
	return nil
}

func (a *app) browser() *browser.Browser {
	limit := rate.Inf
	if a.cfg.ReadRate > 0 {
		limit = rate.Limit(a.cfg.ReadRate)
	}
	return browser.New(a.client, browser.FixedChain(a.chainID),
		browser.WithRegistry(a.registry),
		browser.WithRateLimit(limit, a.cfg.ReadBurst),
		browser.WithLogger(a.logger),
	)
}

// unlock decrypts the keystore and binds it to the connected chain.
func (a *app) unlock(ctx context.Context) error {
	if a.session != nil {
		return nil
	}
	source := passphrase.NewSource(a.cfg.PassphraseEnv, passphrase.WithTerminal(a.stdin, a.stderr))
	session := crypto.NewKeystoreSession(a.cfg.KeystorePath, source.Get, a.client.ChainID,
		crypto.WithApproval(a.approve))
	if err := session.Connect(ctx); err != nil {
		return err
	}
	a.session = session
	return nil
}

// approve asks on the terminal before each signature unless --yes was given.
func (a *app) approve(_ context.Context, tx *gethtypes.Transaction) bool {
	if a.g.yes {
		return true
	}
	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	fmt.Fprintf(a.stderr, "Sign transaction to %s (gas limit %d, nonce %d)? [y/N] ", to, tx.Gas(), tx.Nonce())
	if a.answer == nil {
		a.answer = bufio.NewReader(a.stdin)
	}
	line, err := a.answer.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (a *app) openJournal() (*orchestrator.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	db, err := storage.Open(a.cfg.JournalBackend, a.cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", a.cfg.JournalPath, err)
	}
	a.db = db
	a.journal = orchestrator.NewJournal(db)
	return a.journal, nil
}

func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if err := a.unlock(ctx); err != nil {
		return nil, err
	}
	journal, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(a.client, a.session,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithJournal(journal),
		orchestrator.WithRegistry(a.registry),
		orchestrator.WithObserver(a.progress),
	), nil
}

// progress reports phase changes on stderr while an attempt runs.
func (a *app) progress(_ orchestrator.Key, st orchestrator.Status) {
	switch {
	case st.Phase == orchestrator.PhaseChecking:
		fmt.Fprintln(a.stderr, "checking token allowance...")
	case st.Stage == orchestrator.StageSubmitting:
		fmt.Fprintf(a.stderr, "%s: submitting...\n", st.Phase)
	case st.Stage == orchestrator.StageAwaitingConfirmation:
		hash := st.TxHashes[len(st.TxHashes)-1]
		fmt.Fprintf(a.stderr, "%s: waiting for %s to confirm...\n", st.Phase, hash.Hex())
	}
}

// actor resolves the address to act as: the explicit argument, else the
// keystore's recorded address.
func (a *app) actor(arg string) (common.Address, error) {
	if arg != "" {
		return parseAddress(arg)
	}
	addr, err := crypto.KeystoreAddress(a.cfg.KeystorePath)
	if err != nil {
		return common.Address{}, usageError{msg: "no address given and " + err.Error()}
	}
	return addr, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close journal", slog.Any("error", err))
		}
	}
	if a.eth != nil {
		a.eth.Close()
	}
	if path := a.cfg.MetricsTextfile; path != "" {
		if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
			a.logger.Warn("write metrics textfile", slog.String("path", path), slog.Any("error", err))
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, usageError{msg: fmt.Sprintf("%q is not an address", raw)}
	}
	return common.HexToAddress(raw), nil
}
