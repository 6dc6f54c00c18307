package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"crowdfund/storage"
)

// EnvPrefix namespaces the environment overrides, e.g. CROWDFUND_RPC_URL.
const EnvPrefix = "CROWDFUND_"

type Config struct {
	RPCURL string `toml:"RPCURL" env:"RPC_URL"`
	// ChainID pins the chain the node must report. Zero accepts whatever the node serves.
	ChainID         uint64 `toml:"ChainID" env:"CHAIN_ID"`
	KeystorePath    string `toml:"KeystorePath" env:"KEYSTORE"`
	PassphraseEnv   string `toml:"PassphraseEnv" env:"PASSPHRASE_ENV"`
	DeploymentsFile string `toml:"DeploymentsFile" env:"DEPLOYMENTS"`
	JournalPath     string `toml:"JournalPath" env:"JOURNAL"`
	// JournalBackend selects the attempt journal store: "leveldb" or "bolt".
	JournalBackend  string `toml:"JournalBackend" env:"JOURNAL_BACKEND"`

	Environment string `toml:"Environment" env:"ENV"`
	LogLevel    string `toml:"LogLevel" env:"LOG_LEVEL"`
	LogFile     string `toml:"LogFile" env:"LOG_FILE"`

	ReadRate      float64       `toml:"ReadRate" env:"READ_RATE"`
	ReadBurst     int           `toml:"ReadBurst" env:"READ_BURST"`
	PollInterval  time.Duration `toml:"PollInterval" env:"POLL_INTERVAL"`
	Confirmations uint64        `toml:"Confirmations" env:"CONFIRMATIONS"`

	OTLPEndpoint string `toml:"OTLPEndpoint" env:"OTLP_ENDPOINT"`
	OTLPHeaders  string `toml:"OTLPHeaders" env:"OTLP_HEADERS"`
	OTLPInsecure bool   `toml:"OTLPInsecure" env:"OTLP_INSECURE"`

	// MetricsTextfile, when set, receives the Prometheus metrics of the run
	// in the node_exporter textfile format on exit.
	MetricsTextfile string `toml:"MetricsTextfile" env:"METRICS_TEXTFILE"`
}

// Default returns the configuration used when no file exists, pointing at a
// local development node.
func Default() *Config {
	return &Config{
		RPCURL:         "http://127.0.0.1:8545",
		KeystorePath:   "crowdfund.keystore",
		PassphraseEnv:  "CROWDFUND_PASSPHRASE",
		JournalPath:    "crowdfund-journal",
		JournalBackend: storage.BackendLevelDB,
		Environment:    "local",
		LogLevel:       "info",
		ReadRate:       20,
		ReadBurst:      5,
		PollInterval:   2 * time.Second,
		Confirmations:  1,
	}
}

// Load reads the configuration at path, writing the defaults there first when
// the file does not exist, then applies CROWDFUND_* environment overrides.
// Relative file paths in the result are resolved against the config directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := persist(path, cfg); err != nil {
				return nil, fmt.Errorf("config: write defaults: %w", err)
			}
		} else if err != nil {
			return nil, err
		} else if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if path != "" {
		cfg.resolvePaths(filepath.Dir(path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.KeystorePath, &c.DeploymentsFile, &c.JournalPath, &c.LogFile, &c.MetricsTextfile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
