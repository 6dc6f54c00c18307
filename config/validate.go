package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"crowdfund/storage"
)

// MinPollInterval bounds how aggressively receipts are polled.
var MinPollInterval = 100 * time.Millisecond

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("config: RPCURL is required")
	}
	u, err := url.Parse(c.RPCURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: RPCURL must be an absolute URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("config: unsupported RPCURL scheme %q", u.Scheme)
	}
	if strings.TrimSpace(c.KeystorePath) == "" {
		return fmt.Errorf("config: KeystorePath is required")
	}
	switch c.JournalBackend {
	case storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("config: JournalBackend must be %q or %q", storage.BackendLevelDB, storage.BackendBolt)
	}
	if c.ReadRate < 0 {
		return fmt.Errorf("config: ReadRate must not be negative")
	}
	if c.ReadBurst < 1 {
		return fmt.Errorf("config: ReadBurst must be at least 1")
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("config: PollInterval must be at least %s", MinPollInterval)
	}
	if c.Confirmations == 0 {
		return fmt.Errorf("config: Confirmations must be at least 1")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(c.LogLevel) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("config: invalid LogLevel %q", c.LogLevel)
	}
	return level, nil
}
