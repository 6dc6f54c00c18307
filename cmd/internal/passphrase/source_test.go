package passphrase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func env(values map[string]string) Option {
	return WithLookup(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func TestSourceUsesEnvironment(t *testing.T) {
	src := NewSource("CROWDFUND_PASSPHRASE", env(map[string]string{"CROWDFUND_PASSPHRASE": " secret "}))
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, " secret ", value)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src := NewSource("CROWDFUND_PASSPHRASE", env(map[string]string{"CROWDFUND_PASSPHRASE": "  "}))
	_, err := src.Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourceWithoutTerminalFails(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer f.Close()

	src := NewSource("CROWDFUND_PASSPHRASE", env(nil), WithTerminal(f, os.Stderr))
	_, err = src.Get()
	require.ErrorContains(t, err, "set CROWDFUND_PASSPHRASE")

	_, again := src.Get()
	require.Equal(t, err, again)
}
