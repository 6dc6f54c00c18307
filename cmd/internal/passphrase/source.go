package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting on the terminal. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar  string
	confirm bool
	in      *os.File
	out     io.Writer
	lookup  func(string) (string, bool)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice when prompting. Used when a
// new keystore is being created.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithTerminal overrides the prompt input and output.
func WithTerminal(in *os.File, out io.Writer) Option {
	return func(s *Source) {
		s.in = in
		s.out = out
	}
}

// WithLookup overrides how the environment is read.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(s *Source) { s.lookup = fn }
}

// NewSource constructs a passphrase source that checks envVar before
// prompting.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		in:     os.Stdin,
		out:    os.Stderr,
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase or resolves it on first use. A set
// environment variable is used verbatim; whitespace-only passphrases are
// rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if s.in == nil || !term.IsTerminal(int(s.in.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("keystore passphrase required and no terminal available")
			}
			return
		}

		passphrase, err := s.prompt("Enter keystore passphrase: ")
		if err != nil {
			s.err = err
			return
		}
		if s.confirm {
			again, err := s.prompt("Repeat keystore passphrase: ")
			if err != nil {
				s.err = err
				return
			}
			if again != passphrase {
				s.err = errors.New("passphrases do not match")
				return
			}
		}
		s.value = passphrase
	})

	return s.value, s.err
}

func (s *Source) prompt(label string) (string, error) {
	fmt.Fprint(s.out, label)
	bytes, err := term.ReadPassword(int(s.in.Fd()))
	fmt.Fprintln(s.out)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if strings.TrimSpace(string(bytes)) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	return string(bytes), nil
}
