package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar  string
	label   string
	confirm bool

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the key in prompts,
// e.g. "exchange".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "wallet"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// WithConfirmation makes interactive prompts ask twice. Used when a new
// keystore is written.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

// Get returns the cached passphrase or resolves it if this is the first call.
// When the environment variable is set the exact value is used; otherwise the
// operator is prompted on stderr. Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s keystore passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s keystore passphrase required and no terminal available", s.label)
	}

	passphrase, err := prompt(fmt.Sprintf("Enter %s keystore passphrase: ", s.label))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", fmt.Errorf("%s keystore passphrase cannot be empty", s.label)
	}
	if s.confirm {
		again, err := prompt("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if again != passphrase {
			return "", errors.New("passphrases do not match")
		}
	}
	return passphrase, nil
}

func prompt(text string) (string, error) {
	fmt.Fprint(os.Stderr, text)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}
