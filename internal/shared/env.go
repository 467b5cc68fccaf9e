package shared

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// PassphraseProvider returns the secret used to unlock the database.
// It is invoked at most once per [DatabaseProvider].
type PassphraseProvider func(ctx context.Context) ([]byte, error)

// LoadEnv loads KEY=VALUE pairs from the given .env files (default ".env") into the process environment.
//
// Missing files are skipped; variables already set are not overridden.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// EnvPassphrase returns a [PassphraseProvider] reading the named environment variable.
//
// An unset or empty variable yields an empty passphrase, which leaves the database unencrypted.
func EnvPassphrase(name string) PassphraseProvider {
	return func(context.Context) ([]byte, error) {
		if name == "" {
			return nil, nil
		}
		return []byte(os.Getenv(name)), nil
	}
}

// StaticPassphrase returns a [PassphraseProvider] yielding a fixed secret.
func StaticPassphrase(secret []byte) PassphraseProvider {
	return func(context.Context) ([]byte, error) {
		if len(secret) == 0 {
			return nil, ErrMissingPassphrase
		}
		return secret, nil
	}
}

// Getenv returns the value of the named variable or fallback when unset.
func Getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
