// Package secret resolves credentials kept out of the config file, such
// as the datastore password.
package secret

import (
	"fmt"
	"os"
	"strings"
)

// SecretStore reads and writes named secrets.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Store kinds accepted by New.
const (
	KindEnv      = "env"
	KindKeychain = "keychain"
)

// New returns the store of the given kind. An empty kind means env.
func New(kind string) (SecretStore, error) {
	switch kind {
	case "", KindEnv:
		return NewEnvStore(envPrefix), nil
	case KindKeychain:
		return NewKeychainStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret store: %q", kind)
	}
}

// Lookup returns the secret for key, or fallback when the store has none.
func Lookup(s SecretStore, key, fallback string) (string, error) {
	if s == nil || key == "" {
		return fallback, nil
	}
	v, err := s.Get(key)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", key, err)
	}
	if len(v) == 0 {
		return fallback, nil
	}
	return string(v), nil
}

// ── Environment ────────────────────────────────────────────

const envPrefix = "DOCLOADER_SECRET_"

// EnvStore maps keys to environment variables: "mongo.password" is read
// from DOCLOADER_SECRET_MONGO_PASSWORD.
type EnvStore struct {
	prefix string
}

// NewEnvStore creates an EnvStore with the given variable prefix.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix}
}

func (e *EnvStore) name(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_")
	return e.prefix + strings.ToUpper(r.Replace(key))
}

func (e *EnvStore) Set(key string, value []byte) error {
	return os.Setenv(e.name(key), string(value))
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	v, ok := os.LookupEnv(e.name(key))
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (e *EnvStore) Delete(key string) error {
	return os.Unsetenv(e.name(key))
}
