// Package secrets provides the credential-material store consumed by the
// credential pools. Credentials are held at rest only as names; the pools
// resolve actual key material through a Store at dispatch time.
package secrets

import (
	"fmt"
	"os"
)

// Store answers whether a named secret exists and yields its decrypted
// material. Implementations can be env-backed, file-backed, or a real KMS.
type Store interface {
	// HasKey reports whether the named secret exists. When
	// requireDecryptable is true the implementation must also verify the
	// material can actually be produced (e.g. the vault is unlocked and
	// the ciphertext authenticates).
	HasKey(name string, requireDecryptable bool) bool

	// DecryptedKey returns the secret material for name.
	DecryptedKey(name string) (string, error)
}

// EnvStore resolves secrets from process environment variables, the
// default deployment mode (DEEPSEEK_API_KEY, QWEN_API_KEY_2, ...).
type EnvStore struct{}

func NewEnvStore() *EnvStore { return &EnvStore{} }

func (s *EnvStore) HasKey(name string, _ bool) bool {
	return os.Getenv(name) != ""
}

func (s *EnvStore) DecryptedKey(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("secret %s not set", name)
	}
	return v, nil
}

// IndexedName returns the env-var style name for the i-th credential of a
// provider prefix: PREFIX_API_KEY, PREFIX_API_KEY_2, PREFIX_API_KEY_3, ...
func IndexedName(prefix string, i int) string {
	if i == 0 {
		return prefix + "_API_KEY"
	}
	return fmt.Sprintf("%s_API_KEY_%d", prefix, i+1)
}
