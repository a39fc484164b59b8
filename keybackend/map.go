// Package keybackend provides SecretStore implementations for key retrieval.
package keybackend

import (
	"fmt"

	"github.com/partflow/partflow"
)

// ErrKeyNotFound is returned when the access key does not exist in the
// store. It wraps partflow.ErrUnauthorized so signature verification
// rejects requests for unknown keys.
var ErrKeyNotFound = fmt.Errorf("access key not found: %w", partflow.ErrUnauthorized)

// MapSecretStore retrieves keys from an in-memory map.
// Suitable for configuration file-based key storage.
type MapSecretStore struct {
	keys     map[string]string
	prefixes map[string]string
}

// NewMapSecretStore creates a new map-based secret store with the given
// access key to secret key mapping. All keys are unscoped.
func NewMapSecretStore(keys map[string]string) *MapSecretStore {
	return &MapSecretStore{keys: keys, prefixes: map[string]string{}}
}

// NewScopedSecretStore creates a map-based secret store from key pairs,
// keeping each pair's key-prefix scope. Pairs with an empty access key
// or secret key are skipped; a later pair overrides an earlier one with
// the same access key.
func NewScopedSecretStore(pairs []KeyPair) *MapSecretStore {
	s := &MapSecretStore{
		keys:     make(map[string]string, len(pairs)),
		prefixes: make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		if p.AccessKey == "" || p.SecretKey == "" {
			continue
		}
		s.keys[p.AccessKey] = p.SecretKey
		s.prefixes[p.AccessKey] = p.Prefix
	}
	return s
}

// Lookup retrieves the secret key for the given access key from the map.
func (s *MapSecretStore) Lookup(accessKey string) (string, error) {
	secretKey, found := s.keys[accessKey]
	if !found {
		return "", ErrKeyNotFound
	}
	return secretKey, nil
}

// Scope returns the key-prefix the access key is restricted to. An
// empty string means the key is unscoped.
func (s *MapSecretStore) Scope(accessKey string) string {
	return s.prefixes[accessKey]
}
