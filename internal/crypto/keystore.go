package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Key roles, lowest to highest privilege. A session authenticated with a
// higher role can perform everything a lower role can.
const (
	RoleVisitor = 0
	RoleUser    = 1
	RoleManager = 2
	RoleAdmin   = 3
)

// Passphrase derivation parameters.
const (
	pbkdf2Iterations = 10000
	hkdfInfo         = "network key"
)

// ErrNoKeys is returned when a key is requested from an empty store.
var ErrNoKeys = errors.New("crypto: keystore holds no keys")

// Key is one credential for a network. ID is the slot the device knows the
// key under and is echoed back during session authentication.
type Key struct {
	ID   int
	Type int
	Role int
	Name string
	Key  []byte
}

// KeyStore holds the credentials known for one network. Safe for concurrent
// use.
type KeyStore struct {
	mu   sync.RWMutex
	keys []Key
}

// NewKeyStore creates an empty store.
func NewKeyStore() *KeyStore {
	return &KeyStore{}
}

// Add validates and stores a key. Keys with an out-of-range ID or role, or
// a key body that is not 16 bytes, are rejected.
func (s *KeyStore) Add(k Key) error {
	if k.ID < 0 || k.ID > 255 {
		return fmt.Errorf("crypto: key id %d out of range", k.ID)
	}
	if k.Role < RoleVisitor || k.Role > RoleAdmin {
		return fmt.Errorf("crypto: key role %d out of range", k.Role)
	}
	if len(k.Key) != KeySize {
		return ErrInvalidKeySize
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
	return nil
}

// Best returns the key with the highest role, preferring the earliest added
// on ties. Sessions should always authenticate with the most privileged
// credential available.
func (s *KeyStore) Best() (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.keys) == 0 {
		return Key{}, ErrNoKeys
	}

	best := s.keys[0]
	for _, k := range s.keys[1:] {
		if k.Role > best.Role {
			best = k
		}
	}
	return best, nil
}

// Len reports the number of stored keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// KeyFromPassphrase derives a 16-byte network key from a user passphrase
// and the network identifier. PBKDF2 stretches the passphrase with the
// network ID as salt, then HKDF expands the result to key size so the
// derivation stays domain-separated from other uses of the passphrase.
func KeyFromPassphrase(passphrase, networkID string) ([]byte, error) {
	master := pbkdf2.Key([]byte(passphrase), []byte(networkID), pbkdf2Iterations, sha256.Size, sha256.New)

	key := make([]byte, KeySize)
	r := hkdf.Expand(sha256.New, master, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: expand passphrase key: %w", err)
	}
	return key, nil
}
