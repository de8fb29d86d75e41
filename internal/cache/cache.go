package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"casambi-go/internal/crypto"
	"casambi-go/internal/logging"
	"casambi-go/internal/registry"
)

// Bucket names.
var (
	bucketNetworks = []byte("networks")
	bucketKeys     = []byte("keys")
)

// Store caches network configurations and credentials between runs, so a
// controller can come up and connect without re-deriving keys or
// re-fetching the unit list. Keyed by network id.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketNetworks, bucketKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create buckets: %w", err)
	}

	logging.Debug("Opened cache", zap.String("path", path))
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutNetwork stores one network configuration.
func (s *Store) PutNetwork(n registry.Network) error {
	if n.ID == "" {
		return fmt.Errorf("cache: network without id")
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("cache: marshal network %s: %w", n.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).Put([]byte(n.ID), data)
	})
}

// GetNetwork loads one network configuration. The second return value
// reports whether the network was cached.
func (s *Store) GetNetwork(id string) (registry.Network, bool, error) {
	var n registry.Network
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNetworks).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return registry.Network{}, false, fmt.Errorf("cache: load network %s: %w", id, err)
	}
	return n, found, nil
}

// Networks lists all cached network configurations.
func (s *Store) Networks() ([]registry.Network, error) {
	var networks []registry.Network

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNetworks).ForEach(func(_, data []byte) error {
			var n registry.Network
			if err := json.Unmarshal(data, &n); err != nil {
				return err
			}
			networks = append(networks, n)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cache: list networks: %w", err)
	}
	return networks, nil
}

// DeleteNetwork removes a cached network and its credentials.
func (s *Store) DeleteNetwork(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketNetworks).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketKeys).Delete([]byte(id))
	})
}

// PutKeys stores the credentials for one network.
func (s *Store) PutKeys(networkID string, keys []crypto.Key) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("cache: marshal keys for %s: %w", networkID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Put([]byte(networkID), data)
	})
}

// GetKeys loads the credentials for one network. Missing entries return an
// empty slice.
func (s *Store) GetKeys(networkID string) ([]crypto.Key, error) {
	var keys []crypto.Key

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeys).Get([]byte(networkID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &keys)
	})
	if err != nil {
		return nil, fmt.Errorf("cache: load keys for %s: %w", networkID, err)
	}
	return keys, nil
}
