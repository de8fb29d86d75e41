package crypto

import (
	"bytes"
	"testing"
)

func TestKeyStoreBest(t *testing.T) {
	s := NewKeyStore()
	if _, err := s.Best(); err != ErrNoKeys {
		t.Errorf("Best() on empty store error = %v, want ErrNoKeys", err)
	}

	keys := []Key{
		{ID: 0, Role: RoleUser, Name: "guest", Key: make([]byte, KeySize)},
		{ID: 1, Role: RoleAdmin, Name: "owner", Key: make([]byte, KeySize)},
		{ID: 2, Role: RoleManager, Name: "installer", Key: make([]byte, KeySize)},
	}
	for _, k := range keys {
		if err := s.Add(k); err != nil {
			t.Fatalf("Add(%q) error = %v", k.Name, err)
		}
	}

	best, err := s.Best()
	if err != nil {
		t.Fatalf("Best() error = %v", err)
	}
	if best.Name != "owner" || best.Role != RoleAdmin {
		t.Errorf("Best() = %q role %d, want owner role %d", best.Name, best.Role, RoleAdmin)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestKeyStoreAddValidation(t *testing.T) {
	tests := []struct {
		name string
		key  Key
	}{
		{"id too large", Key{ID: 256, Role: RoleUser, Key: make([]byte, KeySize)}},
		{"negative id", Key{ID: -1, Role: RoleUser, Key: make([]byte, KeySize)}},
		{"role too low", Key{ID: 0, Role: -1, Key: make([]byte, KeySize)}},
		{"role too high", Key{ID: 0, Role: 4, Key: make([]byte, KeySize)}},
		{"short key", Key{ID: 0, Role: RoleUser, Key: make([]byte, 8)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewKeyStore()
			if err := s.Add(tt.key); err == nil {
				t.Errorf("Add() accepted invalid key")
			}
		})
	}
}

func TestKeyFromPassphrase(t *testing.T) {
	k1, err := KeyFromPassphrase("hunter2", "net-aabbcc")
	if err != nil {
		t.Fatalf("KeyFromPassphrase() error = %v", err)
	}
	if len(k1) != KeySize {
		t.Fatalf("key length = %d, want %d", len(k1), KeySize)
	}

	k2, err := KeyFromPassphrase("hunter2", "net-aabbcc")
	if err != nil {
		t.Fatalf("KeyFromPassphrase() error = %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Errorf("derivation is not deterministic")
	}

	k3, err := KeyFromPassphrase("hunter2", "net-ddeeff")
	if err != nil {
		t.Fatalf("KeyFromPassphrase() error = %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Errorf("same key for different networks")
	}
}
