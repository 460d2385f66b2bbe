// Package trust maintains the mapping from Stage instance IDs to Ed25519
// verify keys. Reads dominate (every inbound envelope); writes happen only
// when the bridge dispatches an InstanceJoinRequest or BlacklistUpdate.
package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	// ErrUnknownInstance is returned when an instance id has no trusted key.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrInvalidPublicKey is returned when a configured key cannot be parsed.
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
)

// Store is an in-memory map of instance id to Ed25519 verify key guarded by
// a read-write lock.
type Store struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStore creates an empty trust store.
func NewStore() *Store {
	return &Store{keys: make(map[string]ed25519.PublicKey)}
}

// FromHexMapping builds a store from instance id -> hex-encoded public key.
func FromHexMapping(mapping map[string]string) (*Store, error) {
	s := NewStore()
	for instanceID, hexKey := range mapping {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex for instance %q: %v", ErrInvalidPublicKey, instanceID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: instance %q key is %d bytes", ErrInvalidPublicKey, instanceID, len(raw))
		}
		s.keys[instanceID] = ed25519.PublicKey(raw)
	}
	return s, nil
}

// Get returns the verify key for an instance.
func (s *Store) Get(instanceID string) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	return key, nil
}

// Contains reports whether an instance is trusted.
func (s *Store) Contains(instanceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[instanceID]
	return ok
}

// Add registers or replaces the verify key for an instance.
func (s *Store) Add(instanceID string, pubkey []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: instance %q key is %d bytes", ErrInvalidPublicKey, instanceID, len(pubkey))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[instanceID] = ed25519.PublicKey(append([]byte(nil), pubkey...))
	return nil
}

// Remove drops an instance from the store. Removing an unknown instance is
// a no-op.
func (s *Store) Remove(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, instanceID)
}

// Snapshot returns instance id -> hex-encoded public key for every trusted
// peer.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.keys))
	for id, key := range s.keys {
		out[id] = hex.EncodeToString(key)
	}
	return out
}

// Len returns the number of trusted instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// trustFile is the on-disk JSON shape: {"instances": {id: hex_pubkey}}.
type trustFile struct {
	Instances map[string]string `json:"instances"`
}

// LoadFile reads a trust store snapshot from a JSON file.
func LoadFile(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust store %s: %w", path, err)
	}
	var file trustFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse trust store %s: %w", path, err)
	}
	if file.Instances == nil {
		return nil, fmt.Errorf("trust store %s must contain an \"instances\" object", path)
	}
	return FromHexMapping(file.Instances)
}

// SaveFile writes the current snapshot back to disk. Used after dispatch
// mutates the store so a restart keeps the learned peers.
func (s *Store) SaveFile(path string) error {
	raw, err := json.MarshalIndent(trustFile{Instances: s.Snapshot()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
