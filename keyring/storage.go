package keyring

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/lightningnetwork/lnd/keychain"
)

// KeyStateStore persists a key family's next derivation index across
// restarts.
type KeyStateStore interface {
	// GetCurrentIndex returns the current index for a key family.
	GetCurrentIndex(family keychain.KeyFamily) (uint32, error)

	// SetCurrentIndex sets the current index for a key family.
	SetCurrentIndex(family keychain.KeyFamily, index uint32) error

	// GetAllIndexes returns all key family indexes.
	GetAllIndexes() (map[keychain.KeyFamily]uint32, error)
}

// FileKeyStateStore implements KeyStateStore using a JSON file, so a
// gun data directory needs no database just to remember how many
// ephemeral keypairs it has minted.
type FileKeyStateStore struct {
	filePath string
	indexes  map[keychain.KeyFamily]uint32
	mu       sync.RWMutex
}

type keyStateFile struct {
	KeyFamilies map[string]uint32 `json:"key_families"`
}

// NewFileKeyStateStore creates a file-based key state store at filePath.
func NewFileKeyStateStore(filePath string) (*FileKeyStateStore, error) {
	store := &FileKeyStateStore{
		filePath: filePath,
		indexes:  make(map[keychain.KeyFamily]uint32),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load key state: %w", err)
	}

	return store, nil
}

func (s *FileKeyStateStore) GetCurrentIndex(family keychain.KeyFamily) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.indexes[family], nil
}

func (s *FileKeyStateStore) SetCurrentIndex(family keychain.KeyFamily, index uint32) error {
	s.mu.Lock()
	s.indexes[family] = index
	s.mu.Unlock()

	return s.save()
}

func (s *FileKeyStateStore) GetAllIndexes() (map[keychain.KeyFamily]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[keychain.KeyFamily]uint32, len(s.indexes))
	for family, index := range s.indexes {
		result[family] = index
	}

	return result, nil
}

func (s *FileKeyStateStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var state keyStateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal key state: %w", err)
	}

	indexes := make(map[keychain.KeyFamily]uint32, len(state.KeyFamilies))
	for familyStr, index := range state.KeyFamilies {
		var family uint32
		if _, err := fmt.Sscanf(familyStr, "%d", &family); err != nil {
			continue
		}
		indexes[keychain.KeyFamily(family)] = index
	}

	s.mu.Lock()
	s.indexes = indexes
	s.mu.Unlock()

	return nil
}

func (s *FileKeyStateStore) save() error {
	s.mu.RLock()
	state := keyStateFile{KeyFamilies: make(map[string]uint32, len(s.indexes))}
	for family, index := range s.indexes {
		state.KeyFamilies[fmt.Sprintf("%d", family)] = index
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key state: %w", err)
	}

	return os.WriteFile(s.filePath, data, 0600)
}

// MemoryKeyStateStore implements KeyStateStore in memory, for tests and
// for callers happy to re-derive from the Bet Store on restart instead.
type MemoryKeyStateStore struct {
	indexes map[keychain.KeyFamily]uint32
	mu      sync.RWMutex
}

// NewMemoryKeyStateStore creates an in-memory key state store.
func NewMemoryKeyStateStore() *MemoryKeyStateStore {
	return &MemoryKeyStateStore{indexes: make(map[keychain.KeyFamily]uint32)}
}

func (s *MemoryKeyStateStore) GetCurrentIndex(family keychain.KeyFamily) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.indexes[family], nil
}

func (s *MemoryKeyStateStore) SetCurrentIndex(family keychain.KeyFamily, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.indexes[family] = index
	return nil
}

func (s *MemoryKeyStateStore) GetAllIndexes() (map[keychain.KeyFamily]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[keychain.KeyFamily]uint32, len(s.indexes))
	for family, index := range s.indexes {
		result[family] = index
	}

	return result, nil
}
