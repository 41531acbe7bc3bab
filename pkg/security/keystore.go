package security

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// KeyStore persists API key records. The audit store provides the
// Postgres implementation; MemoryKeyStore backs tests and deployments
// without a database.
type KeyStore interface {
	InsertAPIKey(ctx context.Context, info *models.APIKeyInfo, keyHash string) error
	APIKeyByHash(ctx context.Context, keyHash string) (*models.APIKeyInfo, error)
	TouchAPIKey(ctx context.Context, keyID string) error
	RevokeAPIKey(ctx context.Context, keyID string) (bool, error)
	ListAPIKeys(ctx context.Context) ([]*models.APIKeyInfo, error)
}

type memoryKeyRecord struct {
	hash string
	info models.APIKeyInfo
}

// MemoryKeyStore is an in-process KeyStore with the same semantics as
// the Postgres one: hashes and ids are unique, revocation is one-way.
type MemoryKeyStore struct {
	mu      sync.Mutex
	records []*memoryKeyRecord
	byHash  map[string]*memoryKeyRecord
	byID    map[string]*memoryKeyRecord
}

// NewMemoryKeyStore returns an empty in-memory key store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		byHash: make(map[string]*memoryKeyRecord),
		byID:   make(map[string]*memoryKeyRecord),
	}
}

// InsertAPIKey stores a new key record.
func (s *MemoryKeyStore) InsertAPIKey(_ context.Context, info *models.APIKeyInfo, keyHash string) error {
	const op = "security.MemoryKeyStore.InsertAPIKey"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[keyHash]; exists {
		return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "api key already registered: " + info.KeyID}
	}
	if _, exists := s.byID[info.KeyID]; exists {
		return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "api key already registered: " + info.KeyID}
	}

	rec := &memoryKeyRecord{hash: keyHash, info: cloneKeyInfo(info)}
	s.records = append(s.records, rec)
	s.byHash[keyHash] = rec
	s.byID[info.KeyID] = rec
	return nil
}

// APIKeyByHash returns the record for a key hash, nil when unknown.
// Revoked keys are returned with IsActive false.
func (s *MemoryKeyStore) APIKeyByHash(_ context.Context, keyHash string) (*models.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHash[keyHash]
	if !ok {
		return nil, nil
	}
	info := cloneKeyInfo(&rec.info)
	return &info, nil
}

// TouchAPIKey records a successful use. Unknown ids are a no-op, like an
// UPDATE matching no rows.
func (s *MemoryKeyStore) TouchAPIKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byID[keyID]; ok {
		now := time.Now().UTC()
		rec.info.LastUsed = &now
		rec.info.UsageCount++
	}
	return nil
}

// RevokeAPIKey deactivates a key, reporting false when it was unknown or
// already revoked.
func (s *MemoryKeyStore) RevokeAPIKey(_ context.Context, keyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[keyID]
	if !ok || !rec.info.IsActive {
		return false, nil
	}
	rec.info.IsActive = false
	return true, nil
}

// ListAPIKeys returns all records in insertion order, which is creation
// order.
func (s *MemoryKeyStore) ListAPIKeys(_ context.Context) ([]*models.APIKeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]*models.APIKeyInfo, len(s.records))
	for i, rec := range s.records {
		info := cloneKeyInfo(&rec.info)
		keys[i] = &info
	}
	return keys, nil
}

func cloneKeyInfo(info *models.APIKeyInfo) models.APIKeyInfo {
	out := *info
	out.Permissions = slices.Clone(info.Permissions)
	if info.LastUsed != nil {
		t := *info.LastUsed
		out.LastUsed = &t
	}
	return out
}
