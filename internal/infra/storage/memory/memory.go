package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
)

type MemoryStorage struct {
	records []*domain.EncryptedRecord
	byHash  map[domain.ContentHash]*domain.EncryptedRecord
	staged  map[domain.ContentHash]*domain.StagingRecord
	nextID  int64
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byHash: make(map[domain.ContentHash]*domain.EncryptedRecord),
		staged: make(map[domain.ContentHash]*domain.StagingRecord),
	}
}

// -----------------------------------------------------------------------------
// Encrypted Transaction Repository
// -----------------------------------------------------------------------------

type TxRepo struct {
	store *MemoryStorage
}

var _ storage.EncryptedTransactionRepository = (*TxRepo)(nil)

func NewTxRepo(store *MemoryStorage) *TxRepo {
	return &TxRepo{store: store}
}

func (r *TxRepo) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.records)), nil
}

func (r *TxRepo) Page(ctx context.Context, offset, limit int) ([]*domain.EncryptedRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if offset < 0 || limit <= 0 || offset >= len(r.store.records) {
		return []*domain.EncryptedRecord{}, nil
	}
	end := offset + limit
	if end > len(r.store.records) {
		end = len(r.store.records)
	}
	page := make([]*domain.EncryptedRecord, end-offset)
	copy(page, r.store.records[offset:end])
	return page, nil
}

func (r *TxRepo) Save(ctx context.Context, rec *domain.EncryptedRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.byHash[rec.Hash]; ok {
		return nil
	}
	r.store.nextID++
	stored := *rec
	stored.ID = r.store.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	rec.ID = stored.ID
	r.store.records = append(r.store.records, &stored)
	r.store.byHash[stored.Hash] = &stored
	return nil
}

// -----------------------------------------------------------------------------
// Staging Repository
// -----------------------------------------------------------------------------

type StagingRepo struct {
	store *MemoryStorage
}

var _ storage.StagingRepository = (*StagingRepo)(nil)

func NewStagingRepo(store *MemoryStorage) *StagingRepo {
	return &StagingRepo{store: store}
}

func (r *StagingRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.staged[rec.Hash]; ok {
		return false, nil
	}
	stored := *rec
	stored.Envelope = nil
	r.store.staged[rec.Hash] = &stored
	return true, nil
}

func (r *StagingRepo) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.staged)), nil
}

func (r *StagingRepo) GetByHash(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.staged[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *StagingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for h, rec := range r.store.staged {
		if rec.ArrivedAt.Before(cutoff) {
			delete(r.store.staged, h)
			n++
		}
	}
	return n, nil
}
