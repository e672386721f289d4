package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/txrecover/internal/core/domain"
)

var (
	// ErrNotFound is returned when no record exists for a hash
	ErrNotFound = errors.New("record not found")
)

// EncryptedTransactionRepository is the primary store of encrypted payloads
type EncryptedTransactionRepository interface {
	// Count returns the number of stored records at call time
	Count(ctx context.Context) (int64, error)

	// Page returns up to limit records starting at offset, in insertion order.
	// An offset past the end yields an empty page.
	Page(ctx context.Context, offset, limit int) ([]*domain.EncryptedRecord, error)

	// Save stores a record; saving an existing hash is a no-op
	Save(ctx context.Context, rec *domain.EncryptedRecord) error
}

// StagingRepository holds inbound records pending admission.
// Implementations store the encoded payload; the decoded envelope is not persisted.
type StagingRepository interface {
	// Save inserts the record if its hash is absent and reports whether it did
	Save(ctx context.Context, rec *domain.StagingRecord) (bool, error)

	// Count returns the number of staged records
	Count(ctx context.Context) (int64, error)

	// GetByHash retrieves a staged record
	GetByHash(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error)

	// DeleteOlderThan discards records that arrived before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
