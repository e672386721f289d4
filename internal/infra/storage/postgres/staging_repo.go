package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
)

// StagingRepo implements storage.StagingRepository using PostgreSQL.
type StagingRepo struct {
	db *DB
}

var _ storage.StagingRepository = (*StagingRepo)(nil)

// NewStagingRepo creates a new PostgreSQL staging repository.
func NewStagingRepo(db *DB) *StagingRepo {
	return &StagingRepo{db: db}
}

// Save inserts a staged record unless the hash is already present.
func (r *StagingRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	query := `
		INSERT INTO staging_transactions (hash, payload, arrived_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, rec.Hash[:], rec.Payload, rec.ArrivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to stage transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read staged rows: %w", err)
	}
	return n > 0, nil
}

// Count returns the number of staged records.
func (r *StagingRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM staging_transactions`); err != nil {
		return 0, fmt.Errorf("failed to count staged transactions: %w", err)
	}
	return n, nil
}

// GetByHash retrieves a staged record.
func (r *StagingRepo) GetByHash(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	var row struct {
		Hash      []byte    `db:"hash"`
		Payload   []byte    `db:"payload"`
		ArrivedAt time.Time `db:"arrived_at"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT hash, payload, arrived_at FROM staging_transactions WHERE hash = $1`, hash[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staged transaction: %w", err)
	}
	return &domain.StagingRecord{Hash: hash, Payload: row.Payload, ArrivedAt: row.ArrivedAt}, nil
}

// DeleteOlderThan removes records that arrived before cutoff.
func (r *StagingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM staging_transactions WHERE arrived_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune staging: %w", err)
	}
	return res.RowsAffected()
}
