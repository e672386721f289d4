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

// TxRepo implements storage.EncryptedTransactionRepository using PostgreSQL.
type TxRepo struct {
	db *DB
}

var _ storage.EncryptedTransactionRepository = (*TxRepo)(nil)

// NewTxRepo creates a new PostgreSQL transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db}
}

type txRow struct {
	ID        int64     `db:"id"`
	Hash      []byte    `db:"hash"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (t *txRow) toDomain() (*domain.EncryptedRecord, error) {
	h, err := domain.HashFromBytes(t.Hash)
	if err != nil {
		return nil, fmt.Errorf("invalid stored hash for id %d: %w", t.ID, err)
	}
	return &domain.EncryptedRecord{
		ID:        t.ID,
		Hash:      h,
		Payload:   t.Payload,
		CreatedAt: t.CreatedAt,
	}, nil
}

// Count returns the number of stored transactions.
func (r *TxRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM encrypted_transactions`); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// Page returns transactions ordered by insertion id.
func (r *TxRepo) Page(ctx context.Context, offset, limit int) ([]*domain.EncryptedRecord, error) {
	query := `
		SELECT id, hash, payload, created_at
		FROM encrypted_transactions
		ORDER BY id
		LIMIT $1 OFFSET $2
	`
	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to page transactions: %w", err)
	}

	result := make([]*domain.EncryptedRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// Save stores a transaction. Existing hashes are left untouched.
func (r *TxRepo) Save(ctx context.Context, rec *domain.EncryptedRecord) error {
	query := `
		INSERT INTO encrypted_transactions (hash, payload, created_at)
		VALUES ($1, $2, COALESCE($3, NOW()))
		ON CONFLICT (hash) DO NOTHING
		RETURNING id
	`
	var createdAt *time.Time
	if !rec.CreatedAt.IsZero() {
		createdAt = &rec.CreatedAt
	}

	var id int64
	err := r.db.GetContext(ctx, &id, query, rec.Hash[:], rec.Payload, createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	rec.ID = id
	return nil
}
