// Package badger stores staged records in an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
)

var stagingPrefix = []byte("staging/")

// StagingRepo implements storage.StagingRepository on Badger.
type StagingRepo struct {
	db *badger.DB
}

var _ storage.StagingRepository = (*StagingRepo)(nil)

// Open opens (or creates) a Badger database at path. An empty path keeps
// the database in memory.
func Open(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// NewStagingRepo creates a staging repository on an open database.
func NewStagingRepo(db *badger.DB) *StagingRepo {
	return &StagingRepo{db: db}
}

func recordKey(hash domain.ContentHash) []byte {
	key := make([]byte, 0, len(stagingPrefix)+domain.HashSize)
	key = append(key, stagingPrefix...)
	return append(key, hash[:]...)
}

// Save checks for the hash and writes inside a single transaction.
func (r *StagingRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal staging record: %w", err)
	}

	inserted := false
	err = r.db.Update(func(txn *badger.Txn) error {
		key := recordKey(rec.Hash)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		inserted = true
		return txn.Set(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to stage record: %w", err)
	}
	return inserted, nil
}

// Count walks the key space without fetching values.
func (r *StagingRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(stagingPrefix); it.ValidForPrefix(stagingPrefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count staging: %w", err)
	}
	return n, nil
}

// GetByHash retrieves a staged record.
func (r *StagingRepo) GetByHash(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	var rec domain.StagingRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staging record: %w", err)
	}
	return &rec, nil
}

// DeleteOlderThan removes records that arrived before cutoff.
func (r *StagingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(stagingPrefix); it.ValidForPrefix(stagingPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec domain.StagingRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if rec.ArrivedAt.Before(cutoff) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan staging: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("failed to delete staging record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush staging deletes: %w", err)
	}
	return int64(len(stale)), nil
}
