// Package staging ingests peer-pushed payloads into the staging area.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/txrecover/internal/core/codec"
	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
	"github.com/vietddude/txrecover/internal/resync/metrics"
)

// Store deduplicates inbound payloads by content hash. All writes go through
// a single mutex, so one push batch is staged completely before the next
// one starts.
type Store struct {
	mu   sync.Mutex
	repo storage.StagingRepository
	now  func() time.Time
}

// NewStore creates a staging store over repo.
func NewStore(repo storage.StagingRepository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// PayloadError reports which payload of a batch failed.
type PayloadError struct {
	Index int
	Err   error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("payload %d: %v", e.Index, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// StageBatch stages payloads in order while holding the ingestion lock.
// The first failure aborts the rest of the batch; payloads staged before it
// stay staged. It returns the number of newly inserted records.
func (s *Store) StageBatch(ctx context.Context, payloads [][]byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { metrics.StagingBatchDuration.Observe(time.Since(start).Seconds()) }()

	inserted := 0
	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			return inserted, &PayloadError{Index: i, Err: err}
		}
		ok, err := s.stage(ctx, p)
		if err != nil {
			return inserted, &PayloadError{Index: i, Err: err}
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (s *Store) stage(ctx context.Context, payload []byte) (bool, error) {
	env, err := codec.Decode(payload)
	if err != nil {
		return false, err
	}
	hash, err := env.Hash()
	if err != nil {
		return false, fmt.Errorf("%w: %v", codec.ErrMalformed, err)
	}

	inserted, err := s.repo.Save(ctx, &domain.StagingRecord{
		Hash:      hash,
		Envelope:  env,
		Payload:   payload,
		ArrivedAt: s.now(),
	})
	if err != nil {
		return false, err
	}

	if inserted {
		metrics.StagingStaged.WithLabelValues("inserted").Inc()
		slog.Debug("Staged payload", "hash", hash.String())
	} else {
		metrics.StagingStaged.WithLabelValues("duplicate").Inc()
		slog.Debug("Payload already staged", "hash", hash.String())
	}
	return inserted, nil
}

// Count returns the number of staged records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}

// Get returns a staged record with its envelope decoded.
func (s *Store) Get(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	rec, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	env, err := codec.Decode(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("staged record %s: %w", hash, err)
	}
	rec.Envelope = env
	return rec, nil
}

// Prune discards records that arrived before cutoff. It takes the ingestion
// lock so a batch never loses records mid-flight.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune staging: %w", err)
	}
	metrics.StagingPruned.Add(float64(n))
	return n, nil
}
