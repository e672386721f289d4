package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txrecover/internal/core/domain"
	"github.com/vietddude/txrecover/internal/infra/storage"
)

// saveScript inserts a record and its index entry together. The index is
// written first so a failure leaves no unindexed record behind.
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local res = redis.pcall('ZADD', KEYS[2], ARGV[2], ARGV[3])
if type(res) == 'table' and res.err then
	return res
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// StagingRepo implements storage.StagingRepository using Redis. Each record is
// a JSON value under <prefix>:<hash>, indexed in a sorted set scored by
// arrival time.
type StagingRepo struct {
	rdb    *redis.Client
	prefix string
}

var _ storage.StagingRepository = (*StagingRepo)(nil)

// NewStagingRepo creates a new Redis-backed staging repository.
func NewStagingRepo(client *Client, prefix string) *StagingRepo {
	if prefix == "" {
		prefix = "staging"
	}
	return &StagingRepo{rdb: client.rdb, prefix: prefix}
}

// Key helpers
func (r *StagingRepo) recordKey(hash string) string {
	return fmt.Sprintf("%s:%s", r.prefix, hash)
}

func (r *StagingRepo) indexKey() string {
	return fmt.Sprintf("%s:index", r.prefix)
}

// Save stores the record only if its hash is absent, together with its
// index entry.
func (r *StagingRepo) Save(ctx context.Context, rec *domain.StagingRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal staging record: %w", err)
	}

	hash := rec.Hash.String()
	n, err := saveScript.Run(ctx, r.rdb,
		[]string{r.recordKey(hash), r.indexKey()},
		data, strconv.FormatInt(rec.ArrivedAt.UnixNano(), 10), hash,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to save staging record: %w", err)
	}
	return n == 1, nil
}

// Count returns the number of indexed records.
func (r *StagingRepo) Count(ctx context.Context) (int64, error) {
	n, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}

// GetByHash retrieves a staged record.
func (r *StagingRepo) GetByHash(ctx context.Context, hash domain.ContentHash) (*domain.StagingRecord, error) {
	data, err := r.rdb.Get(ctx, r.recordKey(hash.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staging record: %w", err)
	}

	var rec domain.StagingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal staging record: %w", err)
	}
	return &rec, nil
}

// DeleteOlderThan removes every record indexed before cutoff.
func (r *StagingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	hashes, err := r.rdb.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, len(hashes))
	members := make([]interface{}, len(hashes))
	for i, h := range hashes {
		keys[i] = r.recordKey(h)
		members[i] = h
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune staging: %w", err)
	}
	return int64(len(hashes)), nil
}
