package sink

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"evetrade-sync/internal/cache"
	"evetrade-sync/internal/record"
)

const (
	scanBatchSize   = 1000
	deleteBatchSize = 500
)

// RedisCache implements Cache on a go-zero Redis store. Values are
// msgpack-encoded trade records written with a TTL that outlives the sync
// cadence, so stale keys from dead runs eventually evaporate.
type RedisCache struct {
	store      *redis.Redis
	ttlSeconds int
}

// NewRedisCache wraps a Redis store as a cache sink.
func NewRedisCache(store *redis.Redis, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = cache.RecordTTL(0)
	}
	return &RedisCache{store: store, ttlSeconds: int(ttl / time.Second)}
}

// Keys scans the order namespace and returns the identity strings found,
// sorted for deterministic reconciliation.
func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	var (
		identities []string
		cursor     uint64
	)
	for {
		keys, next, err := c.store.ScanCtx(ctx, cursor, cache.OrderKeyPattern(), scanBatchSize)
		if err != nil {
			return nil, fmt.Errorf("cache: scan keys: %w", err)
		}
		for _, key := range keys {
			if id, ok := cache.IdentityFromKey(key); ok {
				identities = append(identities, id)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(identities)
	return identities, nil
}

// PutRecords writes each record under its identity key. Identities that
// fail are reported; a non-nil error means no write succeeded at all.
func (c *RedisCache) PutRecords(ctx context.Context, records []record.TradeRecord) ([]string, error) {
	var (
		failed  []string
		lastErr error
		written int
	)
	for _, rec := range records {
		id := rec.Identity().String()
		payload, err := msgpack.Marshal(rec)
		if err != nil {
			failed = append(failed, id)
			lastErr = err
			continue
		}
		if err := c.store.SetexCtx(ctx, cache.OrderKey(id), string(payload), c.ttlSeconds); err != nil {
			failed = append(failed, id)
			lastErr = err
			continue
		}
		written++
	}
	if len(records) > 0 && written == 0 {
		return failed, fmt.Errorf("cache: all %d record writes failed: %w", len(records), lastErr)
	}
	return failed, nil
}

// DeleteKeys removes the given identities in batches. Identities in a
// failed batch are reported; a non-nil error means no delete succeeded.
func (c *RedisCache) DeleteKeys(ctx context.Context, identities []string) ([]string, error) {
	var (
		failed  []string
		lastErr error
		deleted int
	)
	for start := 0; start < len(identities); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(identities) {
			end = len(identities)
		}
		batch := identities[start:end]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = cache.OrderKey(id)
		}
		if _, err := c.store.DelCtx(ctx, keys...); err != nil {
			failed = append(failed, batch...)
			lastErr = err
			continue
		}
		deleted += len(batch)
	}
	if len(identities) > 0 && deleted == 0 {
		return failed, fmt.Errorf("cache: all %d key deletes failed: %w", len(identities), lastErr)
	}
	return failed, nil
}

// GetRecord reads one record back by identity. Used by debugging tools and
// tests; sync itself only needs key membership.
func (c *RedisCache) GetRecord(ctx context.Context, identity string) (record.TradeRecord, bool, error) {
	raw, err := c.store.GetCtx(ctx, cache.OrderKey(identity))
	if err != nil {
		return record.TradeRecord{}, false, fmt.Errorf("cache: get %s: %w", identity, err)
	}
	if raw == "" {
		return record.TradeRecord{}, false, nil
	}
	var rec record.TradeRecord
	if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
		return record.TradeRecord{}, false, fmt.Errorf("cache: decode %s: %w", identity, err)
	}
	return rec, true, nil
}
