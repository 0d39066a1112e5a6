package reports

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/mmdatafocus/txsummary/models"
)

// cacheKeySet tracks every cached report key so a run can drop them all.
const cacheKeySet = "report-cache:keys"

// Cache holds rendered summary reports between materialization runs.
type Cache interface {
	GetRows(ctx context.Context, key string) ([]ReportRow, bool, error)
	SetRows(ctx context.Context, key string, rows []ReportRow) error
	Invalidate(ctx context.Context) error
}

// NewCache prefers redis so every API instance sees the same entries and
// the batch job can drop them directly. Without redis an in-process cache is
// only used when runs are announced over Pub/Sub; otherwise nothing would
// invalidate it and summaries are read uncached.
func NewCache(rdb *redis.Client, ttl time.Duration, runsAnnounced bool) Cache {
	if rdb != nil {
		return NewRedisCache(rdb, ttl)
	}
	if !runsAnnounced {
		return nil
	}
	return NewMemoryCache(ttl)
}

func summaryCacheKey(scope models.SummaryScope, q ReportQuery) string {
	merchant := q.MerchantId
	if merchant == "" {
		merchant = "*"
	}
	return "report:summary:" + string(scope) + ":" + q.Mode.String() + ":" + string(q.Metric) + ":" + merchant
}

type cachedRow struct {
	Key   string                  `json:"key"`
	Value string                  `json:"value"`
	Date  models.JalaliDateFields `json:"date"`
}

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) GetRows(ctx context.Context, key string) ([]ReportRow, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var cached []cachedRow
	if err := json.Unmarshal(val, &cached); err != nil {
		return nil, false, err
	}
	rows := make([]ReportRow, len(cached))
	for i, r := range cached {
		rows[i].Key = r.Key
		rows[i].Date = r.Date
		if err := rows[i].Value.UnmarshalText([]byte(r.Value)); err != nil {
			return nil, false, err
		}
	}
	return rows, true, nil
}

func (c *RedisCache) SetRows(ctx context.Context, key string, rows []ReportRow) error {
	cached := make([]cachedRow, len(rows))
	for i, r := range rows {
		cached[i] = cachedRow{Key: r.Key, Value: r.Value.String(), Date: r.Date}
	}
	b, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	// store key in a set for faster invalidation
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, b, c.ttl)
		pipe.SAdd(ctx, cacheKeySet, key)
		return nil
	})
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	keys, err := c.rdb.SMembers(ctx, cacheKeySet).Result()
	if err != nil {
		return err
	}
	keys = append(keys, cacheKeySet)
	return c.rdb.Del(ctx, keys...).Err()
}

type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) GetRows(_ context.Context, key string) ([]ReportRow, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	rows, ok := v.([]ReportRow)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(rows), true, nil
}

func (m *MemoryCache) SetRows(_ context.Context, key string, rows []ReportRow) error {
	m.c.SetDefault(key, slices.Clone(rows))
	return nil
}

func (m *MemoryCache) Invalidate(_ context.Context) error {
	m.c.Flush()
	return nil
}
