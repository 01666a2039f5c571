package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/logger"
)

const cachePrefix = "links:code:"

// Cache serves LookupShortCode from a Redis snapshot and invalidates the
// affected codes on every write. A snapshot never outlives the next window
// boundary of the code, so scheduling changes need no write to show up.
type Cache struct {
	Store
	rdb         redis.UniversalClient
	ttl         time.Duration
	negativeTTL time.Duration
}

func NewCache(inner Store, rdb redis.UniversalClient, ttl, negativeTTL time.Duration) *Cache {
	return &Cache{Store: inner, rdb: rdb, ttl: ttl, negativeTTL: negativeTTL}
}

// cachedLookup is the Redis form of a CodeLookup. It keeps the password
// hash, which Link hides from JSON.
type cachedLookup struct {
	Link         *internal.Link `json:"link,omitempty"`
	PasswordHash *string        `json:"passwordHash,omitempty"`
	Exists       bool           `json:"exists"`
	Changes      *time.Time     `json:"changes,omitempty"`
}

func cacheKey(code string) string { return cachePrefix + code }

func (c *Cache) LookupShortCode(ctx context.Context, code string, now time.Time) (CodeLookup, error) {
	key := cacheKey(code)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		res, decErr := decodeLookup(raw)
		if decErr == nil {
			return res, nil
		}
		logger.FromContext(ctx).Warn("discarding unreadable link snapshot", "key", key, "err", decErr)
	case errors.Is(err, redis.Nil):
	default:
		// Redis trouble degrades to the database.
		logger.FromContext(ctx).Warn("link cache read failed", "key", key, "err", err)
	}

	res, err := c.Store.LookupShortCode(ctx, code, now)
	if err != nil {
		return CodeLookup{}, err
	}

	if ttl := c.ttlFor(res, now); ttl > 0 {
		if raw, err := encodeLookup(res); err == nil {
			if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
				logger.FromContext(ctx).Warn("link cache write failed", "key", key, "err", err)
			}
		}
	}
	return res, nil
}

func (c *Cache) ttlFor(res CodeLookup, now time.Time) time.Duration {
	ttl := c.ttl
	if !res.Exists {
		ttl = c.negativeTTL
	}
	if res.Changes != nil {
		ttl = min(ttl, res.Changes.Sub(now))
	}
	return ttl
}

func (c *Cache) Create(ctx context.Context, l *internal.Link) error {
	if err := c.Store.Create(ctx, l); err != nil {
		return err
	}
	c.invalidate(ctx, l.ShortCode)
	return nil
}

func (c *Cache) Update(ctx context.Context, l *internal.Link) error {
	var previous string
	if prev, err := c.Store.FindByID(ctx, l.ID); err == nil {
		previous = prev.ShortCode
	}
	if err := c.Store.Update(ctx, l); err != nil {
		return err
	}
	c.invalidate(ctx, l.ShortCode, previous)
	return nil
}

func (c *Cache) SetPaused(ctx context.Context, ownerID string, ids []int64, paused bool) (int64, error) {
	codes := c.codesFor(ctx, ids)
	n, err := c.Store.SetPaused(ctx, ownerID, ids, paused)
	c.invalidate(ctx, codes...)
	return n, err
}

func (c *Cache) SetBatch(ctx context.Context, ownerID string, ids []int64, batchID *int64) (int64, error) {
	codes := c.codesFor(ctx, ids)
	n, err := c.Store.SetBatch(ctx, ownerID, ids, batchID)
	c.invalidate(ctx, codes...)
	return n, err
}

func (c *Cache) Delete(ctx context.Context, ownerID string, ids []int64) (int64, error) {
	codes := c.codesFor(ctx, ids)
	n, err := c.Store.Delete(ctx, ownerID, ids)
	c.invalidate(ctx, codes...)
	return n, err
}

// Ping checks both the cache and the store behind it.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return c.Store.Ping(ctx)
}

func (c *Cache) codesFor(ctx context.Context, ids []int64) []string {
	codes := make([]string, 0, len(ids))
	for _, id := range ids {
		if l, err := c.Store.FindByID(ctx, id); err == nil {
			codes = append(codes, l.ShortCode)
		}
	}
	return codes
}

func (c *Cache) invalidate(ctx context.Context, codes ...string) {
	keys := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		keys = append(keys, cacheKey(code))
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.FromContext(ctx).Warn("link cache invalidation failed", "keys", keys, "err", err)
	}
}

func encodeLookup(res CodeLookup) ([]byte, error) {
	out := cachedLookup{Exists: res.Exists, Changes: res.Changes}
	if res.Link != nil {
		out.Link = res.Link
		out.PasswordHash = res.Link.PasswordHash
	}
	return json.Marshal(out)
}

func decodeLookup(raw []byte) (CodeLookup, error) {
	var in cachedLookup
	if err := json.Unmarshal(raw, &in); err != nil {
		return CodeLookup{}, err
	}
	if in.Link != nil {
		in.Link.PasswordHash = in.PasswordHash
	}
	return CodeLookup{Link: in.Link, Exists: in.Exists, Changes: in.Changes}, nil
}
