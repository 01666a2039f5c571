//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/store"
)

func startPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("links"),
		tcpostgres.WithUsername("links"),
		tcpostgres.WithPassword("links"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := store.OpenPostgres(dsn, store.PoolConfig{MaxOpenConns: 20}, gormlogger.Discard)
	require.NoError(t, err)
	require.NoError(t, pg.Migrate())
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestPostgresConcurrentIncrements(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	require.NoError(t, pg.Create(ctx, &internal.Link{ID: 1, OwnerID: "a", ShortCode: "hot", RedirectTo: "https://example.com"}))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pg.IncrementClickCount(ctx, 1, 1))
		}()
	}
	wg.Wait()

	l, err := pg.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(n), l.ClickCount)
	assert.ErrorIs(t, pg.IncrementClickCount(ctx, 404, 1), store.ErrNotFound)
}

func TestPostgresUpdateDoesNotRewindCounter(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	l := &internal.Link{ID: 1, OwnerID: "a", ShortCode: "x", RedirectTo: "https://example.com"}
	require.NoError(t, pg.Create(ctx, l))
	require.NoError(t, pg.IncrementClickCount(ctx, 1, 3))

	l.ShortCode = "y"
	l.ClickCount = 0
	require.NoError(t, pg.Update(ctx, l))

	got, err := pg.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "y", got.ShortCode)
	assert.Equal(t, int64(3), got.ClickCount)

	l.OwnerID = "intruder"
	assert.ErrorIs(t, pg.Update(ctx, l), store.ErrNotFound)
}

func TestPostgresErrorsAndCascade(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	require.NoError(t, pg.Create(ctx, &internal.Link{ID: 1, OwnerID: "a", ShortCode: "x", RedirectTo: "https://example.com"}))

	err := pg.Create(ctx, &internal.Link{ID: 1, OwnerID: "a", ShortCode: "y", RedirectTo: "https://example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)

	err = pg.AppendClicks(ctx, []internal.Click{{LinkID: 404, ClickedAt: time.Now()}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, pg.AppendClicks(ctx, []internal.Click{
		{LinkID: 1, ClickedAt: time.Now(), Country: "BR"},
		{LinkID: 1, ClickedAt: time.Now(), Country: "BR", Referrer: "https://t.co/x"},
	}))
	countries, err := pg.TopCountries(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, []store.Bucket{{Name: "BR", Clicks: 2}}, countries)

	n, err := pg.Delete(ctx, "a", []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	countries, err = pg.TopCountries(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, countries)
}

func TestPostgresOwnerStats(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.NoError(t, pg.CreateBatch(ctx, &internal.Batch{ID: 10, OwnerID: "a", Name: "launch"}))
	for _, l := range []internal.Link{
		{ID: 1, OwnerID: "a", ShortCode: "x", RedirectTo: "https://e.com", Visibility: internal.VisibilityPublic},
		{ID: 2, OwnerID: "a", ShortCode: "y", RedirectTo: "https://e.com", IsPaused: true, Visibility: internal.VisibilityPrivate},
		{ID: 3, OwnerID: "a", ShortCode: "z", RedirectTo: "https://e.com", ActiveFrom: &future, Visibility: internal.VisibilityPrivate},
		{ID: 4, OwnerID: "a", ShortCode: "w", RedirectTo: "https://e.com", ActiveFrom: &future, ActiveUntil: &past, Visibility: internal.VisibilityPrivate},
	} {
		l := l
		require.NoError(t, pg.Create(ctx, &l))
	}
	require.NoError(t, pg.IncrementClickCount(ctx, 1, 4))

	stats, err := pg.OwnerStats(ctx, "a", now)
	require.NoError(t, err)
	assert.Equal(t, store.OwnerStats{Batches: 1, Links: 4, ActiveLinks: 1, PausedLinks: 1, PublicLinks: 1, Clicks: 4}, stats)
}

func TestPostgresClicksPerDayAndMostClicked(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	for _, l := range []internal.Link{
		{ID: 1, OwnerID: "a", ShortCode: "x", RedirectTo: "https://e.com"},
		{ID: 2, OwnerID: "a", ShortCode: "y", RedirectTo: "https://e.com"},
		{ID: 3, OwnerID: "b", ShortCode: "z", RedirectTo: "https://e.com"},
	} {
		l := l
		require.NoError(t, pg.Create(ctx, &l))
	}
	day := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	require.NoError(t, pg.AppendClicks(ctx, []internal.Click{
		{LinkID: 1, ClickedAt: day},
		{LinkID: 2, ClickedAt: day.Add(-time.Hour)},
		{LinkID: 1, ClickedAt: day.Add(time.Hour)},
		{LinkID: 3, ClickedAt: day},
	}))
	require.NoError(t, pg.IncrementClickCount(ctx, 2, 5))

	days, err := pg.ClicksPerDay(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []store.DayBucket{{Date: "2025-06-01", Clicks: 2}, {Date: "2025-06-02", Clicks: 1}}, days)

	links, _, err := pg.List(ctx, store.LinkFilter{OwnerID: "a", Order: store.MostClicked, Limit: 1})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(2), links[0].ID)
}

func TestPostgresLookupEvaluatesWindowInSQL(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := internal.Link{ID: 1, OwnerID: "u1", ShortCode: "promo", RedirectTo: "https://example.com"}
	require.NoError(t, pg.Create(ctx, &old))
	opens := now.Add(3 * time.Hour)
	for i := 0; i < 60; i++ {
		ended := now.Add(-time.Duration(i+1) * time.Minute)
		l := internal.Link{ID: int64(100 + i), OwnerID: "u1", ShortCode: "promo", RedirectTo: "https://example.com", ActiveUntil: &ended}
		require.NoError(t, pg.Create(ctx, &l))
	}
	scheduled := internal.Link{ID: 500, OwnerID: "u2", ShortCode: "promo", RedirectTo: "https://example.com", ActiveFrom: &opens}
	require.NoError(t, pg.Create(ctx, &scheduled))

	res, err := pg.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	require.NotNil(t, res.Link)
	assert.Equal(t, int64(1), res.Link.ID)
	assert.True(t, res.Exists)
	require.NotNil(t, res.Changes)
	assert.WithinDuration(t, opens, *res.Changes, time.Millisecond)

	active, err := pg.FindActiveByOwnerAndShortCode(ctx, "u1", "promo", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].ID)

	_, err = pg.SetPaused(ctx, "u1", []int64{1}, true)
	require.NoError(t, err)
	res, err = pg.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	assert.Nil(t, res.Link)
	assert.True(t, res.Exists)

	res, err = pg.LookupShortCode(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, res.Exists)
}

func TestCacheServesSnapshotAndInvalidates(t *testing.T) {
	pg := startPostgres(t)
	rdb := startRedis(t)
	ctx := context.Background()
	cache := store.NewCache(pg, rdb, time.Minute, 10*time.Second)
	now := time.Now().UTC()

	// Negative entry first, then a create must clear it.
	res, err := cache.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	assert.False(t, res.Exists)

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	l := &internal.Link{ID: 1, OwnerID: "a", ShortCode: "promo", RedirectTo: "https://example.com",
		Visibility: internal.VisibilityPrivate, PasswordHash: &hash}
	require.NoError(t, cache.Create(ctx, l))

	res, err = cache.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	require.NotNil(t, res.Link)

	cached, err := cache.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	require.NotNil(t, cached.Link)
	require.NotNil(t, cached.Link.PasswordHash)
	assert.Equal(t, hash, *cached.Link.PasswordHash)

	_, err = cache.SetPaused(ctx, "a", []int64{1}, true)
	require.NoError(t, err)
	res, err = cache.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	assert.Nil(t, res.Link)
	assert.True(t, res.Exists)

	l.ShortCode = "renamed"
	require.NoError(t, cache.Update(ctx, l))
	res, err = cache.LookupShortCode(ctx, "promo", now)
	require.NoError(t, err)
	assert.False(t, res.Exists)

	require.NoError(t, cache.Ping(ctx))
}

func TestCacheExpiresAtWindowBoundary(t *testing.T) {
	pg := startPostgres(t)
	rdb := startRedis(t)
	ctx := context.Background()
	cache := store.NewCache(pg, rdb, time.Hour, time.Minute)
	now := time.Now().UTC()
	closes := now.Add(2 * time.Second)

	l := &internal.Link{ID: 1, OwnerID: "a", ShortCode: "flash", RedirectTo: "https://example.com", ActiveUntil: &closes}
	require.NoError(t, cache.Create(ctx, l))

	res, err := cache.LookupShortCode(ctx, "flash", now)
	require.NoError(t, err)
	require.NotNil(t, res.Link)

	ttl, err := rdb.TTL(ctx, "links:code:flash").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 2*time.Second)
}
