package clicks_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/clicks"
	"github.com/MagnunAVF/link-engine/internal/store"
)

type stubGeo struct {
	country string
	err     error
}

func (g stubGeo) Lookup(string) (string, error) { return g.country, g.err }

func newStore(t *testing.T, ids ...int64) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	for _, id := range ids {
		require.NoError(t, s.Create(context.Background(), &internal.Link{ID: id, OwnerID: "o", ShortCode: "c"}))
	}
	return s
}

func clickCount(t *testing.T, s *store.Memory, id int64) int64 {
	t.Helper()
	l, err := s.FindByID(context.Background(), id)
	require.NoError(t, err)
	return l.ClickCount
}

func TestIngestWritesRowAndCounter(t *testing.T) {
	s := newStore(t, 1)
	ing := clicks.NewIngestor(s, stubGeo{country: "BR"}, time.Second)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	err := ing.Ingest(context.Background(), clicks.Job{
		LinkID: 1, Timestamp: at, IPAddress: "200.1.1.1", UserAgent: "ua", Referrer: "https://ref.example",
	})
	require.NoError(t, err)

	rows := s.Clicks()
	require.Len(t, rows, 1)
	assert.Equal(t, "BR", rows[0].Country)
	assert.Equal(t, "ua", rows[0].UserAgent)
	assert.True(t, at.Equal(rows[0].ClickedAt))
	assert.Equal(t, int64(1), clickCount(t, s, 1))
}

func TestIngestGeoFailureLeavesCountryEmpty(t *testing.T) {
	s := newStore(t, 1)
	ing := clicks.NewIngestor(s, stubGeo{err: errors.New("no db")}, time.Second)

	require.NoError(t, ing.Ingest(context.Background(), clicks.Job{LinkID: 1, IPAddress: "8.8.8.8"}))
	rows := s.Clicks()
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Country)
	assert.False(t, rows[0].ClickedAt.IsZero())
}

func TestIngestIgnoresCallerCancellation(t *testing.T) {
	s := newStore(t, 1)
	ing := clicks.NewIngestor(s, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, ing.Ingest(ctx, clicks.Job{LinkID: 1}))
	assert.Equal(t, int64(1), clickCount(t, s, 1))
}

func TestIngestBatchAggregatesAndSalvages(t *testing.T) {
	s := newStore(t, 1, 2)
	ing := clicks.NewIngestor(s, nil, time.Second)

	errs := ing.IngestBatch(context.Background(), []clicks.Job{
		{LinkID: 1}, {LinkID: 2}, {LinkID: 404}, {LinkID: 1},
	})
	require.Len(t, errs, 4)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], store.ErrNotFound)
	assert.NoError(t, errs[3])

	assert.Len(t, s.Clicks(), 3)
	assert.Equal(t, int64(2), clickCount(t, s, 1))
	assert.Equal(t, int64(1), clickCount(t, s, 2))
}

// failingStore refuses every write.
type failingStore struct{}

func (failingStore) AppendClicks(context.Context, []internal.Click) error {
	return errors.New("disk on fire")
}

func (failingStore) IncrementClickCount(context.Context, int64, int64) error {
	return errors.New("disk on fire")
}

func TestDispatcherSurvivesFailingStore(t *testing.T) {
	d := clicks.NewDispatcher(clicks.NewIngestor(failingStore{}, nil, time.Second), clicks.DispatcherConfig{
		Workers: 2, Buffer: 16, BatchSize: 4, FlushInterval: 10 * time.Millisecond,
	})
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		d.Enqueue(clicks.Job{LinkID: 1})
	}
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherCountsEveryClick(t *testing.T) {
	s := newStore(t, 1)
	d := clicks.NewDispatcher(clicks.NewIngestor(s, nil, time.Second), clicks.DispatcherConfig{
		Workers: 4, Buffer: 1000, BatchSize: 25, FlushInterval: 10 * time.Millisecond,
	})
	d.Start(context.Background())

	const n = 500
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Enqueue(clicks.Job{LinkID: 1})
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, s.Clicks(), n)
	assert.Equal(t, int64(n), clickCount(t, s, 1))
}

type blockingIngester struct {
	release chan struct{}
}

func (b blockingIngester) IngestBatch(_ context.Context, jobs []clicks.Job) []error {
	<-b.release
	return make([]error, len(jobs))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	ing := blockingIngester{release: make(chan struct{})}
	d := clicks.NewDispatcher(ing, clicks.DispatcherConfig{Workers: 1, Buffer: 2, BatchSize: 1, FlushInterval: time.Millisecond})
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Enqueue(clicks.Job{LinkID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full buffer")
	}

	close(ing.release)
	require.NoError(t, d.Close(context.Background()))

	// Enqueue after Close must neither block nor panic.
	d.Enqueue(clicks.Job{LinkID: 1})
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	ing := blockingIngester{release: make(chan struct{})}
	defer close(ing.release)
	d := clicks.NewDispatcher(ing, clicks.DispatcherConfig{Workers: 1, Buffer: 4, BatchSize: 1, FlushInterval: time.Millisecond})
	d.Start(context.Background())
	d.Enqueue(clicks.Job{LinkID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
