package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/link"
)

// Memory keeps everything in process. Reads return copies so callers cannot
// bypass IncrementClickCount by mutating a returned link.
type Memory struct {
	mu          sync.RWMutex
	links       map[int64]*internal.Link
	batches     map[int64]*internal.Batch
	clicks      []internal.Click
	nextClickID int64
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		links:   make(map[int64]*internal.Link),
		batches: make(map[int64]*internal.Batch),
		now:     time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) LookupShortCode(_ context.Context, code string, now time.Time) (CodeLookup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		res    CodeLookup
		active []internal.Link
	)
	for _, l := range m.links {
		if l.ShortCode != code {
			continue
		}
		res.Exists = true
		if link.IsActive(l, now) {
			active = append(active, copyLink(l))
		}
		if !l.IsPaused {
			res.Changes = earliestAfter(res.Changes, now, l.ActiveFrom, l.ActiveUntil)
		}
	}
	if winner, ok := link.SelectActive(active, now); ok {
		res.Link = winner
	}
	return res, nil
}

// earliestAfter folds the bounds that lie after now into cur. An end bound
// equal to now still counts since windows are inclusive.
func earliestAfter(cur *time.Time, now time.Time, from, until *time.Time) *time.Time {
	pick := func(t time.Time) {
		if cur == nil || t.Before(*cur) {
			v := t
			cur = &v
		}
	}
	if from != nil && from.After(now) {
		pick(*from)
	}
	if until != nil && !until.Before(now) {
		pick(*until)
	}
	return cur
}

func (m *Memory) FindActiveByOwnerAndShortCode(_ context.Context, ownerID, code string, now time.Time) ([]internal.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []internal.Link
	for _, l := range m.links {
		if l.OwnerID == ownerID && l.ShortCode == code && link.IsActive(l, now) {
			out = append(out, copyLink(l))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) FindByID(_ context.Context, id int64) (*internal.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyLink(l)
	return &c, nil
}

func (m *Memory) List(_ context.Context, f LinkFilter) ([]internal.Link, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(f.Search)
	var out []internal.Link
	for _, l := range m.links {
		if f.OwnerID != "" && l.OwnerID != f.OwnerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(l.Name), search) {
			continue
		}
		if f.BatchID != nil && (l.BatchID == nil || *l.BatchID != *f.BatchID) {
			continue
		}
		if f.Visibility != "" && l.Visibility != f.Visibility {
			continue
		}
		out = append(out, copyLink(l))
	}

	sortNewestFirst(out)
	switch f.Order {
	case OldestFirst:
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	case MostClicked:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ClickCount > out[j].ClickCount })
	}

	total := int64(len(out))
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *Memory) Create(_ context.Context, l *internal.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[l.ID]; exists {
		return fmt.Errorf("%w: link %d", ErrConflict, l.ID)
	}
	now := m.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	c := copyLink(l)
	m.links[l.ID] = &c
	return nil
}

// Update overwrites editable fields. The click counter and creation time are
// owned by the store and survive any update.
func (m *Memory) Update(_ context.Context, l *internal.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.links[l.ID]
	if !ok || cur.OwnerID != l.OwnerID {
		return ErrNotFound
	}
	l.ClickCount = cur.ClickCount
	l.CreatedAt = cur.CreatedAt
	l.UpdatedAt = m.now()
	c := copyLink(l)
	m.links[l.ID] = &c
	return nil
}

func (m *Memory) SetPaused(_ context.Context, ownerID string, ids []int64, paused bool) (int64, error) {
	return m.mutateOwned(ownerID, ids, func(l *internal.Link) { l.IsPaused = paused }), nil
}

func (m *Memory) SetBatch(_ context.Context, ownerID string, ids []int64, batchID *int64) (int64, error) {
	return m.mutateOwned(ownerID, ids, func(l *internal.Link) {
		if batchID == nil {
			l.BatchID = nil
			return
		}
		id := *batchID
		l.BatchID = &id
	}), nil
}

func (m *Memory) mutateOwned(ownerID string, ids []int64, fn func(*internal.Link)) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		if l, ok := m.links[id]; ok && l.OwnerID == ownerID {
			fn(l)
			l.UpdatedAt = m.now()
			n++
		}
	}
	return n
}

func (m *Memory) Delete(_ context.Context, ownerID string, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gone := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if l, ok := m.links[id]; ok && l.OwnerID == ownerID {
			delete(m.links, id)
			gone[id] = struct{}{}
		}
	}
	if len(gone) > 0 {
		kept := m.clicks[:0]
		for _, c := range m.clicks {
			if _, drop := gone[c.LinkID]; !drop {
				kept = append(kept, c)
			}
		}
		m.clicks = kept
	}
	return int64(len(gone)), nil
}

func (m *Memory) IncrementClickCount(_ context.Context, id int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[id]
	if !ok {
		return ErrNotFound
	}
	l.ClickCount += delta
	return nil
}

// AppendClicks is all-or-nothing: a click for an unknown link rejects the batch.
func (m *Memory) AppendClicks(_ context.Context, clicks []internal.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range clicks {
		if _, ok := m.links[c.LinkID]; !ok {
			return fmt.Errorf("%w: link %d", ErrNotFound, c.LinkID)
		}
	}
	for _, c := range clicks {
		m.nextClickID++
		c.ID = m.nextClickID
		m.clicks = append(m.clicks, c)
	}
	return nil
}

// Clicks returns a copy of the click log.
func (m *Memory) Clicks() []internal.Click {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]internal.Click(nil), m.clicks...)
}

func (m *Memory) CreateBatch(_ context.Context, b *internal.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("%w: batch %d", ErrConflict, b.ID)
	}
	now := m.now()
	b.CreatedAt, b.UpdatedAt = now, now
	c := *b
	m.batches[b.ID] = &c
	return nil
}

func (m *Memory) FindBatch(_ context.Context, ownerID string, id int64) (*internal.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok || b.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *Memory) OwnerStats(_ context.Context, ownerID string, now time.Time) (OwnerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s OwnerStats
	for _, b := range m.batches {
		if b.OwnerID == ownerID {
			s.Batches++
		}
	}
	for _, l := range m.links {
		if l.OwnerID != ownerID {
			continue
		}
		s.Links++
		s.Clicks += l.ClickCount
		if l.IsPaused {
			s.PausedLinks++
		}
		if l.Visibility == internal.VisibilityPublic {
			s.PublicLinks++
		}
		if link.IsActive(l, now) {
			s.ActiveLinks++
		}
	}
	return s, nil
}

func (m *Memory) TopCountries(_ context.Context, ownerID string, limit int) ([]Bucket, error) {
	return m.topBy(ownerID, limit, func(c internal.Click) string { return c.Country }), nil
}

func (m *Memory) TopReferrers(_ context.Context, ownerID string, limit int) ([]Bucket, error) {
	return m.topBy(ownerID, limit, func(c internal.Click) string { return c.Referrer }), nil
}

func (m *Memory) topBy(ownerID string, limit int, key func(internal.Click) string) []Bucket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range m.clicks {
		l, ok := m.links[c.LinkID]
		if !ok || l.OwnerID != ownerID {
			continue
		}
		if k := key(c); k != "" {
			counts[k]++
		}
	}
	return topBuckets(counts, limit)
}

func (m *Memory) ClicksPerDay(_ context.Context, ownerID string) ([]DayBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, c := range m.clicks {
		if l, ok := m.links[c.LinkID]; ok && l.OwnerID == ownerID {
			counts[c.ClickedAt.UTC().Format(time.DateOnly)]++
		}
	}
	out := make([]DayBucket, 0, len(counts))
	for date, n := range counts {
		out = append(out, DayBucket{Date: date, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func topBuckets(counts map[string]int64, limit int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for name, n := range counts {
		out = append(out, Bucket{Name: name, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortNewestFirst(links []internal.Link) {
	sort.Slice(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.After(links[j].CreatedAt)
		}
		return links[i].ID > links[j].ID
	})
}

func copyLink(l *internal.Link) internal.Link {
	c := *l
	c.Clicks = nil
	if l.ActiveFrom != nil {
		t := *l.ActiveFrom
		c.ActiveFrom = &t
	}
	if l.ActiveUntil != nil {
		t := *l.ActiveUntil
		c.ActiveUntil = &t
	}
	if l.PasswordHash != nil {
		h := *l.PasswordHash
		c.PasswordHash = &h
	}
	if l.BatchID != nil {
		b := *l.BatchID
		c.BatchID = &b
	}
	return c
}
