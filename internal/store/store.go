// Package store persists links, clicks and batches. Postgres (through GORM)
// is the system of record; Memory serves tests and single-process runs; Cache
// puts a Redis snapshot in front of short-code lookups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with existing data")
	// ErrUnavailable wraps infrastructure failures. Callers surface it as a
	// server error and do not retry.
	ErrUnavailable = errors.New("store unavailable")
)

type LinkOrder int

const (
	NewestFirst LinkOrder = iota
	OldestFirst
	// MostClicked orders by click_count, newest first among equals.
	MostClicked
)

type LinkFilter struct {
	OwnerID    string
	Search     string
	BatchID    *int64
	Visibility internal.Visibility
	Order      LinkOrder
	Offset     int
	Limit      int
}

// CodeLookup is everything resolution needs to know about a short code at
// one instant.
type CodeLookup struct {
	// Link is the newest active link using the code across owners, ties
	// broken by the higher id. Nil when none is active.
	Link *internal.Link
	// Exists reports whether any link uses the code at all.
	Exists bool
	// Changes is the earliest window boundary after the lookup instant among
	// the code's unpaused links: the answer can change then without a write.
	Changes *time.Time
}

type LinkStore interface {
	// LookupShortCode evaluates the active window in the store, so the
	// answer does not depend on how many inactive links share the code.
	LookupShortCode(ctx context.Context, code string, now time.Time) (CodeLookup, error)
	// FindActiveByOwnerAndShortCode returns the owner's links under code that
	// are active at now, newest first.
	FindActiveByOwnerAndShortCode(ctx context.Context, ownerID, code string, now time.Time) ([]internal.Link, error)
	FindByID(ctx context.Context, id int64) (*internal.Link, error)
	List(ctx context.Context, filter LinkFilter) ([]internal.Link, int64, error)
	Create(ctx context.Context, l *internal.Link) error
	Update(ctx context.Context, l *internal.Link) error
	SetPaused(ctx context.Context, ownerID string, ids []int64, paused bool) (int64, error)
	SetBatch(ctx context.Context, ownerID string, ids []int64, batchID *int64) (int64, error)
	Delete(ctx context.Context, ownerID string, ids []int64) (int64, error)
	// IncrementClickCount adds delta in a single statement, never read-modify-write.
	IncrementClickCount(ctx context.Context, id int64, delta int64) error
}

type ClickStore interface {
	AppendClicks(ctx context.Context, clicks []internal.Click) error
}

type BatchStore interface {
	CreateBatch(ctx context.Context, b *internal.Batch) error
	FindBatch(ctx context.Context, ownerID string, id int64) (*internal.Batch, error)
}

type OwnerStats struct {
	Batches     int64 `json:"batches"`
	Links       int64 `json:"links"`
	ActiveLinks int64 `json:"activeLinks"`
	PausedLinks int64 `json:"pausedLinks"`
	PublicLinks int64 `json:"publicLinks"`
	Clicks      int64 `json:"clicks"`
}

type Bucket struct {
	Name   string `json:"name"`
	Clicks int64  `json:"clicks"`
}

// DayBucket counts clicks on one UTC calendar day, formatted YYYY-MM-DD.
// DayBucket counts clicks on one UTC day, formatted as YYYY-MM-DD.
type DayBucket struct {
	Date   string `json:"date" gorm:"column:day"`
	Clicks int64  `json:"clicks"`
}

type AnalyticsStore interface {
	OwnerStats(ctx context.Context, ownerID string, now time.Time) (OwnerStats, error)
	TopCountries(ctx context.Context, ownerID string, limit int) ([]Bucket, error)
	TopReferrers(ctx context.Context, ownerID string, limit int) ([]Bucket, error)
	// ClicksPerDay returns one bucket per day that has clicks, oldest first.
	ClicksPerDay(ctx context.Context, ownerID string) ([]DayBucket, error)
}

type Store interface {
	LinkStore
	ClickStore
	BatchStore
	AnalyticsStore
	Ping(ctx context.Context) error
	Close() error
}
