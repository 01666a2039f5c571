package link_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/link"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		name string
		link internal.Link
		want bool
	}{
		{"unbounded", internal.Link{}, true},
		{"paused", internal.Link{IsPaused: true}, false},
		{"scheduled", internal.Link{ActiveFrom: at(time.Minute)}, false},
		{"expired", internal.Link{ActiveUntil: at(-time.Minute)}, false},
		{"inside window", internal.Link{ActiveFrom: at(-time.Hour), ActiveUntil: at(time.Hour)}, true},
		{"start boundary inclusive", internal.Link{ActiveFrom: at(0)}, true},
		{"end boundary inclusive", internal.Link{ActiveUntil: at(0)}, true},
		{"zero-length window at now", internal.Link{ActiveFrom: at(0), ActiveUntil: at(0)}, true},
		{"inverted window", internal.Link{ActiveFrom: at(time.Hour), ActiveUntil: at(-time.Hour)}, false},
		{"paused inside window", internal.Link{IsPaused: true, ActiveFrom: at(-time.Hour), ActiveUntil: at(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, link.IsActive(&tt.link, now))
		})
	}
}

func TestIsActive_UnboundedAtAnyInstant(t *testing.T) {
	l := internal.Link{}
	for _, instant := range []time.Time{{}, now, now.AddDate(-50, 0, 0), now.AddDate(100, 0, 0)} {
		assert.True(t, link.IsActive(&l, instant))
	}
}

func TestIsActive_NilLink(t *testing.T) {
	assert.False(t, link.IsActive(nil, now))
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, link.StateActive, link.StateOf(&internal.Link{}, now))
	assert.Equal(t, link.StatePaused, link.StateOf(&internal.Link{IsPaused: true, ActiveUntil: at(-time.Hour)}, now))
	assert.Equal(t, link.StateScheduled, link.StateOf(&internal.Link{ActiveFrom: at(time.Second)}, now))
	assert.Equal(t, link.StateExpired, link.StateOf(&internal.Link{ActiveUntil: at(-time.Second)}, now))
	assert.Equal(t, link.StateInvalid, link.StateOf(&internal.Link{ActiveFrom: at(time.Second), ActiveUntil: at(0)}, now))
}

func TestSelectActive(t *testing.T) {
	t.Run("none active", func(t *testing.T) {
		links := []internal.Link{
			{ID: 1, IsPaused: true},
			{ID: 2, ActiveUntil: at(-time.Hour)},
		}
		got, ok := link.SelectActive(links, now)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("skips inactive rows", func(t *testing.T) {
		links := []internal.Link{
			{ID: 1, IsPaused: true, CreatedAt: now},
			{ID: 2, CreatedAt: now.Add(-time.Hour)},
		}
		got, ok := link.SelectActive(links, now)
		assert.True(t, ok)
		assert.Equal(t, int64(2), got.ID)
	})

	t.Run("most recently created wins", func(t *testing.T) {
		links := []internal.Link{
			{ID: 10, CreatedAt: now.Add(-2 * time.Hour)},
			{ID: 11, CreatedAt: now.Add(-time.Hour)},
			{ID: 9, CreatedAt: now.Add(-3 * time.Hour)},
		}
		got, ok := link.SelectActive(links, now)
		assert.True(t, ok)
		assert.Equal(t, int64(11), got.ID)
	})

	t.Run("tie broken by id", func(t *testing.T) {
		links := []internal.Link{
			{ID: 3, CreatedAt: now},
			{ID: 8, CreatedAt: now},
			{ID: 5, CreatedAt: now},
		}
		got, ok := link.SelectActive(links, now)
		assert.True(t, ok)
		assert.Equal(t, int64(8), got.ID)
	})

	t.Run("returns pointer into input", func(t *testing.T) {
		links := []internal.Link{{ID: 1}}
		got, _ := link.SelectActive(links, now)
		assert.Same(t, &links[0], got)
	})
}
