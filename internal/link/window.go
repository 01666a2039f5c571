// Package link holds the scheduling and access rules every short link obeys,
// independent of where links are stored.
package link

import (
	"sort"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
)

type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateScheduled State = "scheduled"
	StateExpired   State = "expired"
	// StateInvalid marks a window whose start is after its end.
	StateInvalid State = "invalid"
)

// IsActive reports whether l may be served at now. Both window bounds are
// inclusive and either may be absent.
func IsActive(l *internal.Link, now time.Time) bool {
	return StateOf(l, now) == StateActive
}

// StateOf classifies l at now. Pause wins over scheduling.
func StateOf(l *internal.Link, now time.Time) State {
	if l == nil {
		return StateInvalid
	}
	if l.IsPaused {
		return StatePaused
	}
	if l.ActiveFrom != nil && l.ActiveUntil != nil && l.ActiveFrom.After(*l.ActiveUntil) {
		return StateInvalid
	}
	if l.ActiveFrom != nil && now.Before(*l.ActiveFrom) {
		return StateScheduled
	}
	if l.ActiveUntil != nil && now.After(*l.ActiveUntil) {
		return StateExpired
	}
	return StateActive
}

// SelectActive picks the link to serve among rows sharing a short code: the
// most recently created active one, ties broken by the higher id.
func SelectActive(links []internal.Link, now time.Time) (*internal.Link, bool) {
	active := make([]*internal.Link, 0, 1)
	for i := range links {
		if IsActive(&links[i], now) {
			active = append(active, &links[i])
		}
	}
	if len(active) == 0 {
		return nil, false
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})
	return active[0], true
}
