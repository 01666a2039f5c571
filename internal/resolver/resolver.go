// Package resolver turns a short code into a redirect decision and records
// the click when the destination is revealed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/clicks"
	"github.com/MagnunAVF/link-engine/internal/link"
	"github.com/MagnunAVF/link-engine/internal/metrics"
	"github.com/MagnunAVF/link-engine/internal/store"
)

var (
	ErrNotFound         = errors.New("short link not found")
	ErrInactive         = errors.New("short link is not active")
	ErrUnauthorized     = errors.New("incorrect password")
	ErrStoreUnavailable = errors.New("link store unavailable")
)

// Kind is listed in priority order.
type Kind int

const (
	NotFound Kind = iota
	Inactive
	PasswordGate
	SplashRedirect
	InstantRedirect
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Inactive:
		return "inactive"
	case PasswordGate:
		return "password_gate"
	case SplashRedirect:
		return "splash_redirect"
	case InstantRedirect:
		return "instant_redirect"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type ClientContext struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

// Outcome only fills the fields its Kind needs. A PasswordGate never
// carries the destination.
type Outcome struct {
	Kind         Kind
	ShortCode    string
	LinkID       int64
	Destination  string
	Design       internal.SplashDesign
	DelaySeconds int
	Branding     internal.Branding
}

type Finder interface {
	LookupShortCode(ctx context.Context, code string, now time.Time) (store.CodeLookup, error)
}

type Resolver struct {
	links Finder
	queue clicks.Queue
}

func New(links Finder, queue clicks.Queue) *Resolver {
	return &Resolver{links: links, queue: queue}
}

func (r *Resolver) Resolve(ctx context.Context, shortCode string, now time.Time, client ClientContext) (Outcome, error) {
	l, kind, err := r.candidate(ctx, shortCode, now)
	if err != nil {
		metrics.Resolution("store_unavailable")
		return Outcome{}, err
	}
	out := Outcome{Kind: kind, ShortCode: shortCode}
	if l == nil {
		metrics.Resolution(kind.String())
		return out, nil
	}

	out.LinkID = l.ID
	switch {
	case l.HasPassword():
		out.Kind = PasswordGate
	case l.UseSplashPage:
		out.Kind = SplashRedirect
		out.Destination = l.RedirectTo
		out.Design = l.SplashDesign
		if out.Design == "" {
			out.Design = internal.SplashMinimal
		}
		out.DelaySeconds = l.SplashDelaySeconds
		if out.DelaySeconds <= 0 {
			out.DelaySeconds = internal.DefaultSplashDelay
		}
		out.Branding = l.Branding
	default:
		out.Kind = InstantRedirect
		out.Destination = l.RedirectTo
	}

	if out.Kind != PasswordGate {
		r.record(l, now, client)
	}
	metrics.Resolution(out.Kind.String())
	return out, nil
}

// VerifyPassword unlocks a gated link. Only a PRIVATE link with a password
// can be unlocked; every other active candidate answers ErrUnauthorized.
func (r *Resolver) VerifyPassword(ctx context.Context, shortCode, password string, now time.Time, client ClientContext) (string, error) {
	l, kind, err := r.candidate(ctx, shortCode, now)
	if err != nil {
		return "", err
	}
	switch kind {
	case NotFound:
		return "", ErrNotFound
	case Inactive:
		return "", ErrInactive
	}
	if !link.CheckPassword(l, password) {
		return "", ErrUnauthorized
	}
	r.record(l, now, client)
	return l.RedirectTo, nil
}

// candidate returns the active link for shortCode, or nil with NotFound or
// Inactive.
func (r *Resolver) candidate(ctx context.Context, shortCode string, now time.Time) (*internal.Link, Kind, error) {
	if shortCode == "" {
		return nil, NotFound, nil
	}
	res, err := r.links.LookupShortCode(ctx, shortCode, now)
	if err != nil {
		return nil, NotFound, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	// A cached answer may be a moment old; the window is checked again.
	if res.Link != nil && link.IsActive(res.Link, now) {
		return res.Link, InstantRedirect, nil
	}
	if res.Exists {
		return nil, Inactive, nil
	}
	return nil, NotFound, nil
}

func (r *Resolver) record(l *internal.Link, now time.Time, client ClientContext) {
	r.queue.Enqueue(clicks.Job{
		LinkID:    l.ID,
		ShortCode: l.ShortCode,
		Timestamp: now,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Referrer:  client.Referrer,
	})
}
