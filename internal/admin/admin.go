// Package admin implements owner-scoped link authoring, bulk actions, the
// public profile listing and the dashboard aggregates.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/link"
	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/store"
)

var (
	ErrInvalidVisibility = errors.New("visibility must be PUBLIC, PRIVATE or SHARE")
	ErrUnknownBatch      = errors.New("batch does not exist")
	ErrInvalidAction     = errors.New("invalid bulk action")
	ErrEmptySelection    = errors.New("no link ids given")
	ErrPasswordTooLong   = errors.New("password must be at most 72 bytes")
)

// bcrypt rejects longer inputs.
const maxPasswordBytes = 72

const (
	maxSplashDelay   = 60
	topLimit         = 10
	dashboardLinks   = 5
	referrerScanRows = 500
	defaultPageSize  = 10
	maxPageSize      = 100
)

type IDSource interface {
	NextID() int64
}

type Config struct {
	// PublicOwnerID owns the links listed on the public profile. Empty
	// disables the listing.
	PublicOwnerID string
	Reserved      link.Reserved
}

type Service struct {
	store    store.Store
	guard    *link.Guard
	ids      IDSource
	reserved link.Reserved
	public   string
	now      func() time.Time
}

func NewService(s store.Store, ids IDSource, cfg Config) *Service {
	reserved := cfg.Reserved
	if reserved == nil {
		reserved = link.NewReserved(link.DefaultReserved...)
	}
	return &Service{
		store:    s,
		guard:    link.NewGuard(s, time.Now),
		ids:      ids,
		reserved: reserved,
		public:   cfg.PublicOwnerID,
		now:      time.Now,
	}
}

// LinkInput carries the editable fields. Password nil keeps the current
// hash on update; an empty string removes it.
type LinkInput struct {
	Name               string
	ShortCode          string
	RedirectTo         string
	BatchID            *int64
	Visibility         internal.Visibility
	Password           *string
	IsPaused           bool
	ActiveFrom         *time.Time
	ActiveUntil        *time.Time
	UseSplashPage      bool
	SplashDesign       internal.SplashDesign
	SplashDelaySeconds int
	Branding           internal.Branding
}

// Create stores a new link. Without a short code, one is derived from the
// link id.
func (s *Service) Create(ctx context.Context, ownerID string, in LinkInput) (*internal.Link, error) {
	l := &internal.Link{ID: s.ids.NextID(), OwnerID: ownerID}
	if in.ShortCode == "" {
		in.ShortCode = internal.EncodeID(uint64(l.ID))
	}
	if err := s.apply(ctx, l, in); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("link created", "link_id", l.ID, "short_code", l.ShortCode)
	return l, nil
}

func (s *Service) Update(ctx context.Context, ownerID string, id int64, in LinkInput) (*internal.Link, error) {
	l, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.ShortCode == "" {
		in.ShortCode = l.ShortCode
	}
	if err := s.apply(ctx, l, in); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return s.store.FindByID(ctx, id)
}

// apply validates in and copies it onto l, then runs the duplicate guard
// against the resulting link.
func (s *Service) apply(ctx context.Context, l *internal.Link, in LinkInput) error {
	if err := link.ValidateShortCode(in.ShortCode, s.reserved); err != nil {
		return err
	}
	if err := link.ValidateDestination(in.RedirectTo); err != nil {
		return err
	}
	if in.ActiveFrom != nil && in.ActiveUntil != nil && in.ActiveFrom.After(*in.ActiveUntil) {
		return link.ErrInvalidWindow
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = internal.VisibilityPublic
	}
	switch visibility {
	case internal.VisibilityPublic, internal.VisibilityPrivate, internal.VisibilityShare:
	default:
		return ErrInvalidVisibility
	}

	design := in.SplashDesign
	if design == "" {
		design = internal.SplashMinimal
	}
	switch design {
	case internal.SplashMinimal, internal.SplashBranded, internal.SplashCompany:
	default:
		return link.ErrInvalidSplash
	}
	delay := in.SplashDelaySeconds
	if delay == 0 {
		delay = internal.DefaultSplashDelay
	}
	if delay < 0 || delay > maxSplashDelay {
		return link.ErrInvalidSplash
	}

	hash, err := passwordHash(l.PasswordHash, visibility, in.Password)
	if err != nil {
		return err
	}

	if in.BatchID != nil {
		if _, err := s.store.FindBatch(ctx, l.OwnerID, *in.BatchID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownBatch
			}
			return err
		}
	}

	l.Name = strings.TrimSpace(in.Name)
	l.ShortCode = in.ShortCode
	l.RedirectTo = in.RedirectTo
	l.BatchID = in.BatchID
	l.Visibility = visibility
	l.PasswordHash = hash
	l.IsPaused = in.IsPaused
	l.ActiveFrom = utc(in.ActiveFrom)
	l.ActiveUntil = utc(in.ActiveUntil)
	l.UseSplashPage = in.UseSplashPage
	l.SplashDesign = design
	l.SplashDelaySeconds = delay
	l.Branding = in.Branding

	return s.guard.AssertNoActiveCollision(ctx, l.OwnerID, l.ShortCode, link.IsActive(l, s.now()), l.ID)
}

func passwordHash(current *string, visibility internal.Visibility, password *string) (*string, error) {
	if visibility != internal.VisibilityPrivate {
		return nil, nil
	}
	if password == nil {
		return current, nil
	}
	if *password == "" {
		return nil, nil
	}
	if len(*password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	hash, err := link.HashPassword(*password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &hash, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Get hides links of other owners behind store.ErrNotFound.
func (s *Service) Get(ctx context.Context, ownerID string, id int64) (*internal.Link, error) {
	l, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return l, nil
}

type ListQuery struct {
	Page       int
	Limit      int
	Search     string
	BatchID    *int64
	Visibility internal.Visibility
}

type Pagination struct {
	Total       int64 `json:"total"`
	Pages       int   `json:"pages"`
	CurrentPage int   `json:"currentPage"`
}

type Page struct {
	Data       []internal.Link `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

func (s *Service) List(ctx context.Context, ownerID string, q ListQuery) (Page, error) {
	page := max(1, q.Page)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	links, total, err := s.store.List(ctx, store.LinkFilter{
		OwnerID:    ownerID,
		Search:     strings.TrimSpace(q.Search),
		BatchID:    q.BatchID,
		Visibility: q.Visibility,
		Offset:     (page - 1) * limit,
		Limit:      limit,
	})
	if err != nil {
		return Page{}, err
	}
	if links == nil {
		links = []internal.Link{}
	}
	return Page{
		Data: links,
		Pagination: Pagination{
			Total:       total,
			Pages:       int((total + int64(limit) - 1) / int64(limit)),
			CurrentPage: page,
		},
	}, nil
}

// SetPaused pauses or resumes one link. Resuming runs the duplicate guard.
func (s *Service) SetPaused(ctx context.Context, ownerID string, id int64, paused bool) error {
	l, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !paused {
		l.IsPaused = false
		if err := s.guard.AssertNoActiveCollision(ctx, ownerID, l.ShortCode, link.IsActive(l, s.now()), l.ID); err != nil {
			return err
		}
	}
	n, err := s.store.SetPaused(ctx, ownerID, []int64{id}, paused)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, ownerID string, id int64) error {
	n, err := s.store.Delete(ctx, ownerID, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	logger.FromContext(ctx).Info("link deleted", "link_id", id)
	return nil
}

func (s *Service) CreateBatch(ctx context.Context, ownerID, name string) (*internal.Batch, error) {
	b := &internal.Batch{ID: s.ids.NextID(), OwnerID: ownerID, Name: strings.TrimSpace(name)}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

type PublicLink struct {
	Name       string `json:"name"`
	ShortCode  string `json:"shortCode"`
	RedirectTo string `json:"redirectTo"`
}

// PublicLinks lists the public owner's PUBLIC links that are active now,
// oldest first.
func (s *Service) PublicLinks(ctx context.Context) ([]PublicLink, error) {
	out := []PublicLink{}
	if s.public == "" {
		return out, nil
	}
	links, _, err := s.store.List(ctx, store.LinkFilter{
		OwnerID:    s.public,
		Visibility: internal.VisibilityPublic,
		Order:      store.OldestFirst,
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range links {
		if link.IsActive(&links[i], now) {
			out = append(out, PublicLink{
				Name:       links[i].Name,
				ShortCode:  links[i].ShortCode,
				RedirectTo: links[i].RedirectTo,
			})
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context, ownerID string) (store.OwnerStats, error) {
	return s.store.OwnerStats(ctx, ownerID, s.now())
}

func (s *Service) TopCountries(ctx context.Context, ownerID string) ([]store.Bucket, error) {
	buckets, err := s.store.TopCountries(ctx, ownerID, topLimit)
	if buckets == nil && err == nil {
		buckets = []store.Bucket{}
	}
	return buckets, err
}

// TopReferrers folds raw referrer URLs into hosts, "www." stripped.
func (s *Service) TopReferrers(ctx context.Context, ownerID string) ([]store.Bucket, error) {
	raw, err := s.store.TopReferrers(ctx, ownerID, referrerScanRows)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(raw))
	for _, b := range raw {
		counts[referrerHost(b.Name)] += b.Clicks
	}

	out := make([]store.Bucket, 0, len(counts))
	for name, n := range counts {
		out = append(out, store.Bucket{Name: name, Clicks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clicks != out[j].Clicks {
			return out[i].Clicks > out[j].Clicks
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > topLimit {
		out = out[:topLimit]
	}
	return out, nil
}

// ClicksOverTime returns daily click counts for the owner's links, oldest day
// first.
func (s *Service) ClicksOverTime(ctx context.Context, ownerID string) ([]store.DayBucket, error) {
	days, err := s.store.ClicksPerDay(ctx, ownerID)
	if days == nil && err == nil {
		days = []store.DayBucket{}
	}
	return days, err
}

type TopLink struct {
	ID         int64  `json:"id,string"`
	Name       string `json:"name"`
	ShortCode  string `json:"shortCode"`
	ClickCount int64  `json:"clickCount"`
}

// TopLinks returns the owner's most clicked links.
func (s *Service) TopLinks(ctx context.Context, ownerID string) ([]TopLink, error) {
	links, _, err := s.store.List(ctx, store.LinkFilter{OwnerID: ownerID, Order: store.MostClicked, Limit: dashboardLinks})
	if err != nil {
		return nil, err
	}
	out := make([]TopLink, 0, len(links))
	for _, l := range links {
		out = append(out, TopLink{ID: l.ID, Name: l.Name, ShortCode: l.ShortCode, ClickCount: l.ClickCount})
	}
	return out, nil
}

type RecentLink struct {
	ID        int64     `json:"id,string"`
	Name      string    `json:"name"`
	ShortCode string    `json:"shortCode"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Service) RecentLinks(ctx context.Context, ownerID string) ([]RecentLink, error) {
	links, _, err := s.store.List(ctx, store.LinkFilter{OwnerID: ownerID, Limit: dashboardLinks})
	if err != nil {
		return nil, err
	}
	out := make([]RecentLink, 0, len(links))
	for _, l := range links {
		out = append(out, RecentLink{ID: l.ID, Name: l.Name, ShortCode: l.ShortCode, CreatedAt: l.CreatedAt})
	}
	return out, nil
}

func referrerHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
