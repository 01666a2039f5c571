package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MagnunAVF/link-engine/internal"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Postgres is the durable store. Short-code lookups hit idx_links_short_code
// and evaluate the active window in SQL.
type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string, pool PoolConfig, log gormlogger.Interface) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	return NewPostgres(db), nil
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Migrate() error {
	return p.db.AutoMigrate(&internal.Batch{}, &internal.Link{}, &internal.Click{})
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return translate(err)
	}
	return translate(sqlDB.PingContext(ctx))
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// codeBoundarySQL counts the rows under a code and finds the next instant a
// window opens or closes among the unpaused ones. LEAST skips NULLs.
const codeBoundarySQL = `SELECT COUNT(*) AS total,
	LEAST(
		MIN(CASE WHEN is_paused = false AND active_from > @now THEN active_from END),
		MIN(CASE WHEN is_paused = false AND active_until >= @now THEN active_until END)
	) AS changes
FROM links WHERE short_code = @code`

func (p *Postgres) LookupShortCode(ctx context.Context, code string, now time.Time) (CodeLookup, error) {
	args := map[string]any{"code": code, "now": now}
	db := p.db.WithContext(ctx)

	var active []internal.Link
	err := db.Where("short_code = @code AND "+activeWindowSQL, args).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&active).Error
	if err != nil {
		return CodeLookup{}, translate(err)
	}

	var agg struct {
		Total   int64
		Changes *time.Time
	}
	if err := db.Raw(codeBoundarySQL, args).Scan(&agg).Error; err != nil {
		return CodeLookup{}, translate(err)
	}

	res := CodeLookup{Exists: agg.Total > 0 || len(active) > 0, Changes: agg.Changes}
	if len(active) > 0 {
		res.Link = &active[0]
	}
	return res, nil
}

func (p *Postgres) FindActiveByOwnerAndShortCode(ctx context.Context, ownerID, code string, now time.Time) ([]internal.Link, error) {
	var links []internal.Link
	err := p.db.WithContext(ctx).
		Where("owner_id = @owner AND short_code = @code AND "+activeWindowSQL,
			map[string]any{"owner": ownerID, "code": code, "now": now}).
		Order("created_at DESC, id DESC").
		Find(&links).Error
	return links, translate(err)
}

func (p *Postgres) FindByID(ctx context.Context, id int64) (*internal.Link, error) {
	var l internal.Link
	if err := p.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (p *Postgres) List(ctx context.Context, f LinkFilter) ([]internal.Link, int64, error) {
	query := p.db.WithContext(ctx).Model(&internal.Link{})
	if f.OwnerID != "" {
		query = query.Where("owner_id = ?", f.OwnerID)
	}
	if f.Search != "" {
		query = query.Where("name ILIKE ?", "%"+escapeLike(f.Search)+"%")
	}
	if f.BatchID != nil {
		query = query.Where("batch_id = ?", *f.BatchID)
	}
	if f.Visibility != "" {
		query = query.Where("visibility = ?", f.Visibility)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	switch f.Order {
	case OldestFirst:
		query = query.Order("created_at ASC, id ASC")
	case MostClicked:
		query = query.Order("click_count DESC, created_at DESC, id DESC")
	default:
		query = query.Order("created_at DESC, id DESC")
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var links []internal.Link
	if err := query.Find(&links).Error; err != nil {
		return nil, 0, translate(err)
	}
	return links, total, nil
}

func (p *Postgres) Create(ctx context.Context, l *internal.Link) error {
	return translate(p.db.WithContext(ctx).Create(l).Error)
}

// editableColumns excludes click_count and created_at: an edit must never
// rewind a counter that ingestion advanced concurrently.
var editableColumns = []string{
	"short_code", "name", "redirect_to", "is_paused", "active_from", "active_until",
	"visibility", "password_hash", "use_splash_page", "splash_design", "splash_delay_seconds",
	"brand_company_name", "brand_logo_url", "brand_hero_image_url", "brand_call_to_action", "brand_icon_url",
	"batch_id", "updated_at",
}

func (p *Postgres) Update(ctx context.Context, l *internal.Link) error {
	l.UpdatedAt = time.Now()
	res := p.db.WithContext(ctx).
		Model(&internal.Link{}).
		Where("id = ? AND owner_id = ?", l.ID, l.OwnerID).
		Select(editableColumns).
		Updates(l)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetPaused(ctx context.Context, ownerID string, ids []int64, paused bool) (int64, error) {
	return p.updateOwned(ctx, ownerID, ids, map[string]any{"is_paused": paused})
}

func (p *Postgres) SetBatch(ctx context.Context, ownerID string, ids []int64, batchID *int64) (int64, error) {
	return p.updateOwned(ctx, ownerID, ids, map[string]any{"batch_id": batchID})
}

func (p *Postgres) updateOwned(ctx context.Context, ownerID string, ids []int64, values map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	values["updated_at"] = time.Now()
	res := p.db.WithContext(ctx).
		Model(&internal.Link{}).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Updates(values)
	return res.RowsAffected, translate(res.Error)
}

// Delete removes owned links; their clicks go with them through the
// ON DELETE CASCADE foreign key.
func (p *Postgres) Delete(ctx context.Context, ownerID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := p.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Delete(&internal.Link{})
	return res.RowsAffected, translate(res.Error)
}

func (p *Postgres) IncrementClickCount(ctx context.Context, id int64, delta int64) error {
	res := p.db.WithContext(ctx).
		Model(&internal.Link{}).
		Where("id = ?", id).
		UpdateColumn("click_count", gorm.Expr("click_count + ?", delta))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendClicks(ctx context.Context, clicks []internal.Click) error {
	if len(clicks) == 0 {
		return nil
	}
	return translate(p.db.WithContext(ctx).CreateInBatches(clicks, 100).Error)
}

func (p *Postgres) CreateBatch(ctx context.Context, b *internal.Batch) error {
	return translate(p.db.WithContext(ctx).Create(b).Error)
}

func (p *Postgres) FindBatch(ctx context.Context, ownerID string, id int64) (*internal.Batch, error) {
	var b internal.Batch
	err := p.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&b).Error
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

const activeWindowSQL = "is_paused = false" +
	" AND (active_from IS NULL OR active_from <= @now)" +
	" AND (active_until IS NULL OR active_until >= @now)" +
	" AND NOT (active_from IS NOT NULL AND active_until IS NOT NULL AND active_from > active_until)"

func (p *Postgres) OwnerStats(ctx context.Context, ownerID string, now time.Time) (OwnerStats, error) {
	var s OwnerStats
	db := p.db.WithContext(ctx)
	owned := func(model any) *gorm.DB {
		return db.Model(model).Where("owner_id = ?", ownerID)
	}

	steps := []func() error{
		func() error { return owned(&internal.Batch{}).Count(&s.Batches).Error },
		func() error { return owned(&internal.Link{}).Count(&s.Links).Error },
		func() error { return owned(&internal.Link{}).Where("is_paused = ?", true).Count(&s.PausedLinks).Error },
		func() error {
			return owned(&internal.Link{}).Where("visibility = ?", internal.VisibilityPublic).Count(&s.PublicLinks).Error
		},
		func() error {
			return owned(&internal.Link{}).Where(activeWindowSQL, map[string]any{"now": now}).Count(&s.ActiveLinks).Error
		},
		func() error {
			return owned(&internal.Link{}).Select("COALESCE(SUM(click_count), 0)").Scan(&s.Clicks).Error
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return OwnerStats{}, translate(err)
		}
	}
	return s, nil
}

func (p *Postgres) TopCountries(ctx context.Context, ownerID string, limit int) ([]Bucket, error) {
	return p.topBy(ctx, ownerID, "clicks.country", limit)
}

func (p *Postgres) TopReferrers(ctx context.Context, ownerID string, limit int) ([]Bucket, error) {
	return p.topBy(ctx, ownerID, "clicks.referrer", limit)
}

func (p *Postgres) topBy(ctx context.Context, ownerID, column string, limit int) ([]Bucket, error) {
	query := p.db.WithContext(ctx).
		Table("clicks").
		Select(column+" AS name, COUNT(*) AS clicks").
		Joins("JOIN links ON links.id = clicks.link_id").
		Where("links.owner_id = ? AND "+column+" <> ''", ownerID).
		Group(column).
		Order("clicks DESC, name ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var out []Bucket
	if err := query.Scan(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (p *Postgres) ClicksPerDay(ctx context.Context, ownerID string) ([]DayBucket, error) {
	day := "to_char(date_trunc('day', clicks.clicked_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD')"
	var out []DayBucket
	err := p.db.WithContext(ctx).
		Table("clicks").
		Select(day+" AS day, COUNT(*) AS clicks").
		Joins("JOIN links ON links.id = clicks.link_id").
		Where("links.owner_id = ?", ownerID).
		Group("day").
		Order("day ASC").
		Scan(&out).Error
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
