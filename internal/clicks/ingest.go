package clicks

import (
	"context"
	"time"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/geo"
	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/metrics"
)

const DefaultIngestTimeout = 5 * time.Second

type Store interface {
	AppendClicks(ctx context.Context, clicks []internal.Click) error
	IncrementClickCount(ctx context.Context, id int64, delta int64) error
}

// BatchIngester is what the consumers drive. The returned slice is aligned
// with jobs; a nil entry means that click was stored and counted.
type BatchIngester interface {
	IngestBatch(ctx context.Context, jobs []Job) []error
}

type Ingestor struct {
	store   Store
	geo     geo.Locator
	timeout time.Duration
	now     func() time.Time
}

func NewIngestor(s Store, locator geo.Locator, timeout time.Duration) *Ingestor {
	if locator == nil {
		locator = geo.Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultIngestTimeout
	}
	return &Ingestor{store: s, geo: locator, timeout: timeout, now: time.Now}
}

// Ingest stores a single click. Failures are logged and counted here and are
// never retried.
func (i *Ingestor) Ingest(ctx context.Context, job Job) error {
	return i.IngestBatch(ctx, []Job{job})[0]
}

// IngestBatch writes one click row per job, then adds each link's share of
// the batch to its counter in a single statement. Cancellation of ctx does
// not interrupt ingestion; only the ingest timeout does.
func (i *Ingestor) IngestBatch(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()
	log := logger.FromContext(ctx)

	rows := make([]internal.Click, len(jobs))
	for n, job := range jobs {
		rows[n] = i.toClick(job)
	}

	if err := i.store.AppendClicks(ctx, rows); err != nil {
		if len(rows) == 1 {
			log.Error("click append failed", "link_id", rows[0].LinkID, "err", err)
			metrics.ClickFailed("append")
			errs[0] = err
			return errs
		}
		// One bad row fails the whole insert. Salvage the others.
		log.Warn("click batch append failed, retrying one by one", "count", len(rows), "err", err)
		for n := range rows {
			if err := i.store.AppendClicks(ctx, rows[n:n+1]); err != nil {
				log.Error("click append failed", "link_id", rows[n].LinkID, "err", err)
				metrics.ClickFailed("append")
				errs[n] = err
			}
		}
	}

	counts := make(map[int64]int64)
	for n, row := range rows {
		if errs[n] == nil {
			counts[row.LinkID]++
		}
	}
	for linkID, delta := range counts {
		if err := i.store.IncrementClickCount(ctx, linkID, delta); err != nil {
			log.Error("click count increment failed", "link_id", linkID, "delta", delta, "err", err)
			for n, row := range rows {
				if row.LinkID == linkID && errs[n] == nil {
					metrics.ClickFailed("increment")
					errs[n] = err
				}
			}
		}
	}

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	metrics.ClicksIngested(ok)
	return errs
}

func (i *Ingestor) toClick(job Job) internal.Click {
	at := job.Timestamp
	if at.IsZero() {
		at = i.now()
	}
	return internal.Click{
		LinkID:    job.LinkID,
		ClickedAt: at.UTC(),
		IPAddress: job.IPAddress,
		UserAgent: job.UserAgent,
		Referrer:  job.Referrer,
		Country:   i.country(job.IPAddress),
	}
}

// country is best effort: any failure leaves the click without one.
func (i *Ingestor) country(ip string) string {
	if ip == "" {
		return ""
	}
	country, err := i.geo.Lookup(ip)
	if err != nil {
		logger.Default().Debug("geolocation failed", "ip", ip, "err", err)
		return ""
	}
	return country
}
