package clicks

import (
	"context"
	"sync"
	"time"

	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/metrics"
)

type DispatcherConfig struct {
	Workers       int
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// Dispatcher is the in-process Queue: a bounded buffer drained by a fixed
// pool of workers. Enqueue never blocks; a full buffer drops the job.
type Dispatcher struct {
	ingester BatchIngester
	cfg      DispatcherConfig
	jobs     chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(ingester BatchIngester, cfg DispatcherConfig) *Dispatcher {
	cfg.Workers = max(1, cfg.Workers)
	cfg.Buffer = max(1, cfg.Buffer)
	cfg.BatchSize = max(1, cfg.BatchSize)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Dispatcher{
		ingester: ingester,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.Buffer),
	}
}

// Start launches the workers. ctx only carries logging values; workers stop
// when Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for w := 0; w < d.cfg.Workers; w++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			collect(d.jobs, d.cfg.BatchSize, d.cfg.FlushInterval, func(batch []Job) {
				d.ingester.IngestBatch(ctx, batch)
			})
		}()
	}
}

func (d *Dispatcher) Enqueue(job Job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.ClickDropped("closed")
		logger.Default().Warn("click dropped: dispatcher closed", "link_id", job.LinkID)
		return
	}
	select {
	case d.jobs <- job:
	default:
		metrics.ClickDropped("queue_full")
		logger.Default().Warn("click dropped: queue full", "link_id", job.LinkID, "buffer", d.cfg.Buffer)
	}
}

// Close stops accepting jobs and waits for the workers to drain the buffer,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
