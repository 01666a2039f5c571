package clicks

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/metrics"
)

// NATSPublisher publishes jobs on a core NATS subject. Publish only buffers
// in the client, so Enqueue does not block on the server.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Enqueue(job Job) {
	body, err := encodeJob(job)
	if err == nil {
		err = p.conn.Publish(p.subject, body)
	}
	if err != nil {
		metrics.ClickFailed("publish")
		logger.Default().Error("publish click job", "link_id", job.LinkID, "subject", p.subject, "err", err)
	}
}

// NATSConsumer reads the subject as a member of a queue group so several
// workers share the stream. Core NATS has no redelivery: a failed click is
// logged and gone, which keeps counting at most once.
type NATSConsumer struct {
	conn     *nats.Conn
	subject  string
	group    string
	ingester BatchIngester
	cfg      ConsumerConfig
}

func NewNATSConsumer(conn *nats.Conn, subject, group string, ingester BatchIngester, cfg ConsumerConfig) *NATSConsumer {
	return &NATSConsumer{
		conn:     conn,
		subject:  subject,
		group:    group,
		ingester: ingester,
		cfg:      cfg.normalized(),
	}
}

func (c *NATSConsumer) Run(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribeSync(c.subject, c.group)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	msgs := make(chan *nats.Msg, c.cfg.BatchSize)
	var readErr error
	go func() {
		defer close(msgs)
		for {
			msg, err := sub.NextMsgWithContext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					readErr = err
				}
				return
			}
			msgs <- msg
		}
	}()

	logger.FromContext(ctx).Info("consuming click jobs", "subject", c.subject, "group", c.group)
	collect(msgs, c.cfg.BatchSize, c.cfg.FlushInterval, func(batch []*nats.Msg) {
		c.process(ctx, batch)
	})

	if readErr != nil && !errors.Is(readErr, nats.ErrConnectionClosed) {
		return readErr
	}
	return nil
}

func (c *NATSConsumer) process(ctx context.Context, batch []*nats.Msg) {
	log := logger.FromContext(ctx)
	jobs := make([]Job, 0, len(batch))
	for _, msg := range batch {
		job, err := decodeJob(msg.Data)
		if err != nil {
			metrics.ClickDropped("malformed")
			log.Error("dropping malformed click job", "err", err)
			continue
		}
		jobs = append(jobs, job)
	}

	failed := 0
	for _, err := range c.ingester.IngestBatch(ctx, jobs) {
		if err != nil {
			failed++
		}
	}
	log.Info("processed click batch", "received", len(batch), "failed", failed)
}
