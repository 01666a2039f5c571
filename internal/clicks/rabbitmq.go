package clicks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/metrics"
)

const publishTimeout = 5 * time.Second

// DeclareQueue declares the durable click queue. Both the API and the worker
// call it so either may start first.
func DeclareQueue(ch *amqp091.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	return err
}

// RabbitPublisher publishes each job from its own goroutine so the redirect
// never waits on the broker.
type RabbitPublisher struct {
	ch    *amqp091.Channel
	queue string
	wg    sync.WaitGroup
}

func NewRabbitPublisher(ch *amqp091.Channel, queue string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, queue: queue}
}

func (p *RabbitPublisher) Enqueue(job Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.publish(job)
	}()
}

func (p *RabbitPublisher) publish(job Job) {
	log := logger.Default()
	body, err := encodeJob(job)
	if err != nil {
		metrics.ClickFailed("publish")
		log.Error("encode click job", "link_id", job.LinkID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = p.ch.PublishWithContext(ctx,
		"", p.queue, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    job.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		metrics.ClickFailed("publish")
		log.Error("publish click job", "link_id", job.LinkID, "queue", p.queue, "err", err)
	}
}

// Wait blocks until in-flight publishes finish.
func (p *RabbitPublisher) Wait() {
	p.wg.Wait()
}

type ConsumerConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c ConsumerConfig) normalized() ConsumerConfig {
	c.BatchSize = max(1, c.BatchSize)
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	return c
}

// RabbitConsumer drains the click queue in batches. A delivery is acked once
// its click is stored and counted; anything else is rejected without requeue
// so a click is never counted twice.
type RabbitConsumer struct {
	ch       *amqp091.Channel
	queue    string
	tag      string
	ingester BatchIngester
	cfg      ConsumerConfig
}

func NewRabbitConsumer(ch *amqp091.Channel, queue string, ingester BatchIngester, cfg ConsumerConfig) *RabbitConsumer {
	return &RabbitConsumer{
		ch:       ch,
		queue:    queue,
		tag:      "analytics-worker",
		ingester: ingester,
		cfg:      cfg.normalized(),
	}
}

// Run consumes until ctx ends or the broker closes the channel. Batches
// already received are flushed before it returns.
func (c *RabbitConsumer) Run(ctx context.Context) error {
	// Prefetch one batch at a time.
	if err := c.ch.Qos(c.cfg.BatchSize, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.ch.Cancel(c.tag, false); err != nil {
				logger.FromContext(ctx).Warn("cancel consumer", "err", err)
			}
		case <-finished:
		}
	}()

	logger.FromContext(ctx).Info("consuming click jobs", "queue", c.queue, "batch_size", c.cfg.BatchSize)
	collect(msgs, c.cfg.BatchSize, c.cfg.FlushInterval, func(batch []amqp091.Delivery) {
		c.process(ctx, batch)
	})

	if ctx.Err() != nil {
		return nil
	}
	return errors.New("rabbitmq delivery channel closed")
}

func (c *RabbitConsumer) process(ctx context.Context, deliveries []amqp091.Delivery) {
	log := logger.FromContext(ctx)
	jobs := make([]Job, 0, len(deliveries))
	kept := make([]amqp091.Delivery, 0, len(deliveries))
	for _, d := range deliveries {
		job, err := decodeJob(d.Body)
		if err != nil {
			metrics.ClickDropped("malformed")
			log.Error("rejecting malformed click job", "err", err)
			_ = d.Reject(false)
			continue
		}
		jobs = append(jobs, job)
		kept = append(kept, d)
	}

	errs := c.ingester.IngestBatch(ctx, jobs)
	acked := 0
	for n, d := range kept {
		if errs[n] != nil {
			_ = d.Reject(false)
			continue
		}
		if err := d.Ack(false); err != nil {
			log.Warn("ack click job", "err", err)
			continue
		}
		acked++
	}
	log.Info("processed click batch", "received", len(deliveries), "acked", acked)
}
