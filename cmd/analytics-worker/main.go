package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rabbitmq/amqp091-go"

	"github.com/MagnunAVF/link-engine/internal/clicks"
	"github.com/MagnunAVF/link-engine/internal/config"
	"github.com/MagnunAVF/link-engine/internal/geo"
	applog "github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/store"
)

type consumer interface {
	Run(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, relying on env vars", "err", err)
	}
	if err := run(); err != nil {
		slog.Error("analytics worker stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, logCloser := applog.Init(applog.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Service:    cfg.Log.Service,
		Env:        cfg.Log.Env,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	if cfg.Database.Driver != "postgres" {
		return errors.New("analytics worker needs DB_DRIVER=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenPostgres(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, applog.NewGormLogger(cfg.Database.GormLogLevel, cfg.Database.SlowQuery))
	if err != nil {
		return err
	}
	defer db.Close()

	var locator geo.Locator = geo.Noop{}
	if cfg.Geo.DBPath != "" {
		mm, err := geo.OpenMaxMind(cfg.Geo.DBPath)
		if err != nil {
			return err
		}
		defer mm.Close()
		cached, err := geo.NewCached(mm, cfg.Geo.CacheEntries, cfg.Geo.CacheTTL)
		if err != nil {
			return err
		}
		defer cached.Close()
		locator = cached
		log.Info("geolocation enabled", "db", cfg.Geo.DBPath)
	}

	ingestor := clicks.NewIngestor(db, locator, cfg.Queue.IngestTimeout)
	consumerCfg := clicks.ConsumerConfig{BatchSize: cfg.Queue.BatchSize, FlushInterval: cfg.Queue.FlushInterval}

	var c consumer
	switch cfg.Queue.Driver {
	case "rabbitmq":
		conn, err := amqp091.Dial(cfg.Queue.RabbitURL)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}
		defer ch.Close()
		if err := clicks.DeclareQueue(ch, cfg.Queue.QueueName); err != nil {
			return err
		}
		c = clicks.NewRabbitConsumer(ch, cfg.Queue.QueueName, ingestor, consumerCfg)

	case "nats":
		nc, err := nats.Connect(cfg.Queue.NATSURL,
			nats.Name("analytics-worker"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		c = clicks.NewNATSConsumer(nc, cfg.Queue.NATSSubject, cfg.Queue.NATSGroup, ingestor, consumerCfg)

	default:
		return fmt.Errorf("QUEUE_DRIVER=%s has no external queue to consume", cfg.Queue.Driver)
	}

	log.Info("analytics worker started, waiting for click jobs",
		"queue", cfg.Queue.Driver, "batch_size", consumerCfg.BatchSize, "flush_interval", consumerCfg.FlushInterval)
	if err := c.Run(ctx); err != nil {
		return err
	}
	log.Info("analytics worker stopped")
	return nil
}
