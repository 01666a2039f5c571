package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/MagnunAVF/link-engine/internal"
	"github.com/MagnunAVF/link-engine/internal/admin"
	"github.com/MagnunAVF/link-engine/internal/clicks"
	"github.com/MagnunAVF/link-engine/internal/config"
	"github.com/MagnunAVF/link-engine/internal/geo"
	"github.com/MagnunAVF/link-engine/internal/httpapi"
	"github.com/MagnunAVF/link-engine/internal/link"
	applog "github.com/MagnunAVF/link-engine/internal/logger"
	"github.com/MagnunAVF/link-engine/internal/resolver"
	"github.com/MagnunAVF/link-engine/internal/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		slog.Warn(".env file not found, relying on env vars", "err", err)
	}
	if err := run(); err != nil {
		slog.Error("api service stopped", "err", err)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn("close resource", "err", err)
			}
		}
	}()

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	closers = append(closers, st)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, link lookups fall through to the database", "addr", cfg.Redis.Addr, "err", err)
		}
		st = store.NewCache(st, rdb, cfg.Redis.TTL, cfg.Redis.NegativeTTL)
		log.Info("link cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	queue, shutdownQueue, err := openQueue(ctx, cfg, st, &closers)
	if err != nil {
		return err
	}

	ids, err := internal.NewIDGenerator(cfg.Server.NodeID)
	if err != nil {
		return fmt.Errorf("id generator: %w", err)
	}
	adminCfg := admin.Config{PublicOwnerID: cfg.Links.PublicOwnerID}
	if len(cfg.Links.Reserved) > 0 {
		adminCfg.Reserved = link.NewReserved(cfg.Links.Reserved...)
	}

	h := httpapi.New(httpapi.Options{
		Resolver: resolver.New(st, queue),
		Admin:    admin.NewService(st, ids, adminCfg),
		Auth:     httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Frontend: cfg.Frontend,
		Health:   st.Ping,
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, authoring endpoints reject every request")
	}

	app := httpapi.NewApp(httpapi.AppConfig{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ProxyHeader:  cfg.Server.ProxyHeader,
	})
	h.Register(app)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting api service", "addr", cfg.Server.Addr, "db", cfg.Database.Driver, "queue", cfg.Queue.Driver)
		serveErr <- app.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serveErr:
		shutdownQueue(context.Background())
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down api service")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	shutdownQueue(drainCtx)
	return nil
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		slog.Warn("using the in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(cfg.URL, store.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, applog.NewGormLogger(cfg.GormLogLevel, cfg.SlowQuery))
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		slog.Info("running database migrations")
		if err := pg.Migrate(); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg, nil
}

// openQueue wires the click queue the resolver publishes to. The returned
// func flushes in-flight jobs on shutdown.
func openQueue(ctx context.Context, cfg *config.Config, st store.Store, closers *[]io.Closer) (clicks.Queue, func(context.Context), error) {
	q := cfg.Queue
	switch q.Driver {
	case "rabbitmq":
		conn, err := amqp091.Dial(q.RabbitURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		*closers = append(*closers, conn)
		ch, err := conn.Channel()
		if err != nil {
			return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
		}
		*closers = append(*closers, ch)
		if err := clicks.DeclareQueue(ch, q.QueueName); err != nil {
			return nil, nil, err
		}
		pub := clicks.NewRabbitPublisher(ch, q.QueueName)
		return pub, func(context.Context) { pub.Wait() }, nil

	case "nats":
		nc, err := nats.Connect(q.NATSURL,
			nats.Name("api-service"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		return clicks.NewNATSPublisher(nc, q.NATSSubject), func(context.Context) {
			if err := nc.Drain(); err != nil {
				slog.Warn("drain nats connection", "err", err)
			}
		}, nil

	default:
		locator, closeGeo, err := openLocator(cfg.Geo)
		if err != nil {
			return nil, nil, err
		}
		d := clicks.NewDispatcher(clicks.NewIngestor(st, locator, q.IngestTimeout), clicks.DispatcherConfig{
			Workers:       q.Workers,
			Buffer:        q.Buffer,
			BatchSize:     q.BatchSize,
			FlushInterval: q.FlushInterval,
		})
		d.Start(ctx)
		return d, func(ctx context.Context) {
			if err := d.Close(ctx); err != nil {
				slog.Warn("click dispatcher did not drain", "err", err)
			}
			closeGeo()
		}, nil
	}
}

func openLocator(cfg config.GeoConfig) (geo.Locator, func(), error) {
	if cfg.DBPath == "" {
		return geo.Noop{}, func() {}, nil
	}
	mm, err := geo.OpenMaxMind(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cached, err := geo.NewCached(mm, cfg.CacheEntries, cfg.CacheTTL)
	if err != nil {
		_ = mm.Close()
		return nil, nil, err
	}
	return cached, func() {
		cached.Close()
		if err := mm.Close(); err != nil {
			slog.Warn("close geoip database", "err", err)
		}
	}, nil
}
