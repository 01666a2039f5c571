// Package config reads process configuration from the environment. A .env
// file, when present, is loaded by the mains before Load runs.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Frontend FrontendConfig
	Auth     AuthConfig
	Geo      GeoConfig
	Log      LogConfig
	Links    LinksConfig
}

type ServerConfig struct {
	Addr            string        `env:"API_SERVICE_PORT" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     string        `env:"CORS_ORIGINS" envDefault:"*"`
	// ProxyHeader names the header carrying the client address when the
	// service runs behind a load balancer, e.g. X-Forwarded-For.
	ProxyHeader string `env:"PROXY_HEADER"`
	NodeID          int64         `env:"NODE_ID" envDefault:"1"`
}

type DatabaseConfig struct {
	// Driver is postgres or memory.
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	URL             string        `env:"DB_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	GormLogLevel    string        `env:"GORM_LOG_LEVEL" envDefault:"warn"`
	SlowQuery       time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
}

type RedisConfig struct {
	// Addr empty disables the link cache.
	Addr        string        `env:"REDIS_ADDR"`
	Password    string        `env:"REDIS_PASSWORD"`
	DB          int           `env:"REDIS_DB" envDefault:"0"`
	TTL         time.Duration `env:"LINK_CACHE_TTL" envDefault:"1h"`
	NegativeTTL time.Duration `env:"LINK_CACHE_NEGATIVE_TTL" envDefault:"30s"`
}

type QueueConfig struct {
	// Driver is rabbitmq, nats or memory.
	Driver        string        `env:"QUEUE_DRIVER" envDefault:"rabbitmq"`
	RabbitURL     string        `env:"RABBITMQ_URL"`
	QueueName     string        `env:"CLICK_QUEUE_NAME" envDefault:"clicks"`
	NATSURL       string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSSubject   string        `env:"CLICK_SUBJECT" envDefault:"clicks.resolved"`
	NATSGroup     string        `env:"CLICK_QUEUE_GROUP" envDefault:"analytics-worker"`
	BatchSize     int           `env:"CLICK_BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"CLICK_FLUSH_INTERVAL" envDefault:"2s"`
	Workers       int           `env:"CLICK_WORKERS" envDefault:"4"`
	Buffer        int           `env:"CLICK_BUFFER" envDefault:"10000"`
	IngestTimeout time.Duration `env:"CLICK_INGEST_TIMEOUT" envDefault:"5s"`
}

type FrontendConfig struct {
	BaseURL      string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	SplashPath   string `env:"FRONTEND_SPLASH_PATH" envDefault:"/redirect"`
	UnlockPath   string `env:"FRONTEND_UNLOCK_PATH" envDefault:"/unlock"`
	InactivePath string `env:"FRONTEND_INACTIVE_PATH" envDefault:"/link-inactive"`
	NotFoundPath string `env:"FRONTEND_NOT_FOUND_PATH" envDefault:"/not-found"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER"`
}

type GeoConfig struct {
	// DBPath empty disables geolocation.
	DBPath       string        `env:"GEOIP_DB_PATH"`
	CacheEntries int64         `env:"GEOIP_CACHE_ENTRIES" envDefault:"100000"`
	CacheTTL     time.Duration `env:"GEOIP_CACHE_TTL" envDefault:"24h"`
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"json"`
	Service    string `env:"LOG_SERVICE"`
	Env        string `env:"LOG_ENV"`
	Output     string `env:"LOG_OUTPUT" envDefault:"stdout"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"14"`
}

type LinksConfig struct {
	PublicOwnerID string   `env:"PUBLIC_OWNER_ID"`
	Reserved      []string `env:"RESERVED_SHORT_CODES" envSeparator:","`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DB_URL is required with DB_DRIVER=postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Queue.Driver {
	case "rabbitmq":
		if c.Queue.RabbitURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required with QUEUE_DRIVER=rabbitmq"))
		}
	case "nats", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_DRIVER %q", c.Queue.Driver))
	}
	if c.Queue.BatchSize <= 0 || c.Queue.FlushInterval <= 0 {
		errs = append(errs, errors.New("CLICK_BATCH_SIZE and CLICK_FLUSH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}
