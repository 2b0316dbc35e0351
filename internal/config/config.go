// Package config loads the bridge configuration once and hands explicit
// structs to each component.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

// Version is set at build time through -ldflags.
var Version = "dev"

// EnvPrefix is prepended to every environment override, e.g. BRIDGE_DSPACE_BASE_URL.
const EnvPrefix = "BRIDGE"

type Config struct {
	DSpace   DSpace
	Search   Search
	Job      Job
	Postgres Postgres
	Redis    Redis
	Server   Server
	Log      Log
}

type DSpace struct {
	BaseURL        string
	Email          string
	Password       string
	VerifySSL      bool
	PageSize       int
	RetryMax       int
	RetryWait      time.Duration
	PolicyDelay    time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Expand         string
	QueryField     string
	QueryOp        string
}

type Search struct {
	Host     string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

type Job struct {
	Workers   int
	Strict    bool
	DryRun    bool
	MaxPages  int
	PagePause time.Duration
	Interval  time.Duration
	LockTTL   time.Duration
	QueueSize int
}

type Postgres struct {
	DSN string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Server struct {
	Port              int
	RequestsPerMinute int
	CacheTTL          time.Duration
	NegativeTTL       time.Duration
	CacheSize         int
}

type Log struct {
	Level  string
	Format string
}

// SetDefaults registers every key with its default so that environment
// overrides are picked up by Unmarshal-free reads.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dspace.base_url", "")
	v.SetDefault("dspace.email", "")
	v.SetDefault("dspace.password", "")
	v.SetDefault("dspace.verify_ssl", true)
	v.SetDefault("dspace.page_size", 50)
	v.SetDefault("dspace.retry_max", 10)
	v.SetDefault("dspace.retry_wait", "5s")
	v.SetDefault("dspace.policy_delay", "125ms")
	v.SetDefault("dspace.request_timeout", "60s")
	v.SetDefault("dspace.max_body_bytes", int64(64<<20))
	v.SetDefault("dspace.expand", "all")
	v.SetDefault("dspace.query_field", "lastModified")
	v.SetDefault("dspace.query_op", "like")

	v.SetDefault("search.host", "")
	v.SetDefault("search.index", "")
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.timeout", "30s")

	v.SetDefault("job.workers", 1)
	v.SetDefault("job.strict", false)
	v.SetDefault("job.dry_run", false)
	v.SetDefault("job.max_pages", 0)
	v.SetDefault("job.page_pause", "0s")
	v.SetDefault("job.interval", "24h")
	v.SetDefault("job.lock_ttl", "6h")
	v.SetDefault("job.queue_size", 4)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.port", 4002)
	v.SetDefault("server.requests_per_minute", 100)
	v.SetDefault("server.cache_ttl", "1h")
	v.SetDefault("server.negative_ttl", "5m")
	v.SetDefault("server.cache_size", 512)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads defaults, then the optional YAML file at path, then BRIDGE_*
// environment variables. A missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with an override applied before validation, used for
// command-line flags.
func LoadWith(path string, override func(*Config)) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return fromViper(v, override)
}

// FromViper builds a validated Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	return fromViper(v, nil)
}

func fromViper(v *viper.Viper, override func(*Config)) (*Config, error) {
	cfg := &Config{
		DSpace: DSpace{
			BaseURL:        strings.TrimRight(v.GetString("dspace.base_url"), "/"),
			Email:          v.GetString("dspace.email"),
			Password:       v.GetString("dspace.password"),
			VerifySSL:      v.GetBool("dspace.verify_ssl"),
			PageSize:       v.GetInt("dspace.page_size"),
			RetryMax:       v.GetInt("dspace.retry_max"),
			RetryWait:      v.GetDuration("dspace.retry_wait"),
			PolicyDelay:    v.GetDuration("dspace.policy_delay"),
			RequestTimeout: v.GetDuration("dspace.request_timeout"),
			MaxBodyBytes:   v.GetInt64("dspace.max_body_bytes"),
			Expand:         v.GetString("dspace.expand"),
			QueryField:     v.GetString("dspace.query_field"),
			QueryOp:        v.GetString("dspace.query_op"),
		},
		Search: Search{
			Host:     strings.TrimRight(v.GetString("search.host"), "/"),
			Index:    v.GetString("search.index"),
			Username: v.GetString("search.username"),
			Password: v.GetString("search.password"),
			Timeout:  v.GetDuration("search.timeout"),
		},
		Job: Job{
			Workers:   v.GetInt("job.workers"),
			Strict:    v.GetBool("job.strict"),
			DryRun:    v.GetBool("job.dry_run"),
			MaxPages:  v.GetInt("job.max_pages"),
			PagePause: v.GetDuration("job.page_pause"),
			Interval:  v.GetDuration("job.interval"),
			LockTTL:   v.GetDuration("job.lock_ttl"),
			QueueSize: v.GetInt("job.queue_size"),
		},
		Postgres: Postgres{DSN: v.GetString("postgres.dsn")},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Server: Server{
			Port:              v.GetInt("server.port"),
			RequestsPerMinute: v.GetInt("server.requests_per_minute"),
			CacheTTL:          v.GetDuration("server.cache_ttl"),
			NegativeTTL:       v.GetDuration("server.negative_ttl"),
			CacheSize:         v.GetInt("server.cache_size"),
		},
		Log: Log{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DSpace.BaseURL == "" {
		errs = append(errs, errors.New("dspace.base_url is required"))
	}
	if c.DSpace.Email == "" {
		errs = append(errs, errors.New("dspace.email is required"))
	}
	if c.DSpace.Password == "" {
		errs = append(errs, errors.New("dspace.password is required"))
	}
	if c.DSpace.PageSize < 1 {
		errs = append(errs, fmt.Errorf("dspace.page_size must be >= 1, got %d", c.DSpace.PageSize))
	}
	if c.DSpace.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("dspace.retry_max must be >= 0, got %d", c.DSpace.RetryMax))
	}
	if !c.Job.DryRun {
		if c.Search.Host == "" {
			errs = append(errs, errors.New("search.host is required unless job.dry_run is set"))
		}
		if c.Search.Index == "" {
			errs = append(errs, errors.New("search.index is required unless job.dry_run is set"))
		}
	}
	if c.Job.Workers < 1 {
		errs = append(errs, fmt.Errorf("job.workers must be >= 1, got %d", c.Job.Workers))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", s)
	}
}

// SetupLogger installs and returns the process logger.
func SetupLogger(cfg Log) *slog.Logger {
	return SetupLoggerTo(os.Stdout, cfg)
}

// SetupLoggerTo is SetupLogger with an explicit writer.
func SetupLoggerTo(w io.Writer, cfg Log) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = humanlog.NewHandler(w, &humanlog.Options{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
