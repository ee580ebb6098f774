// Package config loads tasklog-api settings.
//
// Settings are applied in order over built-in defaults: an optional YAML
// file named by --config (or TASKLOG_CONFIG), then environment variables,
// then explicitly passed command-line flags. Invalid values are load errors.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Debug enables debug logging, including SQL statements.
	Debug bool `yaml:"debug"`

	// ShutdownTimeout bounds graceful shutdown of the server and the audit
	// forwarder.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Audit    AuditConfig    `yaml:"audit"`

	// Users are upserted at startup. There is no user API.
	Users []UserConfig `yaml:"users"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the list cache and the idempotency deduper. Both
// are disabled when ConnectionString is empty.
type RedisConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	DeduperTTL       time.Duration `yaml:"deduper_ttl"`
}

// AuditConfig configures forwarding of audit entries to an Azure Storage
// queue. Forwarding is disabled when ConnectionString is empty.
type AuditConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	Queue            string        `yaml:"queue"`
	Workers          int           `yaml:"workers"`
	Buffer           int           `yaml:"buffer"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
	HandoffTimeout   time.Duration `yaml:"handoff_timeout"`
}

// UserConfig is one seeded user.
type UserConfig struct {
	ID    int64  `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Default returns the configuration used before any file, environment or
// flag is applied.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		ShutdownTimeout: 10 * time.Second,
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "tasklog.db",
		},
		Redis: RedisConfig{
			CacheTTL:   30 * time.Second,
			DeduperTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Queue:          "task-audit",
			SendTimeout:    30 * time.Second,
			HandoffTimeout: 15 * time.Millisecond,
		},
	}
}

// Load resolves the configuration from args (without the program name) and
// the environment looked up through getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var (
		path   string
		listen string
		debug  bool
	)
	flagSet := pflag.NewFlagSet("tasklog-api", pflag.ContinueOnError)
	flagSet.StringVar(&path, "config", "", "path to a YAML configuration file")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if path == "" {
		path = getenv("TASKLOG_CONFIG")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if flagSet.Changed("listen") {
		cfg.Listen = listen
	}
	if flagSet.Changed("debug") {
		cfg.Debug = debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides settings from environment variables. Unset or empty
// variables leave the current value alone.
func (c *Config) applyEnv(getenv func(string) string) error {
	var errs []error

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q", name, v))
			return
		}
		*dst = b
	}
	duration := func(name string, dst *time.Duration) {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid %s: %q", name, v))
			return
		}
		*dst = d
	}
	integer := func(name string, dst *int) {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("invalid %s: %q", name, v))
			return
		}
		*dst = n
	}

	str("LISTEN_ADDR", &c.Listen)
	if port := strings.TrimSpace(getenv("FUNCTIONS_CUSTOMHANDLER_PORT")); port != "" {
		c.Listen = ":" + port
	}
	boolean("DEBUG", &c.Debug)
	duration("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)

	str("REDIS_CONNECTION_STRING", &c.Redis.ConnectionString)
	duration("CACHE_TTL", &c.Redis.CacheTTL)
	duration("DEDUPER_TTL", &c.Redis.DeduperTTL)

	str("STORAGE_CONNECTION_STRING", &c.Audit.ConnectionString)
	str("AUDIT_QUEUE", &c.Audit.Queue)
	integer("AUDIT_WORKERS", &c.Audit.Workers)
	integer("AUDIT_BUFFER", &c.Audit.Buffer)
	duration("AUDIT_SEND_TIMEOUT", &c.Audit.SendTimeout)
	duration("AUDIT_HANDOFF_TIMEOUT", &c.Audit.HandoffTimeout)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.Redis.CacheTTL < 0 {
		errs = append(errs, errors.New("redis.cache_ttl must not be negative"))
	}
	if c.Redis.ConnectionString != "" && c.Redis.DeduperTTL <= 0 {
		errs = append(errs, errors.New("redis.deduper_ttl must be positive"))
	}
	if c.Audit.ConnectionString != "" && c.Audit.Queue == "" {
		errs = append(errs, errors.New("audit.queue is required when audit forwarding is enabled"))
	}
	if c.Audit.Workers < 0 || c.Audit.Buffer < 0 {
		errs = append(errs, errors.New("audit.workers and audit.buffer must not be negative"))
	}

	seen := make(map[int64]bool, len(c.Users))
	for i, u := range c.Users {
		switch {
		case u.ID <= 0:
			errs = append(errs, fmt.Errorf("users[%d].id must be a positive integer", i))
		case seen[u.ID]:
			errs = append(errs, fmt.Errorf("users[%d].id %d is duplicated", i, u.ID))
		}
		seen[u.ID] = true
		if strings.TrimSpace(u.Name) == "" {
			errs = append(errs, fmt.Errorf("users[%d].name is required", i))
		}
		if len(u.Name) > 100 || len(u.Email) > 255 {
			errs = append(errs, fmt.Errorf("users[%d] name or email is too long", i))
		}
	}

	return errors.Join(errs...)
}
