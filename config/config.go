package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/searchktools/mini-server/logging"
)

// EnvPrefix prefixes environment overrides, e.g. MINI_PORT or
// MINI_REQUEST_TIMEOUT.
const EnvPrefix = "MINI"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Port            int           `config:"port"`
	ReadTimeout     time.Duration `config:"read.timeout"`
	RequestTimeout  time.Duration `config:"request.timeout"`
	WriteTimeout    time.Duration `config:"write.timeout"`
	MaxRequestBytes int           `config:"max.request.bytes"`
	Env             string        `config:"env"`
	LogLevel        string        `config:"log.level"`
	LogFormat       string        `config:"log.format"`
	StaticDir       string        `config:"static.dir"`
	RedisAddr       string        `config:"redis.addr"`
	RateLimit       int           `config:"rate.limit"`
	CORS            bool          `config:"cors"`

	// ConfigFile is the optional JSON file named by -config.
	ConfigFile string `config:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:            8080,
		ReadTimeout:     25 * time.Second,
		RequestTimeout:  25 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxRequestBytes: 1 << 20,
		Env:             "development",
		LogLevel:        "info",
		LogFormat:       "text",
		StaticDir:       "www",
	}
}

// New loads configuration from the process command line and environment.
func New() (*Config, error) {
	return Load(os.Args[1:], nil)
}

// Load builds the configuration from, in increasing precedence: defaults,
// the JSON file named by -config, MINI_* environment variables and flags
// given in args. A nil environ reads the process environment.
func Load(args []string, environ []string) (*Config, error) {
	// First pass only finds -config
	probe := Default()
	if err := newFlagSet(probe).Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	m := NewManager()
	if probe.ConfigFile != "" {
		if err := m.LoadFromJSON(probe.ConfigFile); err != nil {
			return nil, err
		}
	}
	if environ == nil {
		m.LoadFromEnv(EnvPrefix)
	} else {
		m.LoadFromEnviron(EnvPrefix, environ)
	}
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Flags default to what the file and environment produced, so only
	// flags given explicitly override them
	if err := newFlagSet(cfg).Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("mini-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port (0 picks a free port)")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "time a connection may take to deliver its request")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "time a request may wait for a response")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "time a response write may block")
	fs.IntVar(&cfg.MaxRequestBytes, "max-request-bytes", cfg.MaxRequestBytes, "largest accepted request in bytes")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory served under /www/")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the gamble counter; empty keeps it in memory")
	fs.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "requests per second before 429; 0 disables")
	fs.BoolVar(&cfg.CORS, "cors", cfg.CORS, "add CORS headers and answer preflight requests")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "optional JSON configuration file")

	return fs
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("%w: read timeout must be positive", ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	case c.MaxRequestBytes <= 0:
		return fmt.Errorf("%w: max request bytes must be positive", ErrInvalidConfig)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	case !logging.ValidFormat(c.LogFormat):
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PrintUsage writes the flag reference to w.
func PrintUsage(w io.Writer) {
	fs := newFlagSet(Default())
	fs.SetOutput(w)
	fmt.Fprintln(w, "Usage of mini-server:")
	fs.PrintDefaults()
}
