// Package config loads the service configuration from the environment with an
// optional YAML overlay file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/pkg/db"
	"github.com/hybridprotocol/newsletter/pkg/logger"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
	"github.com/hybridprotocol/newsletter/pkg/mailer/resend"
	"github.com/hybridprotocol/newsletter/pkg/redis"
)

var (
	ErrParse        = errors.New("config: failed to parse environment")
	ErrOverlay      = errors.New("config: failed to read overlay file")
	ErrInvalid      = errors.New("config: invalid configuration")
	errNoSender     = errors.New("a sender address is required (EMAIL_FROM or RESEND_FROM_EMAIL)")
	errNoAPIKey     = errors.New("RESEND_API_KEY is required for the resend provider")
	errShortSecret  = errors.New("UNSUBSCRIBE_SECRET must be at least 32 bytes")
	errBadBaseURL   = errors.New("BASE_URL must be an absolute http(s) URL")
	errBadBatchSize = errors.New("NEWSLETTER_BATCH_SIZE must be positive")
)

// HTTPConfig configures the admin and unsubscribe HTTP server.
type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080" yaml:"addr"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
	// AdminToken guards the admin API. Empty disables the admin routes.
	AdminToken string `env:"ADMIN_TOKEN" yaml:"admin_token"`
}

// JobsConfig configures the River workers.
type JobsConfig struct {
	MaxWorkers int    `env:"JOBS_MAX_WORKERS" envDefault:"10" yaml:"max_workers"`
	Queue      string `env:"JOBS_QUEUE" envDefault:"newsletter" yaml:"queue"`
	QueueSize  int    `env:"JOBS_QUEUE_WORKERS" envDefault:"2" yaml:"queue_workers"`
}

// Config is the whole process configuration.
type Config struct {
	Env      string              `env:"APP_ENV" envDefault:"development" yaml:"env"`
	HTTP     HTTPConfig          `yaml:"http"`
	Log      logger.Config       `yaml:"log"`
	DB       db.Config           `yaml:"database"`
	Redis    redis.Config        `yaml:"redis"`
	Jobs     JobsConfig          `yaml:"jobs"`
	Mailer   mailer.Config       `yaml:"mailer"`
	Resend   resend.Config       `yaml:"resend"`
	Dispatch dispatch.Config     `yaml:"dispatch"`
	Links    dispatch.LinkConfig `yaml:"links"`
}

// Load parses the process environment, applies the file named by CONFIG_FILE
// on top of it and validates the result.
func Load() (Config, error) {
	return LoadFrom(environ(), os.ReadFile)
}

// LoadFrom is Load with an explicit environment and file reader.
func LoadFrom(environment map[string]string, readFile func(string) ([]byte, error)) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, errors.Join(ErrParse, err)
	}

	if path := environment["CONFIG_FILE"]; path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, errors.Join(ErrOverlay, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Join(ErrOverlay, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	var errs []error

	if strings.EqualFold(c.Mailer.Provider, "resend") {
		if c.Resend.APIKey == "" {
			errs = append(errs, errNoAPIKey)
		}
		if c.Mailer.From == "" && c.Resend.SenderEmail == "" {
			errs = append(errs, errNoSender)
		}
	}
	if len(c.Links.UnsubscribeSecret) < 32 {
		errs = append(errs, errShortSecret)
	}
	if !strings.HasPrefix(c.Links.BaseURL, "http://") && !strings.HasPrefix(c.Links.BaseURL, "https://") {
		errs = append(errs, errBadBaseURL)
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, errBadBatchSize)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
