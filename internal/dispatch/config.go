package dispatch

import "time"

// Config holds the bulk send policy.
type Config struct {
	// BatchSize is used when a trigger passes zero or a negative size.
	BatchSize int `env:"NEWSLETTER_BATCH_SIZE" envDefault:"500" yaml:"batch_size"`
	// BatchDelay is slept between consecutive batches, never after the last.
	BatchDelay time.Duration `env:"NEWSLETTER_BATCH_DELAY" envDefault:"500ms" yaml:"batch_delay"`

	MaxRetries   int           `env:"NEWSLETTER_MAX_RETRIES" envDefault:"3" yaml:"max_retries"`
	RetryBackoff time.Duration `env:"NEWSLETTER_RETRY_BACKOFF" envDefault:"30s" yaml:"retry_backoff"`

	// RateLimit paces provider calls in messages per second; zero disables pacing.
	RateLimit float64 `env:"NEWSLETTER_RATE_LIMIT" envDefault:"0" yaml:"rate_limit"`

	// LockTTL bounds how long a crashed worker blocks its send key. The lock
	// is refreshed after every batch.
	LockTTL time.Duration `env:"NEWSLETTER_LOCK_TTL" envDefault:"10m" yaml:"lock_ttl"`
	// ProgressTTL is how long progress snapshots are kept.
	ProgressTTL time.Duration `env:"NEWSLETTER_PROGRESS_TTL" envDefault:"72h" yaml:"progress_ttl"`

	TestSubjectPrefix string `env:"NEWSLETTER_TEST_SUBJECT_PREFIX" envDefault:"[TEST] " yaml:"test_subject_prefix"`
}

// DefaultConfig returns the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BatchSize:         500,
		BatchDelay:        500 * time.Millisecond,
		MaxRetries:        3,
		RetryBackoff:      30 * time.Second,
		LockTTL:           10 * time.Minute,
		ProgressTTL:       72 * time.Hour,
		TestSubjectPrefix: "[TEST] ",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.ProgressTTL <= 0 {
		c.ProgressTTL = d.ProgressTTL
	}
	return c
}

// LinkConfig configures the links embedded in every message.
type LinkConfig struct {
	// BaseURL is the public origin of this service; unsubscribe links point here.
	BaseURL string `env:"BASE_URL,required" yaml:"base_url"`
	// PublicFrontendURL hosts the web version of each issue. Empty disables view links.
	PublicFrontendURL string `env:"PUBLIC_FRONTEND_URL" yaml:"public_frontend_url"`
	ViewPath          string `env:"NEWSLETTER_VIEW_PATH" envDefault:"newsletter" yaml:"view_path"`
	// UnsubscribeSecret signs unsubscribe tokens (32+ bytes).
	UnsubscribeSecret string `env:"UNSUBSCRIBE_SECRET,required" yaml:"unsubscribe_secret"`
}
