package redis

import "time"

// Config holds Redis connection parameters. An empty URL means Redis is not
// used and callers fall back to in-process implementations.
type Config struct {
	URL string `env:"REDIS_URL" yaml:"url"` // redis:// or rediss://

	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10" yaml:"pool_size"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2" yaml:"min_idle_conns"`
	MaxIdleTime  time.Duration `env:"REDIS_MAX_IDLE_TIME" envDefault:"10m" yaml:"max_idle_time"`
	MaxLifetime  time.Duration `env:"REDIS_MAX_LIFETIME" envDefault:"30m" yaml:"max_lifetime"`

	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s" yaml:"read_timeout"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s" yaml:"write_timeout"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s" yaml:"dial_timeout"`

	RetryAttempts int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3" yaml:"retry_attempts"`
	RetryInterval time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s" yaml:"retry_interval"`
}

// Enabled reports whether a Redis URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }
