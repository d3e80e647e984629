package client

import (
	"errors"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the SDK's tunable settings. Every field has an environment
// binding so hosts can configure the SDK without code changes; functional
// options override whatever the environment provided.
type Config struct {
	APIURL          string        `env:"FLAGKIT_API_URL" envDefault:"https://api.flagkit.dev/v1"`
	EventsURL       string        `env:"FLAGKIT_EVENTS_URL"`
	InitTimeout     time.Duration `env:"FLAGKIT_INIT_TIMEOUT" envDefault:"3s"`
	MaxRetries      int           `env:"FLAGKIT_MAX_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"FLAGKIT_RETRY_BACKOFF" envDefault:"1s"`
	CacheLimit      int           `env:"FLAGKIT_CACHE_LIMIT" envDefault:"10"`
	FlushInterval   time.Duration `env:"FLAGKIT_FLUSH_INTERVAL" envDefault:"10s"`
	FlushThreshold  int           `env:"FLAGKIT_FLUSH_THRESHOLD" envDefault:"100"`
	DedupeWindow    time.Duration `env:"FLAGKIT_DEDUPE_WINDOW" envDefault:"10m"`
	MaxQueuedEvents int           `env:"FLAGKIT_MAX_QUEUED_EVENTS" envDefault:"1000"`
	MaxBatchAge     time.Duration `env:"FLAGKIT_MAX_BATCH_AGE" envDefault:"72h"`
	Debug           bool          `env:"FLAGKIT_DEBUG" envDefault:"false"`
	LogFormat       string        `env:"FLAGKIT_LOG_FORMAT" envDefault:"json"`
}

var dotenvOnce sync.Once

// loadConfig parses the environment into a Config. A missing .env file is
// fine; a value that fails to parse is a configuration error and surfaces to
// the caller of New.
func loadConfig() (Config, error) {
	dotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalidConfiguration, err)
	}
	return cfg, nil
}
