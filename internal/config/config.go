// Package config loads handler configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Error reports a missing or invalid configuration value. It is always fatal.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "configuration: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

type Common struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AWSRegion   string `env:"AWS_REGION"`
	AWSEndpoint string `env:"AWS_ENDPOINT_URL"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

type Dedup struct {
	Type        string        `env:"DEDUP_TYPE" envDefault:"none"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisAddr   string        `env:"REDIS_ADDR"`
	TTL         time.Duration `env:"DEDUP_TTL" envDefault:"168h"`
}

func (d Dedup) Validate() error {
	switch d.Type {
	case "none", "memory":
	case "postgres":
		if d.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DEDUP_TYPE=postgres")
		}
	case "redis":
		if d.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when DEDUP_TYPE=redis")
		}
	default:
		return fmt.Errorf("invalid DEDUP_TYPE %q", d.Type)
	}
	return nil
}

// Scraper configures the workout scraper: it consumes scrape requests from
// the link queue and dead-letters URLs that could not be scraped.
type Scraper struct {
	Common
	Dedup

	SourceQueueURL     string        `env:"MAIN_QUEUE,notEmpty"`
	DeadLetterQueueURL string        `env:"DEADLETTER_QUEUE_URL,notEmpty"`
	Bucket             string        `env:"BUCKET,notEmpty"`
	Concurrency        int           `env:"SCRAPE_CONCURRENCY" envDefault:"10"`
	RateLimit          float64       `env:"SCRAPE_RATE_LIMIT" envDefault:"0"`
	RequestTimeout     time.Duration `env:"SCRAPE_TIMEOUT" envDefault:"15s"`
	ReconcileReserve   time.Duration `env:"RECONCILE_RESERVE" envDefault:"5s"`
}

func (c Scraper) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("SCRAPE_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("SCRAPE_RATE_LIMIT must not be negative, got %v", c.RateLimit)
	}
	return c.Dedup.Validate()
}

// Trigger configures the handler that moves workout links from the link
// files in the bucket onto the link queue.
type Trigger struct {
	Common

	TriggerQueueURL    string `env:"WORKOUT_SCRAPE_TRIGGER_QUEUE_URL,notEmpty"`
	LinkQueueURL       string `env:"WORKOUTLINK_QUEUE_URL,notEmpty"`
	Bucket             string `env:"BUCKET,notEmpty"`
	Gender             string `env:"GENDER,notEmpty"`
	Concurrency        int    `env:"SCRAPE_CONCURRENCY" envDefault:"10"`
	MaxItemsPerMessage int    `env:"MAX_ITEMS_PER_MESSAGE" envDefault:"100"`
}

func (c Trigger) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("SCRAPE_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	if c.MaxItemsPerMessage < 1 {
		return fmt.Errorf("MAX_ITEMS_PER_MESSAGE must be positive, got %d", c.MaxItemsPerMessage)
	}
	return nil
}

type Cron struct {
	Common

	TriggerQueueURL    string `env:"WORKOUT_SCRAPE_TRIGGER_QUEUE_URL,notEmpty"`
	ItemsPerMessage    int    `env:"ITEMS_PER_MESSAGE,notEmpty"`
	MaxItemsPerMessage int    `env:"MAX_ITEMS_PER_MESSAGE" envDefault:"100"`
}

func (c Cron) Validate() error {
	if c.ItemsPerMessage < 1 || c.ItemsPerMessage > c.MaxItemsPerMessage {
		return fmt.Errorf("ITEMS_PER_MESSAGE must be between 1 and %d, got %d", c.MaxItemsPerMessage, c.ItemsPerMessage)
	}
	return nil
}

type TransformTrigger struct {
	Common

	TransformQueueURL string `env:"WORKOUT_FILE_TRANSFORM_QUEUE_URL,notEmpty"`
	Bucket            string `env:"BUCKET,notEmpty"`
	Limit             int    `env:"TRANSFORM_LIMIT" envDefault:"10"`
	ScrapedPrefix     string `env:"SCRAPED_PREFIX" envDefault:"workout-data"`
	TransformedPrefix string `env:"TRANSFORMED_PREFIX" envDefault:"transformed/workout-data"`
}

func (c TransformTrigger) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("TRANSFORM_LIMIT must be positive, got %d", c.Limit)
	}
	return nil
}

// Transformer configures the file transformer. The dead-letter queue is
// optional: without one, failed files stay on the source queue and are
// redelivered until the queue's redrive policy moves them.
type Transformer struct {
	Common

	SourceQueueURL     string        `env:"WORKOUT_FILE_TRANSFORM_QUEUE_URL,notEmpty"`
	DeadLetterQueueURL string        `env:"TRANSFORM_DEADLETTER_QUEUE_URL"`
	Bucket             string        `env:"BUCKET,notEmpty"`
	Concurrency        int           `env:"TRANSFORM_CONCURRENCY" envDefault:"4"`
	ReconcileReserve   time.Duration `env:"RECONCILE_RESERVE" envDefault:"5s"`
}

func (c Transformer) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("TRANSFORM_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	return nil
}

// Load parses T from the process environment and validates it.
func Load[T any]() (T, error) {
	return load[T](env.Options{})
}

// LoadFrom is Load against an explicit environment instead of os.Environ.
func LoadFrom[T any](environ map[string]string) (T, error) {
	return load[T](env.Options{Environment: environ})
}

func load[T any](opts env.Options) (T, error) {
	var c T
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return c, &Error{Err: err}
	}
	if v, ok := any(c).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return c, &Error{Err: err}
		}
	}
	return c, nil
}
