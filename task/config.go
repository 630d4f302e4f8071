package task

import (
	"time"

	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/logger"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
)

type Config struct {
	// ApplicationID prefixes changelog topic names
	ApplicationID string
	StateDir      string

	ErrorHandler errorhandler.Handler
	Telemetry    *streamsotel.Telemetry
	Logger       logger.Logger

	// MaxBufferedPerPartition is how many records a partition queue holds before the
	// thread pauses fetching from it
	MaxBufferedPerPartition int

	Now func() time.Time
}

type Option func(*Config)

func WithApplicationID(id string) Option {
	return func(c *Config) {
		c.ApplicationID = id
	}
}

func WithStateDir(dir string) Option {
	return func(c *Config) {
		c.StateDir = dir
	}
}

func WithErrorHandler(h errorhandler.Handler) Option {
	return func(c *Config) {
		if h != nil {
			c.ErrorHandler = h
		}
	}
}

func WithTelemetry(t *streamsotel.Telemetry) Option {
	return func(c *Config) {
		if t != nil {
			c.Telemetry = t
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithMaxBufferedPerPartition(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxBufferedPerPartition = n
		}
	}
}

// WithClock replaces time.Now for wall clock punctuation and dead letter timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

func defaultConfig() Config {
	l := logger.NewNoopLogger()
	return Config{
		ApplicationID:           "streams",
		ErrorHandler:            errorhandler.LogAndFail(l),
		Telemetry:               streamsotel.Noop(),
		Logger:                  l,
		MaxBufferedPerPartition: 1000,
		Now:                     time.Now,
	}
}
