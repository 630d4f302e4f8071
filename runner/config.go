package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/logger"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
)

// Config of a single StreamThread
type Config struct {
	// ApplicationID is the consumer group and changelog prefix
	ApplicationID string
	StateDir      string

	PollTimeout    time.Duration
	MaxPollRecords int

	CommitInterval   time.Duration
	CommitMaxRecords int

	// FlushTimeout bounds the wait for acknowledgements in one commit
	FlushTimeout time.Duration
	// ShutdownTimeout bounds the final commit and close, after which the thread closes dirty
	ShutdownTimeout time.Duration
	// SuspendedRetention is how long revoked tasks keep their stores open for a reassignment
	SuspendedRetention time.Duration

	MaxBufferedPerPartition int

	RestoreBatchSize   int
	RestorePollTimeout time.Duration
	RestoreTolerance   int64

	// HealthInterval is how often watermarks are refreshed in the health snapshot
	HealthInterval time.Duration

	Logger           logger.Logger
	ErrorHandler     errorhandler.Handler
	PollErrorBackoff backoff.Backoff
	Telemetry        *streamsotel.Telemetry
	StateListener    StateListener

	Now func() time.Time
}

type Option func(*Config)

func defaultConfig() Config {
	l := logger.NewNoopLogger()
	return Config{
		ApplicationID:           "streams",
		PollTimeout:             100 * time.Millisecond,
		MaxPollRecords:          500,
		CommitInterval:          5 * time.Second,
		CommitMaxRecords:        1000,
		FlushTimeout:            30 * time.Second,
		ShutdownTimeout:         30 * time.Second,
		SuspendedRetention:      time.Minute,
		MaxBufferedPerPartition: 1000,
		RestoreBatchSize:        1000,
		RestorePollTimeout:      10 * time.Millisecond,
		HealthInterval:          10 * time.Second,
		Logger:                  l,
		ErrorHandler:            errorhandler.LogAndFail(l),
		PollErrorBackoff:        backoff.NewFixed(time.Second),
		Telemetry:               streamsotel.Noop(),
		Now:                     time.Now,
	}
}

func WithApplicationID(id string) Option {
	return func(c *Config) {
		if id != "" {
			c.ApplicationID = id
		}
	}
}

func WithStateDir(dir string) Option {
	return func(c *Config) {
		c.StateDir = dir
	}
}

// WithPoll sets how long one batch pull may wait and how many records it returns at most
func WithPoll(timeout time.Duration, maxRecords int) Option {
	return func(c *Config) {
		if timeout >= 0 {
			c.PollTimeout = timeout
		}
		if maxRecords > 0 {
			c.MaxPollRecords = maxRecords
		}
	}
}

// WithCommit commits once interval passed or maxRecords were processed since the last commit
func WithCommit(interval time.Duration, maxRecords int) Option {
	return func(c *Config) {
		if interval > 0 {
			c.CommitInterval = interval
		}
		if maxRecords > 0 {
			c.CommitMaxRecords = maxRecords
		}
	}
}

func WithFlushTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.FlushTimeout = d
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ShutdownTimeout = d
		}
	}
}

func WithSuspendedRetention(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SuspendedRetention = d
		}
	}
}

func WithMaxBufferedPerPartition(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxBufferedPerPartition = n
		}
	}
}

// WithRestore configures changelog replay
func WithRestore(batchSize int, pollTimeout time.Duration, tolerance int64) Option {
	return func(c *Config) {
		if batchSize > 0 {
			c.RestoreBatchSize = batchSize
		}
		if pollTimeout >= 0 {
			c.RestorePollTimeout = pollTimeout
		}
		if tolerance >= 0 {
			c.RestoreTolerance = tolerance
		}
	}
}

func WithHealthInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.HealthInterval = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithErrorHandler sets the handler deciding what happens to records that fail
func WithErrorHandler(h errorhandler.Handler) Option {
	return func(c *Config) {
		if h != nil {
			c.ErrorHandler = h
		}
	}
}

func WithPollErrorBackoff(b backoff.Backoff) Option {
	return func(c *Config) {
		if b != nil {
			c.PollErrorBackoff = b
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

func WithStateListener(l StateListener) Option {
	return func(c *Config) {
		c.StateListener = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}
