package streams

import (
	"time"

	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/logger"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
	"github.com/hugolhafner/go-streams-runtime/runner"
)

type Config struct {
	// ApplicationID is the consumer group of every thread and the prefix of changelog topics
	ApplicationID string
	NumThreads    int
	StateDir      string

	PollTimeout    time.Duration
	MaxPollRecords int

	CommitInterval   time.Duration
	CommitMaxRecords int

	FlushTimeout       time.Duration
	ShutdownTimeout    time.Duration
	SuspendedRetention time.Duration

	MaxBufferedPerPartition int

	RestoreBatchSize   int
	RestorePollTimeout time.Duration
	RestoreTolerance   int64

	HealthInterval time.Duration

	// CreateChangelogs creates missing changelog topics before the threads start. Without it
	// Run fails with state.ErrMissingChangelog unless they exist.
	CreateChangelogs  bool
	ReplicationFactor int16

	Logger        logger.Logger
	ErrorHandler  errorhandler.Handler
	Telemetry     *streamsotel.Telemetry
	StateListener runner.StateListener
}

type ConfigOption func(*Config)

func defaultConfig() Config {
	l := logger.NewNoopLogger()
	return Config{
		ApplicationID:           "streams",
		NumThreads:              1,
		StateDir:                "/tmp/go-streams",
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
		CreateChangelogs:        true,
		ReplicationFactor:       -1,
		Logger:                  l,
		ErrorHandler:            errorhandler.LogAndFail(l),
		Telemetry:               streamsotel.Noop(),
	}
}

func WithApplicationID(id string) ConfigOption {
	return func(c *Config) {
		c.ApplicationID = id
	}
}

func WithNumThreads(n int) ConfigOption {
	return func(c *Config) {
		c.NumThreads = n
	}
}

func WithStateDir(dir string) ConfigOption {
	return func(c *Config) {
		c.StateDir = dir
	}
}

func WithPoll(timeout time.Duration, maxRecords int) ConfigOption {
	return func(c *Config) {
		c.PollTimeout = timeout
		c.MaxPollRecords = maxRecords
	}
}

func WithCommit(interval time.Duration, maxRecords int) ConfigOption {
	return func(c *Config) {
		c.CommitInterval = interval
		c.CommitMaxRecords = maxRecords
	}
}

func WithFlushTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.FlushTimeout = d
	}
}

func WithShutdownTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

func WithSuspendedRetention(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.SuspendedRetention = d
	}
}

func WithMaxBufferedPerPartition(n int) ConfigOption {
	return func(c *Config) {
		c.MaxBufferedPerPartition = n
	}
}

func WithRestore(batchSize int, pollTimeout time.Duration, tolerance int64) ConfigOption {
	return func(c *Config) {
		c.RestoreBatchSize = batchSize
		c.RestorePollTimeout = pollTimeout
		c.RestoreTolerance = tolerance
	}
}

func WithHealthInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.HealthInterval = d
	}
}

// WithChangelogCreation controls whether missing changelog topics are created on start.
// A replication factor of -1 uses the broker default.
func WithChangelogCreation(enabled bool, replicationFactor int16) ConfigOption {
	return func(c *Config) {
		c.CreateChangelogs = enabled
		c.ReplicationFactor = replicationFactor
	}
}

func WithLogger(logger logger.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithErrorHandler(h errorhandler.Handler) ConfigOption {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

func WithTelemetry(t *streamsotel.Telemetry) ConfigOption {
	return func(c *Config) {
		c.Telemetry = t
	}
}

func WithStateListener(l runner.StateListener) ConfigOption {
	return func(c *Config) {
		c.StateListener = l
	}
}

// threadOptions renders the per-thread configuration
func (c Config) threadOptions() []runner.Option {
	return []runner.Option{
		runner.WithApplicationID(c.ApplicationID),
		runner.WithStateDir(c.StateDir),
		runner.WithPoll(c.PollTimeout, c.MaxPollRecords),
		runner.WithCommit(c.CommitInterval, c.CommitMaxRecords),
		runner.WithFlushTimeout(c.FlushTimeout),
		runner.WithShutdownTimeout(c.ShutdownTimeout),
		runner.WithSuspendedRetention(c.SuspendedRetention),
		runner.WithMaxBufferedPerPartition(c.MaxBufferedPerPartition),
		runner.WithRestore(c.RestoreBatchSize, c.RestorePollTimeout, c.RestoreTolerance),
		runner.WithHealthInterval(c.HealthInterval),
		runner.WithLogger(c.Logger),
		runner.WithErrorHandler(c.ErrorHandler),
		runner.WithTelemetry(c.Telemetry),
		runner.WithStateListener(c.StateListener),
	}
}
