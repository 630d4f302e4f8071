package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix selects the environment variables merged over the file. Nested keys are joined
// with a double underscore, STREAMS__COMMIT__INTERVAL sets commit.interval.
const EnvPrefix = "STREAMS__"

var ErrInvalid = errors.New("invalid configuration")

type PollConfig struct {
	Timeout    time.Duration `koanf:"timeout"`
	MaxRecords int           `koanf:"max_records"`
}

type CommitConfig struct {
	Interval   time.Duration `koanf:"interval"`
	MaxRecords int           `koanf:"max_records"`
}

type RestoreConfig struct {
	BatchSize   int           `koanf:"batch_size"`
	PollTimeout time.Duration `koanf:"poll_timeout"`
	Tolerance   int64         `koanf:"tolerance"`
}

type ChangelogConfig struct {
	Create            *bool `koanf:"create"`
	ReplicationFactor int16 `koanf:"replication_factor"`
}

type ErrorHandlerConfig struct {
	// Policy is log_and_fail (default) or log_and_continue
	Policy      string        `koanf:"policy"`
	MaxAttempts int           `koanf:"max_attempts"`
	Backoff     time.Duration `koanf:"backoff"`
	// DLQTopic receives records the policy would skip
	DLQTopic string `koanf:"dlq_topic"`
	// Phases overrides the policy for failures of one phase, keyed serde, processing or production
	Phases map[string]string `koanf:"phases"`
}

type Config struct {
	ApplicationID string   `koanf:"application_id"`
	Brokers       []string `koanf:"brokers"`
	NumThreads    int      `koanf:"num_threads"`
	StateDir      string   `koanf:"state_dir"`
	LogLevel      string   `koanf:"log_level"`

	Poll    PollConfig    `koanf:"poll"`
	Commit  CommitConfig  `koanf:"commit"`
	Restore RestoreConfig `koanf:"restore"`

	FlushTimeout            time.Duration `koanf:"flush_timeout"`
	ShutdownTimeout         time.Duration `koanf:"shutdown_timeout"`
	SuspendedRetention      time.Duration `koanf:"suspended_retention"`
	MaxBufferedPerPartition int           `koanf:"max_buffered_per_partition"`
	HealthInterval          time.Duration `koanf:"health_interval"`

	Changelogs   ChangelogConfig    `koanf:"changelogs"`
	ErrorHandler ErrorHandlerConfig `koanf:"error_handler"`
}

// Load merges the YAML file at path, if it exists, with EnvPrefix environment variables
func Load(path string) (Config, error) {
	return LoadWithDefaults(path, nil)
}

// LoadWithDefaults is Load with values used when neither the file nor the environment set
// them. Keys are dot separated, "commit.interval".
func LoadWithDefaults(path string, defaults map[string]any) (Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return Config{}, fmt.Errorf("default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	err := k.Load(
		env.Provider(
			EnvPrefix, ".", func(s string) string {
				return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
			},
		), nil,
	)
	if err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.ErrorHandler.Policy == "" {
		c.ErrorHandler.Policy = "log_and_fail"
	}
	if c.ErrorHandler.MaxAttempts > 1 && c.ErrorHandler.Backoff == 0 {
		c.ErrorHandler.Backoff = time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c Config) Validate() error {
	var problems []string
	if c.ApplicationID == "" {
		problems = append(problems, "application_id is required")
	}
	if c.NumThreads < 0 {
		problems = append(problems, fmt.Sprintf("num_threads must not be negative, got %d", c.NumThreads))
	}
	if !knownPolicy(c.ErrorHandler.Policy) {
		problems = append(problems, fmt.Sprintf("unknown error_handler.policy %q", c.ErrorHandler.Policy))
	}
	for phase, policy := range c.ErrorHandler.Phases {
		if _, ok := errorhandler.ParsePhase(phase); !ok {
			problems = append(problems, fmt.Sprintf("unknown error_handler.phases key %q", phase))
		}
		if !knownPolicy(policy) {
			problems = append(problems, fmt.Sprintf("unknown error_handler.phases.%s policy %q", phase, policy))
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func ParseLevel(s string) (logger.LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logger.DebugLevel, nil
	case "info", "":
		return logger.InfoLevel, nil
	case "warn", "warning":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return logger.InfoLevel, fmt.Errorf("unknown log_level %q", s)
	}
}

// Options renders the configuration as application options. Unset values keep the
// application defaults.
func (c Config) Options(l logger.Logger) []streams.ConfigOption {
	if l == nil {
		l = logger.NewNoopLogger()
	}

	opts := []streams.ConfigOption{
		streams.WithApplicationID(c.ApplicationID),
		streams.WithLogger(l),
		streams.WithErrorHandler(c.errorHandler(l)),
	}

	if c.NumThreads > 0 {
		opts = append(opts, streams.WithNumThreads(c.NumThreads))
	}
	if c.StateDir != "" {
		opts = append(opts, streams.WithStateDir(c.StateDir))
	}
	if c.Poll.Timeout > 0 && c.Poll.MaxRecords > 0 {
		opts = append(opts, streams.WithPoll(c.Poll.Timeout, c.Poll.MaxRecords))
	}
	if c.Commit.Interval > 0 && c.Commit.MaxRecords > 0 {
		opts = append(opts, streams.WithCommit(c.Commit.Interval, c.Commit.MaxRecords))
	}
	if c.Restore.BatchSize > 0 {
		opts = append(opts, streams.WithRestore(c.Restore.BatchSize, c.Restore.PollTimeout, c.Restore.Tolerance))
	}
	if c.FlushTimeout > 0 {
		opts = append(opts, streams.WithFlushTimeout(c.FlushTimeout))
	}
	if c.ShutdownTimeout > 0 {
		opts = append(opts, streams.WithShutdownTimeout(c.ShutdownTimeout))
	}
	if c.SuspendedRetention > 0 {
		opts = append(opts, streams.WithSuspendedRetention(c.SuspendedRetention))
	}
	if c.MaxBufferedPerPartition > 0 {
		opts = append(opts, streams.WithMaxBufferedPerPartition(c.MaxBufferedPerPartition))
	}
	if c.HealthInterval > 0 {
		opts = append(opts, streams.WithHealthInterval(c.HealthInterval))
	}
	if c.Changelogs.Create != nil || c.Changelogs.ReplicationFactor != 0 {
		create := c.Changelogs.Create == nil || *c.Changelogs.Create
		rf := c.Changelogs.ReplicationFactor
		if rf == 0 {
			rf = -1
		}
		opts = append(opts, streams.WithChangelogCreation(create, rf))
	}

	return opts
}

func knownPolicy(name string) bool {
	return name == "log_and_fail" || name == "log_and_continue"
}

func policyHandler(name string, l logger.Logger) errorhandler.Handler {
	if name == "log_and_continue" {
		return errorhandler.LogAndContinue(l)
	}
	return errorhandler.LogAndFail(l)
}

func (c Config) errorHandler(l logger.Logger) errorhandler.Handler {
	h := policyHandler(c.ErrorHandler.Policy, l)

	if c.ErrorHandler.DLQTopic != "" {
		h = errorhandler.WithDLQ(c.ErrorHandler.DLQTopic, errorhandler.LogAndContinue(l))
	}
	if len(c.ErrorHandler.Phases) > 0 {
		routes := make([]errorhandler.RouteOption, 0, len(c.ErrorHandler.Phases))
		for name, policy := range c.ErrorHandler.Phases {
			phase, _ := errorhandler.ParsePhase(name)
			routes = append(routes, errorhandler.OnPhase(phase, policyHandler(policy, l)))
		}
		h = errorhandler.ByPhase(h, routes...)
	}
	if c.ErrorHandler.MaxAttempts > 1 {
		h = errorhandler.WithMaxAttempts(c.ErrorHandler.MaxAttempts, backoff.NewFixed(c.ErrorHandler.Backoff), h)
	}
	return h
}
