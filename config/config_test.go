//go:build unit

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/hugolhafner/go-streams-runtime/config"
	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
application_id: wordcount
brokers:
  - localhost:9092
num_threads: 3
state_dir: /var/lib/wordcount
poll:
  timeout: 50ms
  max_records: 200
commit:
  interval: 2s
  max_records: 500
restore:
  batch_size: 250
  poll_timeout: 5ms
  tolerance: 10
changelogs:
  create: false
error_handler:
  policy: log_and_continue
  dlq_topic: wordcount-dlq
log_level: debug
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func apply(opts []streams.ConfigOption) streams.Config {
	var cfg streams.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "wordcount", cfg.ApplicationID)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 50*time.Millisecond, cfg.Poll.Timeout)
	assert.Equal(t, int64(10), cfg.Restore.Tolerance)
	assert.Equal(t, "debug", cfg.LogLevel)

	app := apply(cfg.Options(logger.NewNoopLogger()))
	assert.Equal(t, "wordcount", app.ApplicationID)
	assert.Equal(t, 3, app.NumThreads)
	assert.Equal(t, "/var/lib/wordcount", app.StateDir)
	assert.Equal(t, 200, app.MaxPollRecords)
	assert.Equal(t, 2*time.Second, app.CommitInterval)
	assert.Equal(t, 250, app.RestoreBatchSize)
	assert.False(t, app.CreateChangelogs)
	assert.Equal(t, int16(-1), app.ReplicationFactor)
	require.NotNil(t, app.ErrorHandler)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, sample)
	t.Setenv("STREAMS__NUM_THREADS", "5")
	t.Setenv("STREAMS__COMMIT__INTERVAL", "250ms")
	t.Setenv("STREAMS__BROKERS", "a:9092,b:9092")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.NumThreads)
	assert.Equal(t, 250*time.Millisecond, cfg.Commit.Interval)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
	assert.Equal(t, "wordcount", cfg.ApplicationID)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("STREAMS__APPLICATION_ID", "from-env")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ApplicationID)
	assert.Equal(t, "log_and_fail", cfg.ErrorHandler.Policy)

	// unset values keep application defaults
	app := apply(cfg.Options(nil))
	assert.Zero(t, app.NumThreads)
	assert.Zero(t, app.CommitInterval)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := config.LoadWithDefaults(
		writeFile(t, "num_threads: 2\n"), map[string]any{"application_id": "fallback", "num_threads": 1},
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.ApplicationID)
	assert.Equal(t, 2, cfg.NumThreads)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(writeFile(t, "num_threads: 2\nerror_handler:\n  policy: retry_forever\n"))
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "application_id is required")
	assert.Contains(t, err.Error(), "retry_forever")
}

func TestConfig_ErrorHandlerPolicies(t *testing.T) {
	cfg := config.Config{
		ApplicationID: "app",
		ErrorHandler:  config.ErrorHandlerConfig{Policy: "log_and_fail", MaxAttempts: 3, Backoff: time.Millisecond},
	}

	h := apply(cfg.Options(logger.NewNoopLogger())).ErrorHandler
	require.NotNil(t, h)

	ec := errorhandler.ErrorContext{Attempt: 1}
	assert.Equal(t, errorhandler.ActionTypeRetry, h.Handle(t.Context(), ec).Type())

	ec.Attempt = 3
	assert.Equal(t, errorhandler.ActionTypeFail, h.Handle(t.Context(), ec).Type())
}

func TestParseLevel(t *testing.T) {
	lvl, err := config.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, lvl)

	_, err = config.ParseLevel("verbose")
	require.Error(t, err)
}

func TestConfig_PhaseOverrides(t *testing.T) {
	cfg, err := config.LoadWithDefaults(
		writeFile(t, "error_handler:\n  policy: log_and_fail\n  phases:\n    serde: log_and_continue\n"),
		map[string]any{"application_id": "app"},
	)
	require.NoError(t, err)

	h := apply(cfg.Options(logger.NewNoopLogger())).ErrorHandler

	serdeFailure := errorhandler.ErrorContext{Attempt: 1, Phase: errorhandler.PhaseSerde}
	assert.Equal(t, errorhandler.ActionTypeContinue, h.Handle(t.Context(), serdeFailure).Type())

	processingFailure := errorhandler.ErrorContext{Attempt: 1, Phase: errorhandler.PhaseProcessing}
	assert.Equal(t, errorhandler.ActionTypeFail, h.Handle(t.Context(), processingFailure).Type())

	_, err = config.LoadWithDefaults(
		writeFile(t, "error_handler:\n  phases:\n    punctuation: log_and_continue\n"),
		map[string]any{"application_id": "app"},
	)
	require.ErrorIs(t, err, config.ErrInvalid)
}
