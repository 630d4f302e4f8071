//go:build unit

package zaplogger_test

import (
	"errors"
	"testing"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/hugolhafner/go-streams-runtime/plugins/zaplogger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_FieldsAndLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zaplogger.New(zap.New(core)).With("component", "thread")

	l.Debug("dropped")
	l.Warn("poll failed", "error", errors.New("boom"), "attempt", 2)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "poll failed", entry.Message)
	require.Equal(t, zapcore.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	require.Equal(t, "thread", fields["component"])
	require.Equal(t, "boom", fields["error"])
	require.EqualValues(t, 2, fields["attempt"])
}

func TestZapLogger_Level(t *testing.T) {
	core, _ := observer.New(zapcore.ErrorLevel)
	l := zaplogger.New(zap.New(core))
	require.Equal(t, logger.ErrorLevel, l.Level())
}

type taskID struct{}

func (taskID) String() string { return "0_3" }

func TestZapLogger_StringersAndOddArguments(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zaplogger.New(zap.New(core))

	l.Info("task created", "task", taskID{}, 7, "seven", "dangling")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "0_3", fields["task"])
	require.Equal(t, "seven", fields["7"])
	require.Equal(t, "dangling", fields["!BADKEY"])
}

func TestLevelMapping(t *testing.T) {
	for _, lvl := range []logger.LogLevel{logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel} {
		require.Equal(t, lvl, zaplogger.FromZapLevel(zaplogger.ToZapLevel(lvl)))
	}
	require.Equal(t, logger.ErrorLevel, zaplogger.FromZapLevel(zapcore.FatalLevel))
}

func TestNewProduction(t *testing.T) {
	l, zl, err := zaplogger.NewProduction(logger.WarnLevel)
	require.NoError(t, err)
	require.NotNil(t, zl)
	require.Equal(t, logger.WarnLevel, l.Level())
}
