//go:build unit

package kafka

import (
	"testing"

	"github.com/hugolhafner/go-streams-runtime/logger"
	mocklogger "github.com/hugolhafner/go-streams-runtime/logger/mock"
	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKgoLogger_ForwardsWithClientID(t *testing.T) {
	ml := mocklogger.New()
	kl := newKgoLogger(ml, "app-StreamThread-1-consumer")

	assert.Equal(t, kgo.LogLevelDebug, kl.Level())

	kl.Log(kgo.LogLevelWarn, "metadata update failed", "broker", 1)
	kl.Log(kgo.LogLevelNone, "never logged")

	ml.AssertCalledWithLevelAndMessage(t, logger.WarnLevel, "metadata update failed")
	ml.AssertCalledWithField(t, "metadata update failed", "client_id", "app-StreamThread-1-consumer")
	ml.AssertCalledWithField(t, "metadata update failed", "component", "kgo")
	ml.AssertCalledWithField(t, "metadata update failed", "broker", 1)
	ml.AssertNotCalledWithMessage(t, "never logged")
}

func TestKgoLogger_LevelFollowsLogger(t *testing.T) {
	tests := []struct {
		level    logger.LogLevel
		expected kgo.LogLevel
	}{
		{logger.DebugLevel, kgo.LogLevelDebug},
		{logger.InfoLevel, kgo.LogLevelInfo},
		{logger.WarnLevel, kgo.LogLevelWarn},
		{logger.ErrorLevel, kgo.LogLevelError},
	}

	for _, tt := range tests {
		kl := newKgoLogger(leveled{level: tt.level}, "")
		assert.Equal(t, tt.expected, kl.Level())
	}
}

type leveled struct {
	logger.Logger
	level logger.LogLevel
}

func (l leveled) Level() logger.LogLevel { return l.level }

func (l leveled) With(...any) logger.Logger { return l }
