package kafka

import (
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ kgo.Logger = (*kgoLogger)(nil)

// kgoLogger forwards franz-go client logs, tagged with the client id
type kgoLogger struct {
	l logger.Logger
}

func newKgoLogger(l logger.Logger, clientID string) *kgoLogger {
	l = l.With("component", "kgo")
	if clientID != "" {
		l = l.With("client_id", clientID)
	}
	return &kgoLogger{l: l}
}

var (
	toKgoLevel = map[logger.LogLevel]kgo.LogLevel{
		logger.DebugLevel: kgo.LogLevelDebug,
		logger.InfoLevel:  kgo.LogLevelInfo,
		logger.WarnLevel:  kgo.LogLevelWarn,
		logger.ErrorLevel: kgo.LogLevelError,
	}
	fromKgoLevel = map[kgo.LogLevel]logger.LogLevel{
		kgo.LogLevelDebug: logger.DebugLevel,
		kgo.LogLevelInfo:  logger.InfoLevel,
		kgo.LogLevelWarn:  logger.WarnLevel,
		kgo.LogLevelError: logger.ErrorLevel,
	}
)

func (kl *kgoLogger) Level() kgo.LogLevel {
	if lvl, ok := toKgoLevel[kl.l.Level()]; ok {
		return lvl
	}
	return kgo.LogLevelWarn
}

func (kl *kgoLogger) Log(level kgo.LogLevel, msg string, kv ...any) {
	lvl, ok := fromKgoLevel[level]
	if !ok {
		return
	}
	kl.l.Log(lvl, msg, kv...)
}
