package zaplogger

import (
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ logger.Base = (*ZapLogger)(nil)

type ZapLogger struct {
	l *zap.Logger
}

func New(l *zap.Logger) logger.Logger {
	return logger.WrapLogger(&ZapLogger{l: l})
}

// NewProduction builds a JSON zap logger at level. The returned zap logger should be
// synced before exit.
func NewProduction(level logger.LogLevel, opts ...zap.Option) (logger.Logger, *zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ToZapLevel(level))

	zl, err := cfg.Build(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	return New(zl), zl, nil
}

func (z *ZapLogger) Level() logger.LogLevel {
	return FromZapLevel(z.l.Level())
}

func (z *ZapLogger) Log(level logger.LogLevel, msg string, kv ...any) {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}

		switch v := kv[i+1].(type) {
		case error:
			fields = append(fields, zap.NamedError(key, v))
		case fmt.Stringer:
			fields = append(fields, zap.Stringer(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}
	if len(kv)%2 == 1 {
		fields = append(fields, zap.Any("!BADKEY", kv[len(kv)-1]))
	}

	z.l.Log(ToZapLevel(level), msg, fields...)
}

func ToZapLevel(level logger.LogLevel) zapcore.Level {
	switch level {
	case logger.DebugLevel:
		return zap.DebugLevel
	case logger.WarnLevel:
		return zap.WarnLevel
	case logger.ErrorLevel:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// FromZapLevel folds the panic and fatal levels into ErrorLevel
func FromZapLevel(level zapcore.Level) logger.LogLevel {
	switch {
	case level <= zap.DebugLevel:
		return logger.DebugLevel
	case level == zap.InfoLevel:
		return logger.InfoLevel
	case level == zap.WarnLevel:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}
