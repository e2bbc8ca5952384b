package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cron adapts a zap logger to the cron.Logger interface. Info messages from
// cron are chatty (every wake-up), so they are emitted at debug level.
func Cron(l *zap.Logger) cron.Logger {
	return cronLogger{log: OrNop(l).Named("cron").WithOptions(zap.AddCallerSkip(1))}
}

type cronLogger struct {
	log *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append(kvFields(keysAndValues), zap.Error(err))...)
}

func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields = append(fields, zap.String("extra", key))
			break
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}
