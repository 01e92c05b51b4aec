package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	defaultLogger   = logrus.StandardLogger().WithField("go.version", runtime.Version())
	defaultLoggerMu sync.RWMutex
)

// Logger is the leveled logging surface used throughout the registry. It is
// satisfied by *logrus.Entry.
type Logger interface {
	Print(args ...any)
	Printf(format string, args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)

	Info(args ...any)
	Infof(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)

	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
}

type loggerKey struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLoggerWithField returns a logger with an additional field without
// storing it on the context. Extra keys are resolved from ctx.
func GetLoggerWithField(ctx context.Context, key, value any, keys ...any) Logger {
	return entry(ctx, keys...).WithField(fmt.Sprint(key), value)
}

// GetLoggerWithFields is GetLoggerWithField for several fields at once.
func GetLoggerWithFields(ctx context.Context, fields map[any]any, keys ...any) Logger {
	lfields := make(logrus.Fields, len(fields))
	for key, value := range fields {
		lfields[fmt.Sprint(key)] = value
	}
	return entry(ctx, keys...).WithFields(lfields)
}

// GetLogger returns the logger stored on ctx, or the default logger. Each key
// is looked up on ctx and, when present, added as a field named
// fmt.Sprint(key).
func GetLogger(ctx context.Context, keys ...any) Logger {
	return entry(ctx, keys...)
}

// SetDefaultLogger replaces the logger used for contexts that carry none.
// Only *logrus.Entry values are accepted.
func SetDefaultLogger(logger Logger) {
	e, ok := logger.(*logrus.Entry)
	if !ok {
		return
	}

	defaultLoggerMu.Lock()
	defaultLogger = e
	defaultLoggerMu.Unlock()
}

func entry(ctx context.Context, keys ...any) *logrus.Entry {
	logger, _ := ctx.Value(loggerKey{}).(*logrus.Entry)
	if logger == nil {
		defaultLoggerMu.RLock()
		logger = defaultLogger
		defaultLoggerMu.RUnlock()

		if id := ctx.Value(instanceIDKey{}); id != nil {
			logger = logger.WithField("instance.id", id)
		}
	}

	if len(keys) == 0 {
		return logger
	}

	fields := logrus.Fields{}
	for _, key := range keys {
		if v := ctx.Value(key); v != nil {
			fields[fmt.Sprint(key)] = v
		}
	}
	return logger.WithFields(fields)
}
