package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sqaleshop/api/internal/platform/requestctx"
)

// NewLogger builds the JSON logger used in Cloud Run. Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil || level == "" {
		atomic.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(strings.ToUpper(l.String()))
			},
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// EventLogger adapts zap to the func(ctx, event, fields) hook services accept. The request
// logger on ctx wins over base so service events carry request and trace ids.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}
		if storeID := requestctx.StoreID(ctx); storeID != "" {
			if _, ok := fields["storeId"]; !ok {
				logger = logger.With(zap.String("store_id", storeID))
			}
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		zf := make([]zap.Field, 0, len(keys)+1)
		zf = append(zf, zap.String("event", event))
		for _, key := range keys {
			if err, ok := fields[key].(error); ok {
				zf = append(zf, zap.NamedError(key, err))
				continue
			}
			zf = append(zf, zap.Any(key, fields[key]))
		}

		if ce := logger.Check(eventLevel(event), event); ce != nil {
			ce.Write(zf...)
		}
	}
}

// eventLevel derives severity from the last segment of a dotted event name.
func eventLevel(event string) zapcore.Level {
	last := event
	if idx := strings.LastIndexByte(event, '.'); idx >= 0 {
		last = event[idx+1:]
	}
	switch {
	case strings.Contains(last, "failed"), strings.Contains(last, "error"), strings.HasSuffix(last, "failure"):
		return zapcore.ErrorLevel
	case strings.Contains(last, "fallback"), strings.Contains(last, "mismatch"), strings.Contains(last, "conflict"),
		strings.Contains(last, "missing"), strings.Contains(last, "unresolved"), strings.Contains(last, "reassigned"),
		strings.Contains(last, "unavailable"), strings.Contains(last, "clamped"):
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// PrintfAdapter satisfies the Printf-style Logger of the auth and idempotency packages.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}
