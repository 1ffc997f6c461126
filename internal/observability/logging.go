package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/partnerhub/internal/config"
	"github.com/pitabwire/partnerhub/model"
)

type loggerKey struct{}

// NewLogger builds the service's JSON logger. Unknown levels fall back to
// info.
//
// Levels:
//   - error: storage failures, panics, 5xx responses
//   - warn:  4xx responses, failed notification delivery
//   - info:  request completion, stage changes, reversal decisions
//   - debug: redacted request bodies, cache hits, idempotent replays
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig = enc
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	return zc.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context's logger, or fallback when it has none.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context's logger tagged with the caller's
// identity and correlation IDs.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 3)
	fields = append(fields,
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	)
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// alwaysRedacted lists body keys masked in every debug log.
var alwaysRedacted = []string{
	"password", "secret", "token", "access_token", "refresh_token", "api_key", "authorization",
}

// RedactBody returns a copy of body with credential-like keys, plus any in
// extra, masked at every nesting level. body is left untouched.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	mask := make(map[string]struct{}, len(alwaysRedacted)+len(extra))
	for _, k := range alwaysRedacted {
		mask[k] = struct{}{}
	}
	for _, k := range extra {
		mask[k] = struct{}{}
	}
	return redactMap(body, mask)
}

func redactMap(in map[string]any, mask map[string]struct{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, hit := mask[k]; hit {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = redactMap(nested, mask)
		}
		out[k] = v
	}
	return out
}
