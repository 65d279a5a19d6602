// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package log provides the structured logger used across the
// post-auction service, wrapping zap directly.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface every component in this
// repository depends on instead of zap directly, so call sites stay
// readable and a no-op implementation is trivial for tests.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	// Trace emits a per-event diagnostic line. It is routed to its own
	// core so it can be shipped to a different sink than the main log
	// stream without touching Info/Debug/Warn/Error call sites.
	Trace(msg string, fields ...zap.Field)
	// With returns a Logger that always includes the given fields.
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	base  *zap.Logger
	trace *zap.Logger
}

// New creates a production-style JSON logger at the given level, with
// a separate trace core for the trace channel named in the
// error-handling design. Both cores write to stdout; trace lines carry
// a "channel":"trace" field so they can be filtered from the stream.
func New(level string) Logger {
	lvl := parseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		lvl,
	)
	traceCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zapcore.DebugLevel,
	).With([]zap.Field{zap.String("channel", "trace")})

	return &zapLogger{
		base:  zap.New(core),
		trace: zap.New(traceCore),
	}
}

// NoOp returns a logger that discards everything; useful in tests.
func NoOp() Logger {
	return &zapLogger{base: zap.NewNop(), trace: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func (l *zapLogger) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...zap.Field) { l.base.Fatal(msg, fields...) }
func (l *zapLogger) Trace(msg string, fields ...zap.Field) { l.trace.Debug(msg, fields...) }

func (l *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{base: l.base.With(fields...), trace: l.trace.With(fields...)}
}

func (l *zapLogger) Sync() error {
	_ = l.trace.Sync()
	return l.base.Sync()
}

// Field constructors re-exported so callers never need to import zap
// directly just to build a log line.
var (
	String  = zap.String
	Int     = zap.Int
	Float64 = zap.Float64
	Uint64  = zap.Uint64
	Err     = zap.Error
)
