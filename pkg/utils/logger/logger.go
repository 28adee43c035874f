// Package logger is the process-wide zap logger. Package level helpers pull
// trace, request, user and submission ids out of the context so call sites
// only pass event specific fields.
package logger

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"codejudge/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[Logger]

type Logger struct {
	zap *zap.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	OutputPath string `yaml:"outputPath"` // file path or "stdout"
	ErrorPath  string `yaml:"errorPath"`  // file path or "stderr"
}

// Init replaces the global logger.
func Init(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

func NewLogger(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(defaultString(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	out, err := sink(cfg.OutputPath, os.Stdout)
	if err != nil {
		return nil, err
	}
	errOut, err := sink(cfg.ErrorPath, os.Stderr)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoderFor(cfg.Format), out, level)
	return &Logger{zap: zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(errOut),
	)}, nil
}

func encoderFor(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.FunctionKey = "func"
	ec.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339Nano))
	}
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func sink(path string, fallback *os.File) (zapcore.WriteSyncer, error) {
	switch path {
	case "":
		return zapcore.Lock(fallback), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// WithContext returns a zap logger carrying the ids found in ctx.
func (l *Logger) WithContext(ctx context.Context) *zap.Logger {
	return l.zap.With(contextFields(ctx)...)
}

var contextKeys = []contextkey.Key{
	contextkey.TraceID,
	contextkey.RequestID,
	contextkey.UserID,
	contextkey.SubmissionID,
}

func contextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, len(contextKeys))
	for _, k := range contextKeys {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			fields = append(fields, zap.String(k.String(), s))
		}
	}
	return fields
}

// WithSubmission tags ctx so every later log line carries the submission id.
func WithSubmission(ctx context.Context, submissionID string) context.Context {
	return context.WithValue(ctx, contextkey.SubmissionID, submissionID)
}

func write(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	l := global.Load()
	if l == nil {
		return
	}
	if ce := l.zap.Check(level, msg); ce != nil {
		ce.Write(append(contextFields(ctx), fields...)...)
	}
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.DebugLevel, msg, fields)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.InfoLevel, msg, fields)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.WarnLevel, msg, fields)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.ErrorLevel, msg, fields)
}

// Sync flushes the global logger.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}
