// Package logging provides the ambient Logger used across lofi, adapted
// from the teacher's utils.Logger: a thin interface over log/slog so that
// non-fatal conditions (a list patch applied to a non-array, a set on an
// out-of-range array index) get structured, leveled output without
// every package importing slog directly.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

type DefaultLogger struct {
	logger *slog.Logger
}

func NewDefaultLogger(level slog.Level) *DefaultLogger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return &DefaultLogger{logger: logger}
}

const prefix = "[lofi] "

func (d *DefaultLogger) Debug(msg string, args ...any) { d.logger.Debug(prefix+msg, args...) }
func (d *DefaultLogger) Info(msg string, args ...any)  { d.logger.Info(prefix+msg, args...) }
func (d *DefaultLogger) Warn(msg string, args ...any)  { d.logger.Warn(prefix+msg, args...) }
func (d *DefaultLogger) Error(msg string, args ...any) { d.logger.Error(prefix+msg, args...) }

type defaultArgsKey struct{}

func getDefaultArgs(ctx context.Context) []any {
	v := ctx.Value(defaultArgsKey{})
	if v == nil {
		return nil
	}
	return v.([]any)
}

// WithDefaultArgs attaches fields (e.g. "replica", id, "root", oid) that
// every *Ctx log call below this context will append automatically.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	dargs := append(append([]any{}, getDefaultArgs(ctx)...), args...)
	return context.WithValue(ctx, defaultArgsKey{}, dargs)
}

func (d *DefaultLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Debug(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Info(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Warn(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}

func (d *DefaultLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	d.logger.Error(prefix+msg, append(args, getDefaultArgs(ctx)...)...)
}
