package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	syncerrors "github.com/gxo-labs/statesync/pkg/statesync/v1/errors"
	synclog "github.com/gxo-labs/statesync/pkg/statesync/v1/log"
	"go.opentelemetry.io/otel/trace"
)

// Default log level if not specified or invalid.
const defaultLevel = slog.LevelInfo

// ParseLevel converts common log level strings (case-insensitive) to slog.Level values.
func ParseLevel(levelStr string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return defaultLevel, false
	}
}

// defaultLogger implements the public synclog.Logger interface on top of slog.
type defaultLogger struct {
	*slog.Logger
}

var _ synclog.Logger = (*defaultLogger)(nil)

// NewLogger creates a Logger with the given level, output format ("text" or
// "json") and writer (os.Stderr when nil).
func NewLogger(levelStr string, formatStr string, writer io.Writer) synclog.Logger {
	level, _ := ParseLevel(levelStr)
	if writer == nil {
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelAttribute,
	}

	var baseHandler slog.Handler
	switch strings.ToLower(formatStr) {
	case "json":
		baseHandler = slog.NewJSONHandler(writer, opts)
	default:
		baseHandler = slog.NewTextHandler(writer, opts)
	}

	return &defaultLogger{
		Logger: slog.New(NewOtelHandler(baseHandler)),
	}
}

// NewDefaultLogger provides a text logger writing to Stderr.
func NewDefaultLogger(levelStr string) synclog.Logger {
	return NewLogger(levelStr, "text", os.Stderr)
}

// NewNopLogger returns a logger that discards everything. Handy in tests.
func NewNopLogger() synclog.Logger {
	return NewLogger("error", "text", io.Discard)
}

var levelStringMap = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	slog.LevelWarn:  "WARN",
	slog.LevelError: "ERROR",
}

// replaceLevelAttribute renders the level attribute as an uppercase string.
func replaceLevelAttribute(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		levelStr, exists := levelStringMap[level]
		if !exists {
			levelStr = level.String()
		}
		a.Value = slog.StringValue(levelStr)
	}
	return a
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	if l.Logger.Enabled(context.Background(), slog.LevelDebug) {
		l.Logger.Log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...))
	}
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	if l.Logger.Enabled(context.Background(), slog.LevelInfo) {
		l.Logger.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
	}
}

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	if l.Logger.Enabled(context.Background(), slog.LevelWarn) {
		l.Logger.Log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...))
	}
}

// Errorf logs at ERROR level. When the last argument is one of the statesync
// error types its fields are attached as structured attributes.
func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	if !l.Logger.Enabled(context.Background(), slog.LevelError) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	var attrs []any
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			attrs = errorAttrs(err)
		}
	}
	l.Logger.Log(context.Background(), slog.LevelError, msg, attrs...)
}

// errorAttrs extracts structured attributes from known error types.
func errorAttrs(err error) []any {
	var (
		actionErr     *syncerrors.UnknownActionError
		mutationErr   *syncerrors.UnknownMutationError
		getterErr     *syncerrors.UnknownGetterError
		unroutableErr *syncerrors.UnroutableMessageError
		handlerErr    *syncerrors.HandlerError
		transportErr  *syncerrors.TransportError
	)
	switch {
	case errors.As(err, &actionErr):
		return []any{slog.String("error_type", "UnknownActionError"), slog.String("store", actionErr.Store), slog.String("name", actionErr.Action)}
	case errors.As(err, &mutationErr):
		return []any{slog.String("error_type", "UnknownMutationError"), slog.String("store", mutationErr.Store), slog.String("name", mutationErr.Mutation)}
	case errors.As(err, &getterErr):
		return []any{slog.String("error_type", "UnknownGetterError"), slog.String("store", getterErr.Store), slog.String("name", getterErr.Getter)}
	case errors.As(err, &unroutableErr):
		return []any{slog.String("error_type", "UnroutableMessageError"), slog.String("command", unroutableErr.Kind), slog.String("store", unroutableErr.Target)}
	case errors.As(err, &handlerErr):
		return []any{slog.String("error_type", "HandlerError"), slog.String("store", handlerErr.Store), slog.String("name", handlerErr.Name)}
	case errors.As(err, &transportErr):
		return []any{slog.String("error_type", "TransportError"), slog.String("op", transportErr.Op)}
	default:
		return []any{slog.String("error", err.Error())}
	}
}

func (l *defaultLogger) Log(level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(context.Background(), level, msg, args...)
}

func (l *defaultLogger) LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{}) {
	l.Logger.Log(ctx, level, msg, args...)
}

func (l *defaultLogger) With(args ...interface{}) synclog.Logger {
	return &defaultLogger{Logger: l.Logger.With(args...)}
}

func (l *defaultLogger) IsEnabled(level slog.Level) bool {
	return l.Logger.Enabled(context.Background(), level)
}

// --- OtelHandler for Trace/Span ID Injection ---

// OtelHandler is a slog.Handler middleware that adds trace_id and span_id
// attributes when the logging context carries a valid span.
type OtelHandler struct {
	next slog.Handler
}

// NewOtelHandler creates a new OtelHandler wrapping the provided handler.
func NewOtelHandler(next slog.Handler) *OtelHandler {
	return &OtelHandler{next: next}
}

func (h *OtelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *OtelHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		record.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.next.Handle(ctx, record)
}

func (h *OtelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewOtelHandler(h.next.WithAttrs(attrs))
}

func (h *OtelHandler) WithGroup(name string) slog.Handler {
	return NewOtelHandler(h.next.WithGroup(name))
}
