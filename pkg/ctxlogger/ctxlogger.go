package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey string

const slogFields ctxKey = "slog_fields"

// ContextHandler wraps a slog.Handler and appends attrs stored in the
// context to every record it handles.
type ContextHandler struct {
	slog.Handler
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(slogFields).([]slog.Attr); ok {
		for _, attr := range attrs {
			r.AddAttrs(attr)
		}
	}

	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context carrying attr in addition to any attrs
// already stored in parent.
func AppendCtx(parent context.Context, attr slog.Attr) context.Context {
	if parent == nil {
		parent = context.Background()
	}

	if attrs, ok := parent.Value(slogFields).([]slog.Attr); ok {
		copied := make([]slog.Attr, len(attrs), len(attrs)+1)
		copy(copied, attrs)
		return context.WithValue(parent, slogFields, append(copied, attr))
	}

	return context.WithValue(parent, slogFields, []slog.Attr{attr})
}
