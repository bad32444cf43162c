package logger

import (
	"context"
	"log/slog"
	"slices"
)

// Handler returns an slog.Handler that writes records into l's channel.
// slog levels map onto the nearest Level at or below them (see FromSlog);
// use SlogCritical and above to trigger escalation through slog.
func (l *Logger) Handler() slog.Handler {
	return &handler{logger: l}
}

// Slog returns an *slog.Logger backed by Handler.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.Handler())
}

type handler struct {
	logger *Logger
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Enabled(FromSlog(level))
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())

	// Attributes bound by WithAttrs were already placed under their groups.
	for _, a := range h.attrs {
		addAttr(fields, a)
	}

	target := fields
	for _, g := range h.groups {
		sub, ok := target[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			target[g] = sub
		}
		target = sub
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})

	if len(fields) == 0 {
		fields = nil
	}
	h.logger.Log(ctx, FromSlog(r.Level), r.Message, fields)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	nested := attrs
	for i := len(h.groups) - 1; i >= 0; i-- {
		nested = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(nested...)}}
	}
	return &handler{
		logger: h.logger,
		attrs:  append(slices.Clip(h.attrs), nested...),
		groups: h.groups,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &handler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: append(slices.Clip(h.groups), name),
	}
}

func addAttr(dst map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() != slog.KindGroup {
		dst[a.Key] = attrValue(a.Value)
		return
	}

	group := a.Value.Group()
	if len(group) == 0 {
		return
	}
	// Inline groups with an empty key.
	target := dst
	if a.Key != "" {
		sub, ok := dst[a.Key].(map[string]any)
		if !ok {
			sub = make(map[string]any, len(group))
			dst[a.Key] = sub
		}
		target = sub
	}
	for _, ga := range group {
		addAttr(target, ga)
	}
}

func attrValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}
