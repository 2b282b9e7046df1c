package logger

import (
	"context"
	"log/slog"
	"unicode"
)

type fieldsKey struct{}

// Fields identify the update being handled. Non-zero fields are added to every
// line logged with a context that carries them.
type Fields struct {
	UpdateID int
	ChatID   int64
	UserID   int64
	Command  string
}

func (f Fields) empty() bool {
	return f == Fields{}
}

func (f Fields) missingFrom(r slog.Record) []slog.Attr {
	present := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		present[a.Key] = true
		return true
	})
	var out []slog.Attr
	add := func(set bool, a slog.Attr) {
		if set && !present[a.Key] {
			out = append(out, a)
		}
	}
	add(f.UpdateID != 0, slog.Int("update_id", f.UpdateID))
	add(f.ChatID != 0, slog.Int64("chat_id", f.ChatID))
	add(f.UserID != 0, slog.Int64("user_id", f.UserID))
	add(f.Command != "", slog.String("command", f.Command))
	return out
}

// WithFields returns ctx carrying f.
func WithFields(ctx context.Context, f Fields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fieldsKey{}, f)
}

// FieldsFrom returns the fields carried by ctx.
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// WithCommand returns ctx with the command field set.
func WithCommand(ctx context.Context, command string) context.Context {
	f := FieldsFrom(ctx)
	f.Command = command
	return WithFields(ctx, f)
}

// Truncate drops control characters other than newline and tab and keeps at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	out := make([]rune, 0, min(len(s), max))
	for _, r := range s {
		if len(out) == max {
			break
		}
		if r != '\n' && r != '\t' && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
