package middleware

import (
	"log/slog"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Receipt attaches the request context to the update and logs its arrival at debug level.
func Receipt(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.Context(c)
		attrs := []slog.Attr{slog.String("kind", UpdateKind(c.Update()))}
		if chat := c.Chat(); chat != nil {
			attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
		}
		if text := c.Text(); text != "" {
			attrs = append(attrs, slog.String("text", logger.Truncate(text, 128)))
		}
		logger.Debug(ctx, "tg", "update.received", attrs...)
		return next(c)
	}
}
