// Package helpers carries per-update state through telebot handlers.
package helpers

import (
	"context"

	"github.com/m3rciful/dispatchbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const ctxKey = "dispatchbot.ctx"

// Context returns the request context of the update, deriving it on first use
// from the update, chat and sender identifiers.
func Context(c tele.Context) context.Context {
	if ctx, ok := c.Get(ctxKey).(context.Context); ok {
		return ctx
	}
	f := logger.Fields{UpdateID: c.Update().ID}
	if chat := c.Chat(); chat != nil {
		f.ChatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		f.UserID = user.ID
	}
	ctx := logger.WithFields(context.Background(), f)
	c.Set(ctxKey, ctx)
	return ctx
}

// SetContext replaces the request context of the update.
func SetContext(c tele.Context, ctx context.Context) {
	c.Set(ctxKey, ctx)
}
