package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var queue atomic.Pointer[sender.Queue]

// SetQueue installs the queue used by Reply and SendTo; nil sends inline.
func SetQueue(q *sender.Queue) {
	queue.Store(q)
}

func enqueue(c tele.Context, action string, send func() error) error {
	q := queue.Load()
	if q == nil {
		return send()
	}
	ctx := Context(c)
	err := q.Enqueue(ctx, action, send)
	if errors.Is(err, sender.ErrFull) || errors.Is(err, sender.ErrClosed) {
		logger.Warn(ctx, "tg.sender", "send.inline",
			slog.String("action", action),
			slog.String("err", err.Error()),
		)
		return send()
	}
	return err
}

// Reply answers in the update's chat, quoting the triggering message when there is one.
func Reply(c tele.Context, text string) error {
	opts := &tele.SendOptions{}
	if msg := c.Message(); msg != nil {
		opts.ReplyTo = msg
	}
	return enqueue(c, "reply", func() error {
		return c.Send(text, opts)
	})
}

// SendTo posts text to an arbitrary recipient such as the sender's private chat.
func SendTo(c tele.Context, to tele.Recipient, text string) error {
	return enqueue(c, "send_to", func() error {
		_, err := c.Bot().Send(to, text)
		return err
	})
}
