// Package router feeds Telegram text messages into the command dispatcher.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dispatchbot/core/commands"
	"github.com/m3rciful/dispatchbot/core/dispatch"
	"github.com/m3rciful/dispatchbot/core/logger"
	tg "github.com/m3rciful/dispatchbot/core/telegram"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Dispatcher is the command pipeline the route feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *commands.Message, callname string, args []string) (dispatch.Outcome, error)
}

// CommandRoute turns prefixed text messages into dispatcher calls.
type CommandRoute struct {
	dispatcher Dispatcher
	prefix     string
	username   atomic.Value
}

// NewCommandRoute binds a dispatcher to a command prefix.
func NewCommandRoute(d Dispatcher, prefix string) *CommandRoute {
	r := &CommandRoute{dispatcher: d, prefix: prefix}
	r.username.Store("")
	return r
}

// BindUsername sets the bot username used to accept "/cmd@bot" mentions.
func (r *CommandRoute) BindUsername(name string) {
	r.username.Store(strings.TrimPrefix(name, "@"))
}

// Prefix returns the configured command prefix.
func (r *CommandRoute) Prefix() string { return r.prefix }

// Handle is the tele.OnText handler. Text without the prefix, and commands
// addressed to another bot, are ignored.
func (r *CommandRoute) Handle(c tele.Context) error {
	start := time.Now()
	callname, args, ok := dispatch.Tokenize(r.prefix, c.Text())
	if !ok {
		return nil
	}
	if callname, ok = StripMention(callname, r.username.Load().(string)); !ok {
		return nil
	}
	msg := tg.MessageFrom(c)
	if msg == nil {
		return nil
	}

	ctx := logger.WithCommand(tghelpers.Context(c), callname)
	tghelpers.SetContext(c, ctx)

	out, err := r.dispatcher.Dispatch(ctx, msg, callname, args)
	attrs := []slog.Attr{
		slog.String("result", result(out, err)),
		slog.String("callname", callname),
		slog.Duration("duration", logger.Since(start)),
	}
	if out.Command != "" {
		attrs = append(attrs, slog.String("command", out.Command))
	}
	if out.Event != "" {
		attrs = append(attrs, slog.String("kind", string(out.Event)))
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.Truncate(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
		logger.Error(ctx, "tg", "command.handled", attrs...)
		return err
	}
	logger.Info(ctx, "tg", "command.handled", attrs...)
	return nil
}

// Routes returns the text route. Recovery and the receipt log come from the bot-wide chain.
func (r *CommandRoute) Routes() []tg.Route {
	return []tg.Route{{Endpoint: tele.OnText, Handler: r.Handle}}
}

// StripMention removes a "@username" suffix from a callname. It reports false when the
// mention names a different bot, so group messages addressed elsewhere are ignored.
func StripMention(callname, username string) (string, bool) {
	name, mention, found := strings.Cut(callname, "@")
	if !found {
		return callname, true
	}
	if name == "" {
		return "", false
	}
	if username == "" || !strings.EqualFold(mention, username) {
		return "", false
	}
	return name, true
}

func result(out dispatch.Outcome, err error) string {
	switch {
	case err != nil:
		return "fail"
	case out.Executed():
		return "executed"
	}
	return "rejected"
}

// errorCode prefers the Code of a typed error in the chain and falls back to "INTERNAL".
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	return "INTERNAL"
}
