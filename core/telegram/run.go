package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware is registered with bot.Use and wraps every handler.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
}

// Route binds a handler to a telebot endpoint such as tele.OnText.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions describes the bot Run starts.
type RunOptions struct {
	Config *coreconfig.Config
	Sender sender.Options

	Middlewares []Middleware
	Routes      []Route

	// OnStart runs once routes are registered, before the first update is fetched.
	// An error aborts Run.
	OnStart func(ctx context.Context, rt Runtime) error
	// OnStop runs after the poller stopped and before the reply queue is drained.
	OnStop func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Bot    *tele.Bot
	Sender *sender.Queue
}

// Run connects to Telegram and serves updates until ctx is cancelled.
func Run(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config")
	}
	cfg := opts.Config

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Telegram.Token,
		Poller:  newPoller(cfg),
		Client:  newHTTPClient(cfg.Telegram.LongPollTimeoutSeconds),
		OnError: logUnhandled,
	})
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	logger.Info(ctx, "tg", "connect",
		slog.String("status", "ok"),
		slog.String("username", bot.Me.Username),
		slog.String("mode", cfg.Telegram.RunMode),
		slog.Duration("duration", logger.Since(start)),
	)

	if cfg.Telegram.RunMode == coreconfig.RunModeLongpoll {
		if err := bot.RemoveWebhook(); err != nil {
			logger.Warn(ctx, "tg", "webhook.remove",
				slog.String("status", "fail"),
				slog.String("err", logger.Truncate(err.Error(), 256)),
			)
		}
	}

	queue := sender.New(opts.Sender)
	tghelpers.SetQueue(queue)
	defer func() {
		queue.Close()
		tghelpers.SetQueue(nil)
	}()

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
	logger.Info(ctx, "tg", "wire",
		slog.Int("middlewares", len(opts.Middlewares)),
		slog.Int("routes", len(opts.Routes)),
	)

	rt := Runtime{Bot: bot, Sender: queue}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	polling := make(chan struct{})
	go func() {
		defer close(polling)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-polling
	case <-polling:
	}

	if opts.OnStop != nil {
		return opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	return nil
}

func newPoller(cfg *coreconfig.Config) tele.Poller {
	if cfg.Telegram.RunMode == coreconfig.RunModeWebhook {
		return &tele.Webhook{
			Listen:   net.JoinHostPort(cfg.Webhook.Listen, strconv.Itoa(cfg.Webhook.Port)),
			Endpoint: &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	return &tele.LongPoller{Timeout: pollTimeout(cfg.Telegram.LongPollTimeoutSeconds)}
}

func pollTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// newHTTPClient keeps the request timeout above the long-poll timeout so an idle
// getUpdates call is not cut short.
func newHTTPClient(pollSeconds int) *http.Client {
	return &http.Client{
		Timeout: pollTimeout(pollSeconds) + 15*time.Second,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

func logUnhandled(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.Context(c)
	}
	logger.Error(ctx, "tg", "update.error",
		slog.String("status", "fail"),
		slog.String("err", logger.Truncate(err.Error(), 256)),
	)
}
