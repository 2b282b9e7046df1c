// Package bot wires the command registry, dispatcher and event listeners into a Telegram bot.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/dispatchbot/core/audit"
	"github.com/m3rciful/dispatchbot/core/bootstrap"
	"github.com/m3rciful/dispatchbot/core/commands"
	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/dispatch"
	"github.com/m3rciful/dispatchbot/core/events"
	"github.com/m3rciful/dispatchbot/core/logger"
	tg "github.com/m3rciful/dispatchbot/core/telegram"
	"github.com/m3rciful/dispatchbot/core/telegram/router"
)

const memberCacheTTL = 30 * time.Second

// App owns the command pipeline for one bot process.
type App struct {
	cfg   *Config
	infra *bootstrap.Result

	registry   *commands.Registry
	bus        *events.Bus
	dispatcher *dispatch.Dispatcher
	members    *tg.MemberPermissions
	route      *router.CommandRoute
	recorder   *audit.Recorder

	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// Bootstrap runs the infrastructure steps and builds the App.
func Bootstrap(ctx context.Context, cfg *Config) (*App, error) {
	opts := bootstrap.Options{Config: &cfg.Config}
	if cfg.Audit.Enabled {
		opts.Database = &cfg.Database
	}
	infra, err := bootstrap.Run(ctx, opts)
	if err != nil {
		return nil, err
	}
	app, err := New(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return app, nil
}

// New builds the registry from the manifest and wires the dispatcher and listeners.
func New(cfg *Config, infra *bootstrap.Result) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config")
	}
	if infra == nil {
		infra = &bootstrap.Result{}
	}
	prefix := cfg.Commands.Prefix
	if prefix == "" {
		prefix = coreconfig.DefaultPrefix
	}

	a := &App{
		cfg:      cfg,
		infra:    infra,
		registry: commands.NewRegistry(commands.RegistryOptions{}),
		bus:      events.NewBus(),
		members:  tg.NewMemberPermissions(memberCacheTTL),
	}

	var store audit.Store
	if infra.DB != nil {
		store = audit.NewPostgresStore(infra.DB)
	}
	manifest := Manifest(ManifestDeps{Registry: a.registry, Prefix: prefix, Store: store})
	if err := a.registry.Build(manifest); err != nil {
		return nil, fmt.Errorf("bot: build command registry: %w", err)
	}

	notices := &Notices{Cooldowns: a.registry, Prefix: prefix, NotifyUnknown: cfg.Commands.NotifyUnknown}
	notices.Attach(a.bus)
	if store != nil {
		a.recorder = audit.NewRecorder(store, audit.RecorderOptions{})
		a.recorder.Attach(a.bus)
	}

	disp, err := dispatch.New(dispatch.Options{
		Registry:    a.registry,
		Bus:         a.bus,
		Permissions: a.members,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: %w", err)
	}
	a.dispatcher = disp
	a.route = router.NewCommandRoute(disp, prefix)
	return a, nil
}

// Registry exposes the built registry.
func (a *App) Registry() *commands.Registry { return a.registry }

// Bus exposes the event bus for additional listeners.
func (a *App) Bus() *events.Bus { return a.bus }

// TelegramRunOptions satisfies cmd.TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	return tg.RunOptions{
		Config:      &a.cfg.Config,
		Middlewares: tg.Chain(a.cfg.RateLimit),
		Routes:      a.route.Routes(),
		OnStart:     a.start,
		OnStop:      a.stop,
	}, nil
}

func (a *App) start(ctx context.Context, rt tg.Runtime) error {
	if rt.Bot != nil {
		a.members.Bind(rt.Bot)
		if rt.Bot.Me != nil {
			a.route.BindUsername(rt.Bot.Me.Username)
		}
		if a.route.Prefix() == "/" {
			a.publishMenu(ctx, rt.Bot)
		}
	}

	interval := time.Duration(a.cfg.Commands.CooldownSweepSeconds) * time.Second
	if interval > 0 {
		sweepCtx, cancel := context.WithCancel(ctx)
		a.stopSweeper = cancel
		a.sweeperDone = make(chan struct{})
		go func() {
			defer close(a.sweeperDone)
			commands.RunCooldownSweeper(sweepCtx, a.registry, interval)
		}()
	}

	logger.Info(ctx, "app", "commands.ready",
		slog.String("status", "ok"),
		slog.Int("commands", a.registry.Len()),
		slog.String("prefix", a.route.Prefix()),
		slog.Bool("audit", a.recorder != nil),
		slog.Duration("sweep_interval", interval),
	)
	return nil
}

// publishMenu is best effort: a bot without a menu still answers typed commands.
func (a *App) publishMenu(ctx context.Context, bot tg.MenuSetter) {
	n, err := tg.SetMenu(bot, a.registry.Descriptors())
	if err != nil {
		logger.Warn(ctx, "tg", "menu.set",
			slog.String("status", "fail"),
			slog.String("err", logger.Truncate(err.Error(), 256)),
		)
		return
	}
	logger.Info(ctx, "tg", "menu.set",
		slog.String("status", "ok"),
		slog.Int("commands", n),
	)
}

func (a *App) stop(ctx context.Context, _ tg.Runtime) error {
	if a.stopSweeper != nil {
		a.stopSweeper()
		<-a.sweeperDone
	}
	a.dispatcher.Wait()
	if a.recorder != nil {
		a.recorder.Close()
		logger.Info(ctx, "audit", "recorder.closed",
			slog.Int64("dropped", int64(a.recorder.Dropped())),
			slog.Int64("failed", int64(a.recorder.Failed())),
		)
	}
	if err := a.infra.Close(); err != nil {
		return fmt.Errorf("bot: close database: %w", err)
	}
	return nil
}
