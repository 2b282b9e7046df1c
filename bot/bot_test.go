package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/core/audit"
	"github.com/m3rciful/dispatchbot/core/commands"
	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/events"
	"github.com/m3rciful/dispatchbot/core/logger"
)

type fakeResponder struct {
	mu      sync.Mutex
	replies []string
	dms     []string
	err     error
}

func (f *fakeResponder) Reply(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return f.err
}

func (f *fakeResponder) DirectMessage(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, text)
	return f.err
}

type staticLister []commands.Descriptor

func (s staticLister) Descriptors() []commands.Descriptor { return s }

type fakeUsage struct {
	rows  []audit.Usage
	err   error
	since time.Time
	limit int
}

func (f *fakeUsage) Insert(context.Context, audit.Record) error { return nil }

func (f *fakeUsage) Usage(_ context.Context, since time.Time, limit int) ([]audit.Usage, error) {
	f.since, f.limit = since, limit
	return f.rows, f.err
}

func TestRenderHelpListsAliasesWithPrefix(t *testing.T) {
	out := RenderHelp("!", []commands.Descriptor{
		{Name: "help", Aliases: []string{"h", "halp"}, Description: "Lists commands"},
		{Name: "ban", Aliases: []string{"b"}, Usage: "<user>", GuildOnly: true, Permissions: commands.PermBanMembers},
		{Name: "debug", Hidden: true},
	})
	for _, want := range []string{
		"!help - Lists commands",
		"aliases: !h, !halp",
		"usage: !ban <user>",
		"group chats only",
		"requires: BAN_MEMBERS",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "debug") {
		t.Fatalf("hidden command listed:\n%s", out)
	}
}

func TestHelpCommandSendsDirectMessage(t *testing.T) {
	h := NewHelpCommand(staticLister{{Name: "ping"}}, "/")
	if got := h.Descriptor().Callnames(); strings.Join(got, ",") != "help,h,halp,aled" {
		t.Fatalf("callnames = %v", got)
	}

	resp := &fakeResponder{}
	dm := &commands.Message{AuthorID: 1, Channel: commands.ChannelDirect, Responder: resp}
	if err := h.Execute(context.Background(), dm, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(resp.dms) != 1 || !strings.Contains(resp.dms[0], "/ping") || len(resp.replies) != 0 {
		t.Fatalf("dms=%v replies=%v", resp.dms, resp.replies)
	}

	resp = &fakeResponder{}
	group := &commands.Message{AuthorID: 1, ChatID: -1, Channel: commands.ChannelGuild, Responder: resp}
	if err := h.Execute(context.Background(), group, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(resp.dms) != 1 || len(resp.replies) != 1 {
		t.Fatalf("group help must DM and acknowledge, dms=%v replies=%v", resp.dms, resp.replies)
	}
}

func TestStatsCommand(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeUsage{rows: []audit.Usage{{Command: "ping", Executed: 4, Rejected: 1}}}
	cmd := NewStatsCommand(store, func() time.Time { return now })
	if d := cmd.Descriptor(); !d.GuildOnly || !d.Permissions.Has(commands.PermAdministrator) {
		t.Fatalf("stats descriptor = %+v", d)
	}

	resp := &fakeResponder{}
	msg := &commands.Message{Channel: commands.ChannelGuild, Responder: resp}
	if err := cmd.Execute(context.Background(), msg, []string{"6h"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !store.since.Equal(now.Add(-6*time.Hour)) || store.limit != statsLimit {
		t.Fatalf("query since=%s limit=%d", store.since, store.limit)
	}
	if len(resp.replies) != 1 || !strings.Contains(resp.replies[0], "ping: 4 executed, 0 failed, 1 rejected") {
		t.Fatalf("replies = %v", resp.replies)
	}

	if err := cmd.Execute(context.Background(), msg, []string{"soon"}); err != nil {
		t.Fatalf("bad window must be answered, not failed: %v", err)
	}
	if !strings.Contains(resp.replies[1], "invalid window") {
		t.Fatalf("replies = %v", resp.replies)
	}

	store.err = errors.New("db down")
	if err := cmd.Execute(context.Background(), msg, nil); err == nil {
		t.Fatal("store errors must fail the command")
	}
}

func TestParseWindowAndRender(t *testing.T) {
	if d, _ := ParseWindow(nil); d != defaultStatsWindow {
		t.Fatalf("default window = %s", d)
	}
	if d, _ := ParseWindow([]string{"10000h"}); d != maxStatsWindow {
		t.Fatalf("window not capped: %s", d)
	}
	if _, err := ParseWindow([]string{"-1h"}); err == nil {
		t.Fatal("negative window must fail")
	}
	if got := RenderStats(24*time.Hour, nil); got != "No commands recorded in the last 24h." {
		t.Fatalf("got %q", got)
	}
	if got := formatWindow(90 * time.Minute); got != "90m" {
		t.Fatalf("got %q", got)
	}
}

type fixedCooldown time.Duration

func (f fixedCooldown) Remaining(string, int64, int) time.Duration { return time.Duration(f) }

func TestNoticeTexts(t *testing.T) {
	n := &Notices{Cooldowns: fixedCooldown(3200 * time.Millisecond), Prefix: "/"}
	msg := &commands.Message{AuthorID: 5}
	ban := &commands.Descriptor{Name: "ban", CooldownSeconds: 10, Permissions: commands.PermBanMembers}

	cases := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Kind: events.OnCooldown, Message: msg, Command: ban}, "Please wait 4 more seconds before using /ban again."},
		{events.Event{Kind: events.PermissionDenied, Message: msg, Command: ban}, "You need BAN_MEMBERS to use /ban."},
		{events.Event{Kind: events.GuildOnlyInDM, Message: msg, Command: ban}, "/ban can only be used in a group chat."},
		{events.Event{Kind: events.UnknownCommand, Message: msg, Callname: "kick"}, "Unknown command /kick. Try /help."},
		{events.Event{Kind: events.CommandExecuted, Message: msg, Command: ban}, ""},
	}
	for _, tc := range cases {
		if got := n.Text(tc.ev); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.ev.Kind, got, tc.want)
		}
	}

	n.Cooldowns = fixedCooldown(time.Millisecond)
	if got := n.Text(cases[0].ev); got != "Please wait 1 more second before using /ban again." {
		t.Fatalf("got %q", got)
	}
}

func TestNoticesAttachRespectsNotifyUnknown(t *testing.T) {
	bus := events.NewBus()
	(&Notices{Prefix: "/"}).Attach(bus)
	if bus.Listeners(events.UnknownCommand) != 0 {
		t.Fatal("unknown command notice must be opt-in")
	}
	if bus.Listeners(events.OnCooldown) != 1 {
		t.Fatal("cooldown notice not subscribed")
	}

	resp := &fakeResponder{}
	bus = events.NewBus()
	(&Notices{Prefix: "!", NotifyUnknown: true}).Attach(bus)
	bus.Publish(context.Background(), events.Event{
		Kind:     events.UnknownCommand,
		Message:  &commands.Message{Responder: resp},
		Callname: "nope",
	})
	if len(resp.replies) != 1 || resp.replies[0] != "Unknown command !nope. Try !help." {
		t.Fatalf("replies = %v", resp.replies)
	}
}

func TestManifestStatsOnlyWithStore(t *testing.T) {
	reg := commands.NewRegistry(commands.RegistryOptions{})
	if err := reg.Build(Manifest(ManifestDeps{Registry: reg, Prefix: "/"})); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := reg.Resolve("stats"); ok {
		t.Fatal("stats registered without a store")
	}
	if _, ok := reg.Resolve("aled"); !ok {
		t.Fatal("help alias not registered")
	}

	reg = commands.NewRegistry(commands.RegistryOptions{})
	if err := reg.Build(Manifest(ManifestDeps{Registry: reg, Prefix: "/", Store: &fakeUsage{}})); err != nil {
		t.Fatalf("build: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("len = %d, want 3", reg.Len())
	}
}

func TestNewAppWithoutDatabase(t *testing.T) {
	cfg := &Config{Config: coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "t"},
		Commands: coreconfig.CommandsConfig{Prefix: "!"},
	}}
	app, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if app.Registry().Len() != 2 {
		t.Fatalf("commands = %d", app.Registry().Len())
	}
	opts, err := app.TelegramRunOptions()
	if err != nil {
		t.Fatalf("run options: %v", err)
	}
	if len(opts.Routes) != 1 || opts.OnStart == nil || opts.OnStop == nil {
		t.Fatalf("run options = %+v", opts)
	}
	if app.route.Prefix() != "!" {
		t.Fatalf("prefix = %q", app.route.Prefix())
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
telegram:
  token: "t"
audit:
  enabled: true
database:
  host: localhost
  user: bot
  name: dispatch
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CoreConfig().Commands.Prefix != "/" || cfg.Database.Port != "5432" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("telegram:\n  token: t\naudit:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("audit without database settings must fail")
	}
}

type fakeMenu struct {
	err   error
	calls int
}

func (f *fakeMenu) SetCommands(...any) error {
	f.calls++
	return f.err
}

func TestPublishMenuLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger.Use(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { logger.Use(nil) })

	cfg := &Config{Config: coreconfig.Config{Telegram: coreconfig.TelegramConfig{Token: "t"}}}
	app, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	menu := &fakeMenu{err: errors.New("Forbidden: bot was blocked")}
	app.publishMenu(context.Background(), menu)
	if menu.calls != 1 {
		t.Fatalf("calls = %d", menu.calls)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"menu.set"`) || !strings.Contains(out, `"status":"fail"`) || !strings.Contains(out, "blocked") {
		t.Fatalf("failure not logged: %s", out)
	}

	buf.Reset()
	app.publishMenu(context.Background(), &fakeMenu{})
	if out := buf.String(); !strings.Contains(out, `"status":"ok"`) || !strings.Contains(out, `"commands":2`) {
		t.Fatalf("success not logged: %s", out)
	}
}
