package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/core/commands"
	"github.com/m3rciful/dispatchbot/core/events"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	clock *fakeClock
	reg   *commands.Registry
	bus   *events.Bus
	rec   *recorder
	disp  *Dispatcher

	helpRuns atomic.Int32
	banRuns  atomic.Int32
	granted  commands.Permissions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		bus:   events.NewBus(),
		rec:   &recorder{},
	}
	f.reg = commands.NewRegistry(commands.RegistryOptions{Now: f.clock.Now})
	help := commands.New(commands.Descriptor{
		Name:    "help",
		Aliases: []string{"h", "halp"},
	}, func(context.Context, *commands.Message, []string) error {
		f.helpRuns.Add(1)
		return nil
	})
	ban := commands.New(commands.Descriptor{
		Name:            "ban",
		Aliases:         []string{"b"},
		CooldownSeconds: 10,
		Permissions:     commands.PermBanMembers,
		GuildOnly:       true,
	}, func(context.Context, *commands.Message, []string) error {
		f.banRuns.Add(1)
		return nil
	})
	if err := f.reg.Build(commands.Static{help, ban}); err != nil {
		t.Fatalf("build: %v", err)
	}
	f.bus.SubscribeAll(f.rec, events.Rejections()...)

	perms := PermissionFunc(func(_ context.Context, msg *commands.Message) (commands.Permissions, bool, error) {
		if msg.IsDirect() {
			return commands.PermNone, false, nil
		}
		return f.granted, true, nil
	})
	disp, err := New(Options{Registry: f.reg, Bus: f.bus, Permissions: perms})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	f.disp = disp
	return f
}

func dm(author int64) *commands.Message {
	return &commands.Message{AuthorID: author, ChatID: author, Channel: commands.ChannelDirect}
}

func group(author int64) *commands.Message {
	return &commands.Message{AuthorID: author, ChatID: -100, Channel: commands.ChannelGuild}
}

func (f *fixture) dispatch(t *testing.T, msg *commands.Message, callname string) Outcome {
	t.Helper()
	out, err := f.disp.Dispatch(context.Background(), msg, callname, nil)
	if err != nil {
		t.Fatalf("dispatch %q: %v", callname, err)
	}
	f.disp.Wait()
	return out
}

func TestNewRequiresBuiltRegistry(t *testing.T) {
	reg := commands.NewRegistry(commands.RegistryOptions{})
	_, err := New(Options{Registry: reg, Bus: events.NewBus()})
	if !errors.Is(err, ErrRegistryNotBuilt) {
		t.Fatalf("expected ErrRegistryNotBuilt, got %v", err)
	}
}

func TestDispatchMalformedCallname(t *testing.T) {
	f := newFixture(t)
	for _, cn := range []string{"", " help", "he lp"} {
		if _, err := f.disp.Dispatch(context.Background(), dm(1), cn, nil); !errors.Is(err, ErrMalformedCallname) {
			t.Fatalf("callname %q: expected ErrMalformedCallname, got %v", cn, err)
		}
	}
	if _, err := f.disp.Dispatch(context.Background(), nil, "help", nil); !errors.Is(err, ErrNilMessage) {
		t.Fatalf("expected ErrNilMessage, got %v", err)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newFixture(t)
	out := f.dispatch(t, dm(1), "kick")
	if out.Executed() || out.Event != events.UnknownCommand {
		t.Fatalf("unexpected outcome %s", out)
	}
	kinds := f.rec.kinds()
	if len(kinds) != 1 || kinds[0] != events.UnknownCommand {
		t.Fatalf("events = %v, want exactly one unknown_command", kinds)
	}
	if f.helpRuns.Load()+f.banRuns.Load() != 0 {
		t.Fatal("no handler may run for an unknown command")
	}
}

func TestDispatchAliasFromDirectMessageRunsHelp(t *testing.T) {
	f := newFixture(t)
	out := f.dispatch(t, dm(1), "h")
	if !out.Executed() || out.Command != "help" {
		t.Fatalf("unexpected outcome %s", out)
	}
	if f.helpRuns.Load() != 1 {
		t.Fatalf("help ran %d times", f.helpRuns.Load())
	}
	if len(f.rec.kinds()) != 0 {
		t.Fatalf("unexpected rejections: %v", f.rec.kinds())
	}
}

func TestDispatchGuildOnlyInDirectMessage(t *testing.T) {
	f := newFixture(t)
	f.granted = commands.PermAll
	out := f.dispatch(t, dm(1), "b")
	if out.Event != events.GuildOnlyInDM {
		t.Fatalf("unexpected outcome %s", out)
	}
	kinds := f.rec.kinds()
	if len(kinds) != 1 || kinds[0] != events.GuildOnlyInDM {
		t.Fatalf("events = %v", kinds)
	}
	if f.banRuns.Load() != 0 {
		t.Fatal("guild-only handler ran in a DM")
	}
	if f.reg.CooldownEntries() != 0 {
		t.Fatal("rejected dispatch must not record an invocation")
	}
}

func TestDispatchCooldown(t *testing.T) {
	f := newFixture(t)
	f.granted = commands.PermBanMembers

	if out := f.dispatch(t, group(5), "ban"); !out.Executed() {
		t.Fatalf("first dispatch: %s", out)
	}
	f.clock.Advance(4 * time.Second)
	out := f.dispatch(t, group(5), "b")
	if out.Event != events.OnCooldown {
		t.Fatalf("second dispatch: %s", out)
	}
	if f.banRuns.Load() != 1 {
		t.Fatalf("ban ran %d times, want 1", f.banRuns.Load())
	}
	if out := f.dispatch(t, group(6), "ban"); !out.Executed() {
		t.Fatalf("other user must not share the cooldown: %s", out)
	}
	f.clock.Advance(6 * time.Second)
	if out := f.dispatch(t, group(5), "ban"); !out.Executed() {
		t.Fatalf("dispatch after cooldown: %s", out)
	}
}

func TestDispatchPermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.granted = commands.PermPinMessages
	out := f.dispatch(t, group(9), "ban")
	if out.Event != events.PermissionDenied {
		t.Fatalf("unexpected outcome %s", out)
	}
	if f.banRuns.Load() != 0 {
		t.Fatal("handler ran without permission")
	}
	if f.reg.IsOnCooldown("ban", 9, 10) {
		t.Fatal("denied dispatch must not start a cooldown")
	}
}

func TestDispatchCooldownCheckedBeforePermission(t *testing.T) {
	f := newFixture(t)
	f.granted = commands.PermBanMembers
	f.dispatch(t, group(3), "ban")
	f.granted = commands.PermNone
	if out := f.dispatch(t, group(3), "ban"); out.Event != events.OnCooldown {
		t.Fatalf("expected cooldown guard first, got %s", out)
	}
}

func TestDispatchPermissionLookupError(t *testing.T) {
	f := newFixture(t)
	disp, err := New(Options{
		Registry: f.reg,
		Bus:      f.bus,
		Permissions: PermissionFunc(func(context.Context, *commands.Message) (commands.Permissions, bool, error) {
			return commands.PermAll, true, errors.New("api down")
		}),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, _ := disp.Dispatch(context.Background(), group(1), "ban", nil)
	if out.Event != events.PermissionDenied {
		t.Fatalf("lookup errors must deny, got %s", out)
	}
}

func TestDispatchRecordsInvocationWhenHandlerFails(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := commands.NewRegistry(commands.RegistryOptions{Now: clock.Now})
	boom := commands.New(commands.Descriptor{Name: "boom", CooldownSeconds: 5},
		func(context.Context, *commands.Message, []string) error {
			panic("handler exploded")
		})
	fail := commands.New(commands.Descriptor{Name: "fail", CooldownSeconds: 5},
		func(context.Context, *commands.Message, []string) error {
			return errors.New("nope")
		})
	if err := reg.Build(commands.Static{boom, fail}); err != nil {
		t.Fatalf("build: %v", err)
	}
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec, events.CommandExecuted, events.CommandFailed)
	disp, err := New(Options{Registry: reg, Bus: bus})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for _, cn := range []string{"boom", "fail"} {
		out, err := disp.Dispatch(context.Background(), dm(2), cn, nil)
		if err != nil || !out.Executed() {
			t.Fatalf("%s: out=%s err=%v", cn, out, err)
		}
	}
	disp.Wait()

	if !reg.IsOnCooldown("boom", 2, 5) || !reg.IsOnCooldown("fail", 2, 5) {
		t.Fatal("invocation must be recorded even when the handler fails")
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != events.CommandFailed || kinds[1] != events.CommandFailed {
		t.Fatalf("events = %v", kinds)
	}
}

func TestDispatchConcurrentUsers(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := f.disp.Dispatch(context.Background(), dm(id), "help", nil); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()
	f.disp.Wait()
	if f.helpRuns.Load() != 32 {
		t.Fatalf("help ran %d times, want 32", f.helpRuns.Load())
	}
	if f.reg.CooldownEntries() != 32 {
		t.Fatalf("cooldown entries = %d, want 32", f.reg.CooldownEntries())
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		prefix, content string
		callname        string
		args            []string
		ok              bool
	}{
		{"/", "/help", "help", nil, true},
		{"/", "/ban  @bob\t spam  ", "ban", []string{"@bob", "spam"}, true},
		{"!", "!h", "h", nil, true},
		{"/", "help", "", nil, false},
		{"/", "/ help", "", nil, false},
		{"/", "/\u00a0help", "", nil, false},
		{"/", "/\u3000help", "", nil, false},
		{"/", "/héllo wörld", "héllo", []string{"wörld"}, true},
		{"/", "/roll\u3000d20", "roll", []string{"d20"}, true},
		{"/", "/", "", nil, false},
		{"", "/help", "", nil, false},
	}
	for _, tc := range cases {
		cn, args, ok := Tokenize(tc.prefix, tc.content)
		if ok != tc.ok || cn != tc.callname || len(args) != len(tc.args) {
			t.Fatalf("Tokenize(%q, %q) = %q %v %v", tc.prefix, tc.content, cn, args, ok)
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Fatalf("Tokenize(%q) arg %d = %q, want %q", tc.content, i, args[i], tc.args[i])
			}
		}
	}
}
