// Package events carries command lifecycle events from the dispatcher to decoupled listeners.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/commands"
	"github.com/m3rciful/dispatchbot/core/logger"
)

// Kind identifies an event category.
type Kind string

const (
	// UnknownCommand is published when no handler owns the callname.
	UnknownCommand Kind = "unknown_command"
	// GuildOnlyInDM is published when a guild-only command is invoked in a private chat.
	GuildOnlyInDM Kind = "guild_only_in_dm"
	// OnCooldown is published when the invoker is still within the command cooldown.
	OnCooldown Kind = "on_cooldown"
	// PermissionDenied is published when the invoker lacks the required permissions.
	PermissionDenied Kind = "permission_denied"
	// CommandExecuted is published after a handler returned without error.
	CommandExecuted Kind = "command_executed"
	// CommandFailed is published after a handler returned an error or panicked.
	CommandFailed Kind = "command_failed"
)

// Kinds lists every kind in a stable order.
func Kinds() []Kind {
	return []Kind{UnknownCommand, GuildOnlyInDM, OnCooldown, PermissionDenied, CommandExecuted, CommandFailed}
}

// Rejections lists the kinds emitted by the dispatch guards.
func Rejections() []Kind {
	return []Kind{UnknownCommand, GuildOnlyInDM, OnCooldown, PermissionDenied}
}

// Event describes why a dispatch did or did not result in execution.
type Event struct {
	Kind     Kind
	Message  *commands.Message
	Callname string
	Args     []string
	// Command is nil for UnknownCommand.
	Command *commands.Descriptor
	At      time.Time
	Err     error
}

// CommandName returns the resolved command name or an empty string.
func (e Event) CommandName() string {
	if e.Command == nil {
		return ""
	}
	return e.Command.Name
}

// Listener receives published events.
type Listener interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev Event) error

// HandleEvent calls f.
func (f ListenerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type subscription struct {
	id       uint64
	listener Listener
}

// Bus is an in-memory fan-out publish/subscribe channel keyed by Kind.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]subscription)}
}

// Subscribe registers l for kind and returns a function removing the subscription.
func (b *Bus) Subscribe(kind Kind, l Listener) func() {
	if l == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(kind, id) })
	}
}

// SubscribeAll registers l for each of kinds, or for every kind when none are given.
func (b *Bus) SubscribeAll(l Listener, kinds ...Kind) func() {
	if len(kinds) == 0 {
		kinds = Kinds()
	}
	cancels := make([]func(), 0, len(kinds))
	for _, k := range kinds {
		cancels = append(cancels, b.Subscribe(k, l))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (b *Bus) unsubscribe(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			// copy so snapshots held by in-flight publishes stay intact
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.subs[kind] = next
			return
		}
	}
}

// Listeners returns the number of listeners subscribed to kind.
func (b *Bus) Listeners(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Publish delivers ev to every listener of ev.Kind and returns how many were invoked.
// A failing or panicking listener is logged and does not affect its siblings.
func (b *Bus) Publish(ctx context.Context, ev Event) int {
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	list := b.subs[ev.Kind]
	b.mu.RUnlock()

	for _, s := range list {
		if err := deliver(ctx, s.listener, ev); err != nil {
			logger.Warn(ctx, "events", "listener.fail",
				slog.String("status", "fail"),
				slog.String("kind", string(ev.Kind)),
				slog.String("command", ev.CommandName()),
				slog.String("err", logger.Truncate(err.Error(), 256)),
			)
		}
	}
	return len(list)
}

func deliver(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: listener panic: %v", r)
			logger.Error(ctx, "events", "listener.panic",
				slog.String("kind", string(ev.Kind)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	return l.HandleEvent(ctx, ev)
}
