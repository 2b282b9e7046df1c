// Package dispatch runs one inbound command message through resolution, the guard chain and execution.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/commands"
	"github.com/m3rciful/dispatchbot/core/events"
	"github.com/m3rciful/dispatchbot/core/logger"
)

var (
	// ErrRegistryNotBuilt is returned by New when the registry has not been built.
	ErrRegistryNotBuilt = errors.New("dispatch: registry not built")
	// ErrMalformedCallname is returned by Dispatch for an empty or whitespace-bearing callname.
	ErrMalformedCallname = errors.New("dispatch: malformed callname")
	// ErrNilMessage is returned by Dispatch when no message is provided.
	ErrNilMessage = errors.New("dispatch: nil message")
)

// PermissionProvider resolves the permissions granted to the author of a message.
// determinate is false when the message context carries no permissions, e.g. a private chat.
type PermissionProvider interface {
	Permissions(ctx context.Context, msg *commands.Message) (granted commands.Permissions, determinate bool, err error)
}

// PermissionFunc adapts a function to PermissionProvider.
type PermissionFunc func(ctx context.Context, msg *commands.Message) (commands.Permissions, bool, error)

// Permissions calls f.
func (f PermissionFunc) Permissions(ctx context.Context, msg *commands.Message) (commands.Permissions, bool, error) {
	return f(ctx, msg)
}

// Result tells whether a dispatch reached the handler.
type Result int

const (
	// Rejected means a lookup or guard stopped the dispatch.
	Rejected Result = iota
	// Executed means the handler was started and the invocation recorded.
	Executed
)

// Outcome is the tagged result of a dispatch.
type Outcome struct {
	Result Result
	// Event is the published rejection kind; empty when Executed.
	Event   events.Kind
	Command string
}

// Executed reports whether the handler was started.
func (o Outcome) Executed() bool { return o.Result == Executed }

func (o Outcome) String() string {
	if o.Executed() {
		return "executed"
	}
	return "rejected:" + string(o.Event)
}

// Options wires the dispatcher collaborators.
type Options struct {
	Registry    *commands.Registry
	Bus         *events.Bus
	Permissions PermissionProvider
}

// Dispatcher resolves commands, evaluates guards and starts handlers.
type Dispatcher struct {
	reg   *commands.Registry
	bus   *events.Bus
	perms PermissionProvider

	inflight sync.WaitGroup
}

// New validates the collaborators. A missing or unbuilt registry is a configuration error.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: nil registry")
	}
	if !opts.Registry.Built() {
		return nil, ErrRegistryNotBuilt
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("dispatch: nil event bus")
	}
	perms := opts.Permissions
	if perms == nil {
		perms = PermissionFunc(noPermissions)
	}
	return &Dispatcher{
		reg:   opts.Registry,
		bus:   opts.Bus,
		perms: perms,
	}, nil
}

func noPermissions(context.Context, *commands.Message) (commands.Permissions, bool, error) {
	return commands.PermNone, false, nil
}

// Dispatch handles one command invocation. Rejections are reported on the bus and return a nil error;
// errors are reserved for programming mistakes such as a malformed callname.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *commands.Message, callname string, args []string) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg == nil {
		return Outcome{}, ErrNilMessage
	}
	if callname == "" || strings.TrimSpace(callname) != callname || strings.ContainsAny(callname, " \t\n") {
		return Outcome{}, fmt.Errorf("%w: %q", ErrMalformedCallname, callname)
	}

	handler, desc, ok := d.reg.Lookup(callname)
	if !ok {
		return d.reject(ctx, msg, callname, args, nil, events.UnknownCommand), nil
	}

	if kind, rejected := d.guard(ctx, msg, desc); rejected {
		return d.reject(ctx, msg, callname, args, &desc, kind), nil
	}

	d.start(ctx, handler, desc, msg, callname, args)
	d.reg.RecordInvocation(desc.Name, msg.AuthorID)

	logger.Info(ctx, "cmd.dispatch", "dispatch.executed",
		slog.String("status", "ok"),
		slog.String("command", desc.Name),
		slog.String("callname", callname),
		slog.Int64("user_id", msg.AuthorID),
		slog.String("chat_type", msg.Channel.String()),
	)
	return Outcome{Result: Executed, Command: desc.Name}, nil
}

// guard evaluates guild-only, cooldown and permission checks in that order.
func (d *Dispatcher) guard(ctx context.Context, msg *commands.Message, desc commands.Descriptor) (events.Kind, bool) {
	if desc.GuildOnly && msg.IsDirect() {
		return events.GuildOnlyInDM, true
	}
	if d.reg.IsOnCooldown(desc.Name, msg.AuthorID, desc.CooldownSeconds) {
		return events.OnCooldown, true
	}
	if !d.permitted(ctx, msg, desc) {
		return events.PermissionDenied, true
	}
	return "", false
}

func (d *Dispatcher) permitted(ctx context.Context, msg *commands.Message, desc commands.Descriptor) bool {
	if desc.Permissions.Empty() {
		return true
	}
	granted, determinate, err := d.perms.Permissions(ctx, msg)
	if err != nil {
		logger.Warn(ctx, "cmd.dispatch", "permissions.lookup",
			slog.String("status", "fail"),
			slog.String("command", desc.Name),
			slog.Int64("user_id", msg.AuthorID),
			slog.String("err", logger.Truncate(err.Error(), 256)),
		)
		return false
	}
	if !determinate {
		return false
	}
	return granted.Has(desc.Permissions)
}

func (d *Dispatcher) reject(ctx context.Context, msg *commands.Message, callname string, args []string, desc *commands.Descriptor, kind events.Kind) Outcome {
	attrs := []slog.Attr{
		slog.String("status", "skip"),
		slog.String("guard", string(kind)),
		slog.String("callname", logger.Truncate(callname, 64)),
		slog.Int64("user_id", msg.AuthorID),
		slog.String("chat_type", msg.Channel.String()),
	}
	name := ""
	if desc != nil {
		name = desc.Name
		attrs = append(attrs, slog.String("command", name))
	}
	logger.Debug(ctx, "cmd.dispatch", "dispatch.rejected", attrs...)

	d.bus.Publish(ctx, events.Event{
		Kind:     kind,
		Message:  msg,
		Callname: callname,
		Args:     args,
		Command:  desc,
	})
	return Outcome{Result: Rejected, Event: kind, Command: name}
}

// start runs the handler in its own goroutine. A panic or error stays inside that goroutine.
func (d *Dispatcher) start(ctx context.Context, h commands.Handler, desc commands.Descriptor, msg *commands.Message, callname string, args []string) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		start := time.Now()
		err := execute(ctx, h, msg, args)
		ev := events.Event{
			Kind:     events.CommandExecuted,
			Message:  msg,
			Callname: callname,
			Args:     args,
			Command:  &desc,
			Err:      err,
		}
		if err != nil {
			ev.Kind = events.CommandFailed
			logger.Error(ctx, "cmd.dispatch", "handler.failed",
				slog.String("status", "fail"),
				slog.String("command", desc.Name),
				slog.Int64("user_id", msg.AuthorID),
				slog.String("err", logger.Truncate(err.Error(), 256)),
				slog.Duration("duration", logger.Since(start)),
			)
		} else {
			logger.Debug(ctx, "cmd.dispatch", "handler.done",
				slog.String("status", "ok"),
				slog.String("command", desc.Name),
				slog.Duration("duration", logger.Since(start)),
			)
		}
		d.bus.Publish(context.WithoutCancel(ctx), ev)
	}()
}

func execute(ctx context.Context, h commands.Handler, msg *commands.Message, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", r)
			logger.Error(ctx, "cmd.dispatch", "handler.panic",
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	return h.Execute(ctx, msg, args)
}

// Wait blocks until every started handler has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
