package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/m3rciful/dispatchbot/core/events"
	"github.com/m3rciful/dispatchbot/core/logger"
)

// CooldownReader reports how long a user still waits for a command.
type CooldownReader interface {
	Remaining(name string, userID int64, cooldownSeconds int) time.Duration
}

// Notices tells the invoker why a command did not run.
type Notices struct {
	Cooldowns     CooldownReader
	Prefix        string
	NotifyUnknown bool
}

// Attach subscribes the notice listeners and returns a function removing them all.
func (n *Notices) Attach(bus *events.Bus) func() {
	kinds := []events.Kind{events.OnCooldown, events.PermissionDenied, events.GuildOnlyInDM}
	if n.NotifyUnknown {
		kinds = append(kinds, events.UnknownCommand)
	}
	return bus.SubscribeAll(n, kinds...)
}

// HandleEvent replies to the message that triggered ev.
func (n *Notices) HandleEvent(ctx context.Context, ev events.Event) error {
	text := n.Text(ev)
	if text == "" || ev.Message == nil {
		return nil
	}
	if err := ev.Message.Reply(ctx, text); err != nil {
		logger.Warn(ctx, "app", "notice.reply",
			slog.String("status", "fail"),
			slog.String("kind", string(ev.Kind)),
			slog.String("err", logger.Truncate(err.Error(), 256)),
		)
		return err
	}
	return nil
}

// Text renders the notice for ev, or "" when the kind has no notice.
func (n *Notices) Text(ev events.Event) string {
	switch ev.Kind {
	case events.OnCooldown:
		if ev.Command == nil || ev.Message == nil {
			return ""
		}
		secs := 1
		if n.Cooldowns != nil {
			left := n.Cooldowns.Remaining(ev.Command.Name, ev.Message.AuthorID, ev.Command.CooldownSeconds)
			if s := int(math.Ceil(left.Seconds())); s > secs {
				secs = s
			}
		}
		return fmt.Sprintf("Please wait %d more second%s before using %s%s again.",
			secs, plural(secs), n.Prefix, ev.Command.Name)
	case events.PermissionDenied:
		if ev.Command == nil {
			return ""
		}
		return fmt.Sprintf("You need %s to use %s%s.", ev.Command.Permissions, n.Prefix, ev.Command.Name)
	case events.GuildOnlyInDM:
		if ev.Command == nil {
			return ""
		}
		return fmt.Sprintf("%s%s can only be used in a group chat.", n.Prefix, ev.Command.Name)
	case events.UnknownCommand:
		return fmt.Sprintf("Unknown command %s%s. Try %shelp.", n.Prefix, ev.Callname, n.Prefix)
	}
	return ""
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
