package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/dispatchbot/core/audit"
	"github.com/m3rciful/dispatchbot/core/commands"
)

// NewPingCommand answers with pong.
func NewPingCommand() commands.Handler {
	return commands.New(commands.Descriptor{
		Name:            "ping",
		Description:     "Checks that the bot is alive",
		CooldownSeconds: 5,
	}, func(ctx context.Context, msg *commands.Message, _ []string) error {
		return msg.Reply(ctx, "pong")
	})
}

const (
	defaultStatsWindow = 24 * time.Hour
	maxStatsWindow     = 30 * 24 * time.Hour
	statsLimit         = 10
)

type statsCommand struct {
	store audit.Store
	now   func() time.Time
}

// NewStatsCommand summarizes command usage from the audit journal.
func NewStatsCommand(store audit.Store, now func() time.Time) commands.Handler {
	if now == nil {
		now = time.Now
	}
	return &statsCommand{store: store, now: now}
}

func (s *statsCommand) Descriptor() commands.Descriptor {
	return commands.Descriptor{
		Name:            "stats",
		Description:     "Shows command usage for a recent window",
		Usage:           "[window, e.g. 6h]",
		CooldownSeconds: 10,
		Permissions:     commands.PermAdministrator,
		GuildOnly:       true,
	}
}

func (s *statsCommand) Execute(ctx context.Context, msg *commands.Message, args []string) error {
	window, err := ParseWindow(args)
	if err != nil {
		return msg.Reply(ctx, err.Error())
	}
	usage, err := s.store.Usage(ctx, s.now().Add(-window), statsLimit)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	return msg.Reply(ctx, RenderStats(window, usage))
}

// ParseWindow reads the optional window argument of the stats command.
func ParseWindow(args []string) (time.Duration, error) {
	if len(args) == 0 {
		return defaultStatsWindow, nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q, try 6h or 30m", args[0])
	}
	if d > maxStatsWindow {
		d = maxStatsWindow
	}
	return d, nil
}

// RenderStats formats usage rows, busiest command first.
func RenderStats(window time.Duration, usage []audit.Usage) string {
	if len(usage) == 0 {
		return fmt.Sprintf("No commands recorded in the last %s.", formatWindow(window))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Command usage, last %s", formatWindow(window))
	for _, u := range usage {
		fmt.Fprintf(&b, "\n%s: %d executed, %d failed, %d rejected", u.Command, u.Executed, u.Failed, u.Rejected)
	}
	return b.String()
}

func formatWindow(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.Round(time.Second).String()
}
