package bot

import (
	"context"
	"strings"

	"github.com/m3rciful/dispatchbot/core/commands"
)

// DescriptorLister is the read-only registry view the help command needs.
type DescriptorLister interface {
	Descriptors() []commands.Descriptor
}

type helpCommand struct {
	list   DescriptorLister
	prefix string
}

// NewHelpCommand sends the author a private listing of the visible commands.
func NewHelpCommand(list DescriptorLister, prefix string) commands.Handler {
	return &helpCommand{list: list, prefix: prefix}
}

func (h *helpCommand) Descriptor() commands.Descriptor {
	return commands.Descriptor{
		Name:        "help",
		Aliases:     []string{"h", "halp", "aled"},
		Description: "Sends you a private message listing the available commands",
	}
}

func (h *helpCommand) Execute(ctx context.Context, msg *commands.Message, _ []string) error {
	if err := msg.DirectMessage(ctx, RenderHelp(h.prefix, h.list.Descriptors())); err != nil {
		return err
	}
	if !msg.IsDirect() {
		return msg.Reply(ctx, "I've sent you the command list in a private message.")
	}
	return nil
}

// RenderHelp formats the help listing. Hidden commands are left out.
func RenderHelp(prefix string, descs []commands.Descriptor) string {
	var b strings.Builder
	b.WriteString("Available commands\n")
	for _, d := range descs {
		if d.Hidden {
			continue
		}
		b.WriteString("\n")
		b.WriteString(prefix)
		b.WriteString(d.Name)
		if d.Description != "" {
			b.WriteString(" - ")
			b.WriteString(d.Description)
		}
		b.WriteString("\n")
		if len(d.Aliases) > 0 {
			aliases := make([]string, len(d.Aliases))
			for i, a := range d.Aliases {
				aliases[i] = prefix + a
			}
			b.WriteString("  aliases: ")
			b.WriteString(strings.Join(aliases, ", "))
			b.WriteString("\n")
		}
		if d.Usage != "" {
			b.WriteString("  usage: ")
			b.WriteString(prefix)
			b.WriteString(d.Name)
			b.WriteString(" ")
			b.WriteString(d.Usage)
			b.WriteString("\n")
		}
		if d.GuildOnly {
			b.WriteString("  group chats only\n")
		}
		if !d.Permissions.Empty() {
			b.WriteString("  requires: ")
			b.WriteString(d.Permissions.String())
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
