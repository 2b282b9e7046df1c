package commands

import (
	"context"
	"strings"
)

// ChannelKind tells whether a message was posted in a group chat or a private one.
type ChannelKind int

const (
	// ChannelDirect is a one-to-one conversation with the bot.
	ChannelDirect ChannelKind = iota
	// ChannelGuild is a group or supergroup chat.
	ChannelGuild
)

// String returns the log-friendly name of the channel kind.
func (k ChannelKind) String() string {
	switch k {
	case ChannelGuild:
		return "guild"
	default:
		return "direct"
	}
}

// Responder sends text back to the author of a message.
type Responder interface {
	Reply(ctx context.Context, text string) error
	DirectMessage(ctx context.Context, text string) error
}

// Message is the platform-neutral view of an inbound chat message.
type Message struct {
	ID         int
	AuthorID   int64
	AuthorName string
	ChatID     int64
	Channel    ChannelKind
	Content    string

	Responder Responder
}

// IsDirect reports whether the message was sent in a private chat.
func (m *Message) IsDirect() bool {
	return m == nil || m.Channel != ChannelGuild
}

// Reply answers in the chat the message came from. It is a no-op without a responder.
func (m *Message) Reply(ctx context.Context, text string) error {
	if m == nil || m.Responder == nil {
		return nil
	}
	return m.Responder.Reply(ctx, text)
}

// DirectMessage sends text privately to the author.
func (m *Message) DirectMessage(ctx context.Context, text string) error {
	if m == nil || m.Responder == nil {
		return nil
	}
	return m.Responder.DirectMessage(ctx, text)
}

// Descriptor holds the static metadata of a command.
type Descriptor struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// CooldownSeconds is the per-user interval between invocations; 0 disables it.
	CooldownSeconds int
	Permissions     Permissions
	GuildOnly       bool
	Hidden          bool
}

// Callnames returns the name followed by the aliases, without duplicates.
func (d Descriptor) Callnames() []string {
	out := make([]string, 0, len(d.Aliases)+1)
	seen := make(map[string]struct{}, len(d.Aliases)+1)
	for _, name := range append([]string{d.Name}, d.Aliases...) {
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (d Descriptor) clone() Descriptor {
	d.Aliases = append([]string(nil), d.Aliases...)
	return d
}

func (d Descriptor) validate() error {
	name := d.Name
	if strings.TrimSpace(name) == "" {
		return &InvalidDescriptorError{Command: name, Reason: "empty name"}
	}
	for _, cn := range d.Callnames() {
		if strings.IndexFunc(cn, isSpace) >= 0 {
			return &InvalidDescriptorError{Command: name, Reason: "callname " + cn + " contains whitespace"}
		}
	}
	for _, alias := range d.Aliases {
		if alias == "" {
			return &InvalidDescriptorError{Command: name, Reason: "empty alias"}
		}
	}
	if d.CooldownSeconds < 0 {
		return &InvalidDescriptorError{Command: name, Reason: "negative cooldown"}
	}
	return nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

// Handler is a command implementation bound to one descriptor.
// Execute must not touch registry cooldown state; the dispatcher records invocations.
type Handler interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, msg *Message, args []string) error
}

// HandlerFunc is the execution body of a command built with New.
type HandlerFunc func(ctx context.Context, msg *Message, args []string) error

type funcHandler struct {
	desc Descriptor
	fn   HandlerFunc
}

// New wraps a descriptor and a function into a Handler.
func New(desc Descriptor, fn HandlerFunc) Handler {
	return &funcHandler{desc: desc.clone(), fn: fn}
}

func (h *funcHandler) Descriptor() Descriptor { return h.desc.clone() }

func (h *funcHandler) Execute(ctx context.Context, msg *Message, args []string) error {
	if h.fn == nil {
		return nil
	}
	return h.fn(ctx, msg, args)
}
