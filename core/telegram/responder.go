package telegram

import (
	"context"
	"errors"

	"github.com/m3rciful/dispatchbot/core/commands"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// ErrNoSender is returned when a direct message is requested for an update without a sender.
var ErrNoSender = errors.New("telegram: update has no sender")

// Responder answers through the update the command arrived with.
// Sends go through the reply queue when one is installed.
type Responder struct {
	c tele.Context
}

var _ commands.Responder = Responder{}

// NewResponder wraps a telebot context.
func NewResponder(c tele.Context) Responder {
	return Responder{c: c}
}

// Reply posts text in the originating chat, quoting the command message.
func (r Responder) Reply(_ context.Context, text string) error {
	return tghelpers.Reply(r.c, text)
}

// DirectMessage posts text in the author's private chat.
func (r Responder) DirectMessage(_ context.Context, text string) error {
	user := r.c.Sender()
	if user == nil {
		return ErrNoSender
	}
	return tghelpers.SendTo(r.c, user, text)
}

// ChannelOf classifies a chat. Groups and supergroups are guild channels; everything else is direct.
func ChannelOf(chat *tele.Chat) commands.ChannelKind {
	if chat == nil {
		return commands.ChannelDirect
	}
	switch chat.Type {
	case tele.ChatGroup, tele.ChatSuperGroup:
		return commands.ChannelGuild
	default:
		return commands.ChannelDirect
	}
}

// MessageFrom converts the update's message into the dispatcher's message model.
// It returns nil when the update carries no message or no sender.
func MessageFrom(c tele.Context) *commands.Message {
	msg := c.Message()
	user := c.Sender()
	if msg == nil || user == nil {
		return nil
	}
	out := &commands.Message{
		ID:         msg.ID,
		AuthorID:   user.ID,
		AuthorName: displayName(user),
		Content:    msg.Text,
		Responder:  NewResponder(c),
	}
	if chat := c.Chat(); chat != nil {
		out.ChatID = chat.ID
		out.Channel = ChannelOf(chat)
	}
	return out
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	return name
}
