package telegram

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/m3rciful/dispatchbot/core/commands"

	tele "gopkg.in/telebot.v4"
)

// Telegram accepts 1-32 lowercase letters, digits and underscores as a menu command.
var menuCommandRe = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

const maxMenuDescription = 256

// MenuCommands lists visible descriptors in the form shown by the Telegram command menu.
// Hidden commands and names Telegram would reject are skipped.
func MenuCommands(descs []commands.Descriptor) []tele.Command {
	list := make([]tele.Command, 0, len(descs))
	for _, d := range descs {
		if d.Hidden || !menuCommandRe.MatchString(d.Name) {
			continue
		}
		desc := d.Description
		if desc == "" {
			desc = d.Name
		}
		if len(desc) > maxMenuDescription {
			desc = desc[:maxMenuDescription]
		}
		list = append(list, tele.Command{Text: d.Name, Description: desc})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// MenuSetter is the part of *tele.Bot that publishes the command menu.
type MenuSetter interface {
	SetCommands(opts ...any) error
}

// SetMenu publishes the command menu and returns how many entries it holds. It only
// makes sense for the "/" prefix, since Telegram renders every entry as a slash command.
func SetMenu(bot MenuSetter, descs []commands.Descriptor) (int, error) {
	list := MenuCommands(descs)
	if err := bot.SetCommands(list); err != nil {
		return 0, fmt.Errorf("telegram: set menu: %w", err)
	}
	return len(list), nil
}
