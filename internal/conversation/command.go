package conversation

import (
	"strings"

	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/store"
)

// Reply keyboard labels.
const (
	LabelToday    = "📅 Сегодня"
	LabelTomorrow = "📆 Завтра"
	LabelLast     = "🔁 Повторить последний"
	LabelSettings = "⚙️ Настройки"
	LabelHelp     = "❓ Помощь"
)

// Command is what an inbound chat text asks for.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandRegister
	CommandToday
	CommandTomorrow
	CommandRepeatLast
	CommandSettings
	CommandHelp
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandRegister:
		return "register"
	case CommandToday:
		return "today"
	case CommandTomorrow:
		return "tomorrow"
	case CommandRepeatLast:
		return "repeat-last"
	case CommandSettings:
		return "settings"
	case CommandHelp:
		return "help"
	default:
		return "unknown"
	}
}

var commands = map[string]Command{
	"/start":      CommandStart,
	LabelToday:    CommandToday,
	"/today":      CommandToday,
	LabelTomorrow: CommandTomorrow,
	"/tomorrow":   CommandTomorrow,
	LabelLast:     CommandRepeatLast,
	"/last":       CommandRepeatLast,
	LabelSettings: CommandSettings,
	"/settings":   CommandSettings,
	LabelHelp:     CommandHelp,
	"/help":       CommandHelp,
}

// Parse classifies text. Exact commands and button labels win over the email
// check; anything else is CommandUnknown.
func Parse(text string) Command {
	text = strings.TrimSpace(text)
	if cmd, ok := commands[text]; ok {
		return cmd
	}
	if _, ok := store.NormalizeEmail(text); ok {
		return CommandRegister
	}
	return CommandUnknown
}

// MainMenu is the reply keyboard attached to every answer.
func MainMenu() bus.Keyboard {
	return bus.Keyboard{
		{LabelToday, LabelTomorrow},
		{LabelLast},
		{LabelSettings, LabelHelp},
	}
}
