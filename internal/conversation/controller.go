package conversation

import (
	"fmt"
	"log"
	"strings"

	"github.com/stellarlinkco/dayplan/internal/agenda"
	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/store"
)

const (
	textWelcome    = "Привет 👋\n\nВведи свою корпоративную почту, чтобы получать план дня 📅"
	textRegistered = "✅ Почта <b>%s</b> сохранена.\n\n" +
		"Теперь я буду присылать тебе план дня каждый день в 09:00 📅"
	textRegisterFirst = "✉️ Сначала введи свою корпоративную почту, чтобы я знал, чей план показывать."
	textNotYet        = "⏳ План на %s ещё не готов. Я пришлю его, как только получу."
	textNothingCached = "🤷 Пока нечего повторить: планов ещё не было."
	textUnavailable   = "⚠️ Не удалось получить план. Попробуй ещё раз чуть позже."
	textSettings      = "⚙️ Настройки пока в разработке.\n\nЧтобы сменить почту, просто отправь новую."
	textSettingsEmail = "⚙️ Настройки\n\nПочта: <b>%s</b>\n\nЧтобы сменить почту, просто отправь новую."
	textHelp          = "❓ Как это работает\n\n" +
		"1. Отправь свою корпоративную почту.\n" +
		"2. Каждое утро я пришлю план дня из календаря.\n" +
		"3. Кнопки внизу покажут план на сегодня, на завтра или повторят последний."
	textUnknown = "🤔 Не понял сообщение. Выбери действие в меню или введи корректную корпоративную почту."
)

// Sender delivers one message to a chat. Delivery failures are the sender's
// concern and never reach the controller.
type Sender interface {
	Send(chatID int64, text string, keyboard bus.Keyboard)
}

// Controller answers chat messages from the registry and plan cache.
type Controller struct {
	users  store.Registry
	plans  store.PlanCache
	sender Sender
}

func NewController(users store.Registry, plans store.PlanCache, sender Sender) *Controller {
	return &Controller{users: users, plans: plans, sender: sender}
}

// Handle answers msg with exactly one message and reports the command it
// recognized.
func (c *Controller) Handle(msg bus.InboundMessage) Command {
	text := strings.TrimSpace(msg.Content)
	cmd := Parse(text)

	var reply string
	switch cmd {
	case CommandStart:
		reply = textWelcome
	case CommandRegister:
		reply = c.register(msg.ChatID, text)
	case CommandToday:
		reply = c.plan(msg.ChatID, agenda.Today)
	case CommandTomorrow:
		reply = c.plan(msg.ChatID, agenda.Tomorrow)
	case CommandRepeatLast:
		reply = c.last(msg.ChatID)
	case CommandSettings:
		reply = c.settings(msg.ChatID)
	case CommandHelp:
		reply = textHelp
	default:
		reply = textUnknown
	}

	c.sender.Send(msg.ChatID, reply, MainMenu())
	return cmd
}

func (c *Controller) register(chatID int64, text string) string {
	email, err := c.users.Register(text, chatID)
	if err != nil {
		log.Printf("[conversation] register chat %d: %v", chatID, err)
		return textUnknown
	}
	if err := c.plans.Touch(email); err != nil {
		log.Printf("[conversation] touch plans for %s: %v", email, err)
	}
	log.Printf("[conversation] registered %s -> %d", email, chatID)
	return fmt.Sprintf(textRegistered, agenda.EscapeHTML(email))
}

// email resolves the chat's registered email. ok is false when the chat is
// unknown; reply is set when the lookup itself failed.
func (c *Controller) email(chatID int64) (email, reply string, ok bool) {
	email, ok, err := c.users.Email(chatID)
	if err != nil {
		log.Printf("[conversation] lookup email for %d: %v", chatID, err)
		return "", textUnavailable, false
	}
	if !ok {
		return "", textRegisterFirst, false
	}
	return email, "", true
}

func (c *Controller) plan(chatID int64, day agenda.Day) string {
	email, reply, ok := c.email(chatID)
	if !ok {
		return reply
	}
	text, ok, err := c.plans.Get(email, day)
	if err != nil {
		log.Printf("[conversation] get %s plan for %s: %v", day, email, err)
		return textUnavailable
	}
	if !ok {
		return fmt.Sprintf(textNotYet, day.Label())
	}
	return text
}

func (c *Controller) last(chatID int64) string {
	email, reply, ok := c.email(chatID)
	if !ok {
		return reply
	}
	text, ok, err := c.plans.Last(email)
	if err != nil {
		log.Printf("[conversation] last plan for %s: %v", email, err)
		return textUnavailable
	}
	if !ok {
		return textNothingCached
	}
	return text
}

func (c *Controller) settings(chatID int64) string {
	email, ok, err := c.users.Email(chatID)
	if err != nil || !ok {
		return textSettings
	}
	return fmt.Sprintf(textSettingsEmail, agenda.EscapeHTML(email))
}
