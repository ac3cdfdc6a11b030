package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/config"
)

const (
	TelegramChannelName = "telegram"
	// Telegram has a 4096 char limit per message
	telegramMaxLen = 4000
	maxEntityLen   = 10
	maxTagLen      = 64
)

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	mode       string
	webhookURL string
	bot        TelegramBot
	proxy      string
	cancel     context.CancelFunc
	polling    bool
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = config.TelegramModePolling
	}
	if mode == config.TelegramModeWebhook && cfg.WebhookURL == "" {
		return nil, fmt.Errorf("telegram webhook mode requires a webhook url")
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel(TelegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		mode:        mode,
		webhookURL:  cfg.WebhookURL,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// Mode returns "polling" or "webhook".
func (t *TelegramChannel) Mode() string {
	return t.mode
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	if t.mode == config.TelegramModeWebhook {
		wh, err := tgbotapi.NewWebhook(t.webhookURL)
		if err != nil {
			return fmt.Errorf("build telegram webhook: %w", err)
		}
		if _, err := t.bot.Request(wh); err != nil {
			return fmt.Errorf("register telegram webhook: %w", err)
		}
		log.Printf("[telegram] webhook registered at %s", t.webhookURL)
		return nil
	}

	// getUpdates is refused while a webhook is set.
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Printf("[telegram] delete webhook warning: %v", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	t.polling = true

	go func() {
		for {
			select {
			case update := <-updates:
				t.handleUpdate(update)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

// WebhookHandler accepts updates pushed by Telegram in webhook mode.
func (t *TelegramChannel) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			log.Printf("[telegram] decode webhook update: %v", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		t.handleUpdate(update)
		w.WriteHeader(http.StatusOK)
	})
}

func (t *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil {
		return
	}
	t.handleMessage(update.Message)
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.bus.Inbound <- bus.InboundMessage{
		Channel:  TelegramChannelName,
		SenderID: senderID,
		ChatID:   msg.Chat.ID,
		Content:  content,
	}
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil && t.polling {
		t.bot.StopReceivingUpdates()
		t.polling = false
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers HTML content, attaching the keyboard to the last chunk. A
// chunk Telegram refuses to parse is resent as plain text.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("telegram chat id is required")
	}

	chunks := splitMessage(msg.Content, telegramMaxLen)
	for i, chunk := range chunks {
		tgMsg := tgbotapi.NewMessage(msg.ChatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == len(chunks)-1 {
			if markup := replyKeyboard(msg.Keyboard); markup != nil {
				tgMsg.ReplyMarkup = markup
			}
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			log.Printf("[telegram] html send to %d failed, retrying as plain text: %v", msg.ChatID, err)
			tgMsg.ParseMode = ""
			tgMsg.Text = plainText(chunk)
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

func splitMessage(content string, maxLen int) []string {
	if content == "" {
		return []string{""}
	}
	var chunks []string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			// Try to split at last newline before maxLen
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:cutPoint(chunk, maxLen)]
			}
		}
		content = content[len(chunk):]
		chunks = append(chunks, chunk)
	}
	return chunks
}

// cutPoint picks a byte offset no greater than maxLen that does not split a
// rune, an HTML entity or a tag. It always makes progress.
func cutPoint(s string, maxLen int) int {
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	head := s[:cut]
	if i := strings.LastIndexByte(head, '&'); i > 0 && cut-i < maxEntityLen && !strings.Contains(head[i:], ";") {
		cut = i
	} else if i := strings.LastIndexByte(head, '<'); i > 0 && cut-i < maxTagLen && !strings.Contains(head[i:], ">") {
		cut = i
	}
	if cut == 0 {
		_, cut = utf8.DecodeRuneInString(s)
	}
	return cut
}

func replyKeyboard(kb bus.Keyboard) *tgbotapi.ReplyKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.KeyboardButton, 0, len(kb))
	for _, labels := range kb {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, row)
	}
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	return &markup
}

var htmlTag = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// plainText strips the tags the formatter emits and unescapes entities.
func plainText(s string) string {
	return html.UnescapeString(htmlTag.ReplaceAllString(s, ""))
}
