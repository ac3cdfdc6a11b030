package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/config"
)

// WebhookReceiver is implemented by channels that take updates over HTTP.
type WebhookReceiver interface {
	WebhookHandler() http.Handler
}

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

// NewChannelManager creates the telegram channel when a token is configured
// and subscribes it to outbound traffic.
func NewChannelManager(cfg config.TelegramConfig, b *bus.MessageBus) (*ChannelManager, error) {
	return NewChannelManagerWithFactory(cfg, b, defaultBotFactory)
}

// NewChannelManagerWithFactory is NewChannelManager with a custom bot factory (for testing)
func NewChannelManagerWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*ChannelManager, error) {
	if factory == nil {
		factory = defaultBotFactory
	}
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Token != "" {
		ch, err := NewTelegramChannelWithFactory(cfg, b, factory)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Add(ch)
	}

	return m, nil
}

// Add registers ch and routes its outbound messages to Send.
func (m *ChannelManager) Add(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s/%d failed: %v", ch.Name(), msg.ChatID, err)
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WebhookHandler returns the HTTP intake of the named channel, if it has one.
func (m *ChannelManager) WebhookHandler(name string) (http.Handler, bool) {
	ch, ok := m.channels[name]
	if !ok {
		return nil, false
	}
	recv, ok := ch.(WebhookReceiver)
	if !ok {
		return nil, false
	}
	return recv.WebhookHandler(), true
}
