package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/dayplan/internal/bus"
	"github.com/stellarlinkco/dayplan/internal/channel"
	"github.com/stellarlinkco/dayplan/internal/config"
	"github.com/stellarlinkco/dayplan/internal/conversation"
	"github.com/stellarlinkco/dayplan/internal/cron"
	"github.com/stellarlinkco/dayplan/internal/ingest"
	"github.com/stellarlinkco/dayplan/internal/store"
	"github.com/stellarlinkco/dayplan/internal/webhook"
)

const (
	sweepJobName    = "plan-sweep"
	shutdownTimeout = 5 * time.Second
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal     // for testing signal handling
	BotFactory channel.BotFactory // for testing the telegram channel
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	stores     *store.Stores
	channels   *channel.ChannelManager
	controller *conversation.Controller
	ingest     *ingest.Handler
	server     *webhook.Server
	cron       *cron.Service
	sweepJobID string
	signalChan chan os.Signal // for testing

	handlers     sync.WaitGroup
	stopLoop     context.CancelFunc
	loopDone     chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
		done:       make(chan struct{}),
	}

	stores, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.stores = stores

	out := &outbox{bus: g.bus, channel: channel.TelegramChannelName, done: g.done}
	g.controller = conversation.NewController(stores.Users, stores.Plans, out)
	g.ingest = ingest.NewHandler(stores.Users, stores.Plans, out)

	chMgr, err := channel.NewChannelManagerWithFactory(cfg.Telegram, g.bus, opts.BotFactory)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.server = webhook.NewServer(cfg.Webhook, g.ingest)
	if cfg.Telegram.Mode == config.TelegramModeWebhook {
		if h, ok := chMgr.WebhookHandler(channel.TelegramChannelName); ok {
			g.server.Handle(config.DefaultTelegramPath, h)
		}
	}

	// The sweep job always exists so it can be run by hand; a disabled sweep
	// is only taken off the schedule.
	g.cron = cron.NewService()
	job, err := g.cron.AddJob(sweepJobName, cfg.Sweep.Schedule, g.sweepPlans)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("schedule plan sweep: %w", err)
	}
	g.sweepJobID = job.ID
	if !cfg.Sweep.Enabled {
		if _, err := g.cron.EnableJob(job.ID, false); err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("disable plan sweep: %w", err)
		}
	}

	return g, nil
}

func (g *Gateway) sweepPlans(context.Context) (string, error) {
	retention := g.cfg.Sweep.RetentionDuration()
	n, err := g.stores.Plans.Sweep(time.Now().Add(-retention))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("dropped %d cached plans older than %s", n, retention), nil
}

// SweepNow runs the plan sweep immediately and reports its outcome.
func (g *Gateway) SweepNow() (cron.JobState, error) {
	if err := g.cron.RunJob(g.sweepJobID); err != nil {
		return cron.JobState{}, err
	}
	job, ok := g.cron.Job(g.sweepJobID)
	if !ok {
		return cron.JobState{}, fmt.Errorf("job %s not found", sweepJobName)
	}
	if job.State.LastStatus == "error" {
		return job.State, fmt.Errorf("plan sweep: %s", job.State.LastError)
	}
	return job.State, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.server.Start(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start webhook server: %w", err)
	}

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if next := g.cron.NextRun(g.sweepJobID); next.IsZero() {
		log.Printf("[gateway] plan sweep disabled")
	} else {
		log.Printf("[gateway] next plan sweep at %s", next.Format(time.RFC3339))
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	g.stopLoop = stopLoop
	g.loopDone = make(chan struct{})
	go func() {
		defer close(g.loopDone)
		g.processLoop(loopCtx)
	}()

	log.Printf("[gateway] running on %s", g.server.Addr())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop hands each inbound message to the controller on its own
// goroutine.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handlers.Add(1)
			go func() {
				defer g.handlers.Done()
				cmd := g.controller.Handle(msg)
				log.Printf("[gateway] answered %s for chat %d", cmd, msg.ChatID)
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	var firstErr error
	g.shutdownOnce.Do(func() {
		g.cron.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := g.server.Stop(ctx); err != nil {
			log.Printf("[gateway] stop webhook server warning: %v", err)
		}

		if g.stopLoop != nil {
			g.stopLoop()
			<-g.loopDone
		}
		g.drainHandlers()

		_ = g.channels.StopAll()

		if err := g.stores.Close(); err != nil {
			log.Printf("[gateway] close store warning: %v", err)
			firstErr = err
		}
		log.Printf("[gateway] shutdown complete")
	})
	return firstErr
}

// drainHandlers waits for in-flight replies, then releases any handler still
// blocked on a full outbound queue.
func (g *Gateway) drainHandlers() {
	finished := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(shutdownTimeout):
		log.Printf("[gateway] timeout waiting for message handlers")
	}
	close(g.done)
}

// outbox publishes replies to the bus for the given channel.
type outbox struct {
	bus     *bus.MessageBus
	channel string
	done    <-chan struct{}
}

func (o *outbox) Send(chatID int64, text string, keyboard bus.Keyboard) {
	msg := bus.OutboundMessage{
		Channel:  o.channel,
		ChatID:   chatID,
		Content:  text,
		Keyboard: keyboard,
	}
	select {
	case o.bus.Outbound <- msg:
	case <-o.done:
		log.Printf("[gateway] dropped reply to %d: shutting down", chatID)
	}
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
