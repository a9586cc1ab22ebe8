// Package telegram is a chat front-end over the Coordinator: a message
// becomes a request, the reply carries every role's block.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

const helpText = `Send me what you are looking for, one detail per line:

location: Whitefield, Bangalore
budget: 12000000
property_type: Apartment
size_sqft: 1200

or on one line: location=Pune; budget=8000000

Anything that is not a "key: value" line is passed on as requirements.`

// Aggregator is the part of the Coordinator the bot needs.
type Aggregator interface {
	Aggregate(ctx context.Context, req swarm.Request, opts ...swarm.RunOption) swarm.Response
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	coord   Aggregator
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	mu        sync.RWMutex
	allowFrom []int64
}

func NewBot(cfg config.TelegramConfig, coord Aggregator) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{
		bot:       bot,
		coord:     coord,
		cfg:       cfg,
		allowFrom: slices.Clone(cfg.AllowFrom),
	}, nil
}

// SetAllowFrom replaces the allow list. An empty list allows everyone.
func (b *Bot) SetAllowFrom(ids []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowFrom = slices.Clone(ids)
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) allowed(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.allowFrom) == 0 || slices.Contains(b.allowFrom, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	if !isCommand(text) {
		_ = b.sendChatAction(ctx, chatID, telego.ChatActionTyping)
	}

	reply := b.respond(ctx, text)
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

// respond computes the reply text for an allowed message.
func (b *Bot) respond(ctx context.Context, text string) string {
	if isCommand(text) {
		return helpText
	}

	req := ParseRequest(text)
	if req.Len() == 0 {
		return helpText
	}

	resp := b.coord.Aggregate(ctx, req, swarm.WithSource("telegram"))
	slog.Info("telegram aggregate done", "run", resp.ID, "failed", resp.Failed)
	return renderResponse(resp)
}

// renderResponse joins the role blocks in configured order.
func renderResponse(resp swarm.Response) string {
	blocks := make([]string, 0, len(resp.Roles))
	for _, role := range resp.Roles {
		if text := strings.TrimSpace(resp.Results[role]); text != "" {
			blocks = append(blocks, text)
		}
	}
	if len(blocks) == 0 {
		return "No results."
	}
	return strings.Join(blocks, "\n\n")
}

func isCommand(text string) bool {
	words := strings.Fields(text)
	if len(words) == 0 {
		return false
	}
	switch words[0] {
	case "/start", "/help":
		return true
	}
	return false
}
