package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Parser turns a chat message into an agent selection and directive.
// *router.Router satisfies it.
type Parser interface {
	Parse(ctx context.Context, message string) ([]string, string, error)
}

// Executor is satisfied by *dispatch.Dispatcher.
type Executor interface {
	Execute(ctx context.Context, directive string, agentIDs []string) (dispatch.RunState, error)
}

type Bot struct {
	bot      *telego.Bot
	handler  *th.BotHandler
	parser   Parser
	exec     Executor
	registry *registry.Registry
	cancel   context.CancelFunc

	mu        sync.RWMutex
	allowFrom []int64
}

func NewBot(cfg config.TelegramConfig, parser Parser, exec Executor, reg *registry.Registry) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:       bot,
		parser:    parser,
		exec:      exec,
		registry:  reg,
		allowFrom: slices.Clone(cfg.AllowFrom),
	}, nil
}

// SetAllowFrom replaces the user allow-list. An empty list allows everyone.
func (b *Bot) SetAllowFrom(ids []int64) {
	b.mu.Lock()
	b.allowFrom = slices.Clone(ids)
	b.mu.Unlock()
}

func (b *Bot) allowed(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.allowFrom) == 0 || slices.Contains(b.allowFrom, userID)
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
		if msg.Caption == "" {
			return
		}
		text = msg.Caption
	}

	switch command(text) {
	case "/start", "/help", "/agents":
		b.reply(ctx, chatID, agentsText(b.registry.List()))
		return
	}

	ids, directive, err := b.parser.Parse(ctx, text)
	if err != nil {
		b.reply(ctx, chatID, "Could not select agents: "+err.Error())
		return
	}

	_ = b.sendChatAction(ctx, chatID, "typing")

	run, err := b.exec.Execute(dispatch.WithSource(ctx, "telegram"), directive, ids)
	switch {
	case errors.Is(err, dispatch.ErrSuperseded):
		b.reply(ctx, chatID, "This run was replaced by a newer directive before it finished.")
		return
	case err != nil:
		slog.Error("telegram directive failed", "chat", chatID, "error", err)
		b.reply(ctx, chatID, "Sorry, I could not run that directive: "+err.Error())
		return
	}

	b.sendRun(ctx, chatID, run)
}

// NotifyRun posts a finished run to chatID with a title line first.
func (b *Bot) NotifyRun(ctx context.Context, chatID int64, title string, run dispatch.RunState) error {
	if err := b.SendMessage(ctx, chatID, summaryLine(title, run)); err != nil {
		return err
	}
	b.sendRun(ctx, chatID, run)
	return nil
}

// sendRun sends one message per outcome in selection order.
func (b *Bot) sendRun(ctx context.Context, chatID int64, run dispatch.RunState) {
	for _, o := range run.Ordered() {
		if err := b.SendMessage(ctx, chatID, formatOutcome(b.displayName(o.AgentID), o)); err != nil {
			slog.Error("failed to send telegram message", "chat", chatID, "agent", o.AgentID, "error", err)
		}
	}
}

func (b *Bot) displayName(id string) string {
	if p, err := b.registry.Get(id); err == nil {
		return p.Name
	}
	return id
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}

// command returns the leading slash command of text without any @botname
// suffix, or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	return strings.ToLower(cmd)
}

func agentsText(profiles []registry.AgentProfile) string {
	var sb strings.Builder
	sb.WriteString("Available agents:\n")
	for _, p := range profiles {
		fmt.Fprintf(&sb, "\n@%s  %s\n%s\n", p.ID, p.Name, p.Description)
	}
	sb.WriteString("\nMention agents at the start of a message, e.g. @inspector @scheduler Hail hit Frisco. Use @all for every agent.")
	return sb.String()
}

func summaryLine(title string, run dispatch.RunState) string {
	ok, failed, _ := run.Counts()
	return fmt.Sprintf("%s\n%d succeeded, %d failed", title, ok, failed)
}
