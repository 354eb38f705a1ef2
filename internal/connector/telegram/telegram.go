package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token string // Bot token from @BotFather
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a rendering to a Telegram chat and returns its binding.
func (c *Connector) Send(_ context.Context, out connector.Outbound) (protocol.MessageRef, error) {
	if strings.TrimSpace(out.Text) == "" {
		return protocol.MessageRef{}, fmt.Errorf("telegram: empty message for chat %d", out.ChatID)
	}

	msg := tgbotapi.NewMessage(out.ChatID, out.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if kb := keyboard(out.Actions); kb != nil {
		msg.ReplyMarkup = *kb
	} else if out.ForceReply {
		msg.ReplyMarkup = tgbotapi.ForceReply{ForceReply: true, Selective: true}
	}

	sent, err := c.bot.Send(msg)
	if err != nil {
		// Fallback to plain text if HTML parsing fails.
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", out.ChatID,
			"error", err,
		)
		msg.Text = StripTags(out.Text)
		msg.ParseMode = ""
		sent, err = c.bot.Send(msg)
	}
	if err != nil {
		return protocol.MessageRef{}, fmt.Errorf("telegram: send to %d: %w", out.ChatID, err)
	}
	return protocol.MessageRef{ChatID: sent.Chat.ID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text and keyboard of an earlier rendering.
func (c *Connector) Edit(_ context.Context, ref protocol.MessageRef, text string, actions [][]connector.Action) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard(actions)

	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("telegram: edit %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

// SendDocument uploads a file to a chat.
func (c *Connector) SendDocument(_ context.Context, chatID int64, filename string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	if _, err := c.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram: send document to %d: %w", chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press with a toast notice.
func (c *Connector) AnswerCallback(_ context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := c.bot.Request(cb); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		c.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}

	msg := update.Message
	if msg.From == nil {
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}

	in := connector.Inbound{
		Actor:     protocol.Actor{ID: msg.From.ID, Name: displayName(msg.From)},
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Private:   msg.Chat.IsPrivate(),
		Text:      text,
	}
	if msg.IsCommand() {
		in.Command = msg.Command()
		in.CommandArgs = msg.CommandArguments()
	}
	if msg.ReplyToMessage != nil {
		in.ReplyTo = &protocol.MessageRef{
			ChatID:    msg.Chat.ID,
			MessageID: msg.ReplyToMessage.MessageID,
		}
	}

	c.handler(ctx, in)
}

func (c *Connector) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil || cb.Message == nil {
		return
	}

	in := connector.Inbound{
		Actor:     protocol.Actor{ID: cb.From.ID, Name: displayName(cb.From)},
		ChatID:    cb.Message.Chat.ID,
		MessageID: cb.Message.MessageID,
		Private:   cb.Message.Chat.IsPrivate(),
		Callback: &connector.Callback{
			ID:   cb.ID,
			Data: cb.Data,
			Ref: protocol.MessageRef{
				ChatID:    cb.Message.Chat.ID,
				MessageID: cb.Message.MessageID,
			},
		},
	}

	c.handler(ctx, in)
}

// keyboard converts action rows to an inline keyboard. Returns nil for
// no actions so callers can omit the markup entirely.
func keyboard(actions [][]connector.Action) *tgbotapi.InlineKeyboardMarkup {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(actions))
	for _, row := range actions {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		rows = append(rows, buttons)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	if name == "" {
		name = fmt.Sprintf("id%d", u.ID)
	}
	return name
}
