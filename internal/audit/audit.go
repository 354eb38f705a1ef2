// Package audit mirrors notable ticket transitions to operations
// channels. Sinks are best-effort: a failed audit line is logged and
// dropped, never retried and never surfaced to the actor.
package audit

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/internal/connector/telegram"
)

// Sink receives one audit line, already formatted as Telegram HTML.
type Sink interface {
	Audit(ctx context.Context, html string)
}

// Fanout delivers each line to every sink.
type Fanout []Sink

func (f Fanout) Audit(ctx context.Context, html string) {
	for _, s := range f {
		s.Audit(ctx, html)
	}
}

// TelegramSink posts audit lines to a Telegram channel or chat.
type TelegramSink struct {
	surface connector.Surface
	chatID  int64
	logger  *slog.Logger
}

// NewTelegram creates a Telegram audit sink.
func NewTelegram(surface connector.Surface, chatID int64, logger *slog.Logger) *TelegramSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramSink{surface: surface, chatID: chatID, logger: logger}
}

func (s *TelegramSink) Audit(ctx context.Context, html string) {
	if _, err := s.surface.Send(ctx, connector.Outbound{ChatID: s.chatID, Text: html}); err != nil {
		s.logger.Warn("audit line dropped", "sink", "telegram", "error", err)
	}
}

// SlackSink posts audit lines to a Slack channel. HTML markup is
// stripped: Slack renders mrkdwn, not Telegram HTML.
type SlackSink struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack audit sink.
func NewSlack(botToken, channel string, logger *slog.Logger) *SlackSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackSink{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackSink) Audit(ctx context.Context, html string) {
	text := telegram.StripTags(html)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		s.logger.Warn("audit line dropped", "sink", "slack", "error", err)
	}
}
