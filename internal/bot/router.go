// Package bot routes normalized chat events to the ticket engine:
// commands, button presses, prompt replies and new-request text.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/upkeep-io/upkeep/internal/authz"
	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/internal/engine"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Exporter produces the CSV export for /export_csv.
type Exporter interface {
	CSV() ([]byte, int, error)
}

// Config wires the router's collaborators.
type Config struct {
	Engine     *engine.Engine
	Authz      *authz.Service
	Exporter   Exporter
	GroupChats map[protocol.Group]int64
	AuditChat  int64
	Logger     *slog.Logger

	Now func() time.Time
}

// Router dispatches inbound events. One instance serves the whole bot;
// Handle is invoked sequentially by the connector loop.
type Router struct {
	engine     *engine.Engine
	authz      *authz.Service
	exporter   Exporter
	groupChats map[protocol.Group]int64
	auditChat  int64
	logger     *slog.Logger
	now        func() time.Time

	conn connector.Connector
}

// New creates a router.
func New(cfg Config) *Router {
	r := &Router{
		engine:     cfg.Engine,
		authz:      cfg.Authz,
		exporter:   cfg.Exporter,
		groupChats: cfg.GroupChats,
		auditChat:  cfg.AuditChat,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Bind attaches the running connector. Called once at startup, before
// the connector starts delivering events.
func (r *Router) Bind(conn connector.Connector) { r.conn = conn }

// SetEngine attaches the engine. Split from New because the engine
// needs the connector as its surface and the connector needs Handle:
// the router is built first, then the connector, then the engine.
func (r *Router) SetEngine(e *engine.Engine) { r.engine = e }

// Handle processes one inbound event. Panics are contained per event:
// a crashing handler must not take down the polling loop.
func (r *Router) Handle(ctx context.Context, in connector.Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic", "chat", in.ChatID, "panic", rec)
			r.reply(ctx, in.ChatID, "Упс. Что-то пошло не так. Попробуйте ещё раз.")
		}
	}()

	switch {
	case in.Callback != nil:
		r.handleCallback(ctx, in)
	case in.Command != "":
		r.handleCommand(ctx, in)
	default:
		r.handleText(ctx, in)
	}
}

func (r *Router) handleCallback(ctx context.Context, in connector.Inbound) {
	cb := in.Callback
	ack, err := r.engine.HandleCallback(ctx, in.Actor, cb.Data, cb.Ref)
	if err != nil {
		r.logger.Info("callback rejected",
			"actor", in.Actor.ID, "data", cb.Data, "error", err)
		ack = engine.Notice(err)
	}
	if err := r.conn.AnswerCallback(ctx, cb.ID, ack); err != nil {
		r.logger.Warn("callback answer failed", "error", err)
	}
}

func (r *Router) handleText(ctx context.Context, in connector.Inbound) {
	if in.ReplyTo != nil {
		handled, err := r.engine.HandleReply(ctx, in.Actor, *in.ReplyTo, in.Text)
		if err != nil {
			r.reply(ctx, in.ChatID, engine.Notice(err))
			return
		}
		if handled {
			return
		}
	}

	// Free text in a private chat opens a ticket. Group chatter that
	// answers no prompt is not the bot's business.
	if !in.Private {
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		return
	}
	if _, err := r.engine.Create(ctx, in.Actor, in.ChatID, in.Text); err != nil {
		r.reply(ctx, in.ChatID, engine.Notice(err))
	}
}

func (r *Router) handleCommand(ctx context.Context, in connector.Inbound) {
	switch in.Command {
	case "start":
		r.reply(ctx, in.ChatID,
			"Привет! Напишите заявку — я определю группу (СВС/СГЭ/ССТ) и категорию и отправлю в чат группы. "+
				"Исполнитель сможет принять/отклонить/завершить; при завершении заявка сразу закрывается (вам придёт уведомление).")

	case "help":
		r.reply(ctx, in.ChatID, strings.Join([]string{
			"Команды:",
			"/start — приветствие",
			"/help — помощь",
			"/whoami — показать ваш user_id и текущий chat_id",
			"/echo_chat_id_any — вернуть chat_id текущего чата (диагностика)",
			"/echo_chat_id — то же, но только для админов",
			"/debug_env — показать chat_id групп и аудит-канала (админ)",
			"/export_csv — выгрузить CSV со статистикой заявок",
			"Просто пришлите текст заявки.",
		}, "\n"))

	case "whoami":
		r.reply(ctx, in.ChatID, fmt.Sprintf("user_id: %d\nchat_id: %d", in.Actor.ID, in.ChatID))

	case "echo_chat_id_any":
		r.reply(ctx, in.ChatID, fmt.Sprintf("chat_id: %d", in.ChatID))

	case "echo_chat_id":
		if !r.authz.IsAdmin(in.Actor.ID) {
			r.reply(ctx, in.ChatID, "Только для админов.")
			return
		}
		r.reply(ctx, in.ChatID, fmt.Sprintf("chat_id: %d", in.ChatID))

	case "debug_env":
		if !r.authz.IsAdmin(in.Actor.ID) {
			r.reply(ctx, in.ChatID, "Только для админов.")
			return
		}
		lines := make([]string, 0, len(r.groupChats)+1)
		for _, g := range protocol.Groups() {
			lines = append(lines, fmt.Sprintf("%s: %d", g, r.groupChats[g]))
		}
		lines = append(lines, fmt.Sprintf("аудит: %d", r.auditChat))
		r.reply(ctx, in.ChatID, strings.Join(lines, "\n"))

	case "export_csv":
		r.exportCSV(ctx, in)

	default:
		r.reply(ctx, in.ChatID, "Неизвестная команда. /help")
	}
}

func (r *Router) exportCSV(ctx context.Context, in connector.Inbound) {
	data, n, err := r.exporter.CSV()
	if err != nil {
		r.logger.Error("export failed", "error", err)
		r.reply(ctx, in.ChatID, "Не удалось отправить CSV в чат. Проверьте логи.")
		return
	}
	if n == 0 {
		r.reply(ctx, in.ChatID, "Пока нет данных для экспорта.")
		return
	}

	sender, ok := r.conn.(connector.DocumentSender)
	if !ok {
		r.reply(ctx, in.ChatID, "Не удалось отправить CSV в чат. Проверьте логи.")
		return
	}
	ts := r.now().UTC().Format("2006-01-02 15:04")
	name := fmt.Sprintf("tickets-%s.csv", r.now().UTC().Format("20060102-150405"))
	if err := sender.SendDocument(ctx, in.ChatID, name, data, fmt.Sprintf("Экспорт заявок (CSV, %s UTC).", ts)); err != nil {
		r.logger.Error("export upload failed", "error", err)
		r.reply(ctx, in.ChatID, "Не удалось отправить CSV в чат. Проверьте логи.")
	}
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.conn.Send(ctx, connector.Outbound{ChatID: chatID, Text: text}); err != nil {
		r.logger.Warn("reply failed", "chat", chatID, "error", err)
	}
}
