// Package engine implements the ticket lifecycle: classification,
// author confirmation, group dispatch, executor actions and the
// leader-reviewed rejection flow. All mutations go through the store
// before the in-memory registry sees them.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/upkeep-io/upkeep/internal/authz"
	"github.com/upkeep-io/upkeep/internal/classify"
	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/internal/connector/telegram"
	"github.com/upkeep-io/upkeep/internal/correlate"
	"github.com/upkeep-io/upkeep/internal/registry"
	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Auditor mirrors notable transitions to an operations channel.
// Implementations are best-effort and must never block the lifecycle.
type Auditor interface {
	Audit(ctx context.Context, html string)
}

// Config wires the engine's collaborators.
type Config struct {
	Registry   *registry.Registry
	Store      store.Store
	Authz      *authz.Service
	Classifier classify.Classifier
	Surface    connector.Surface
	Audit      Auditor
	GroupChats map[protocol.Group]int64
	Logger     *slog.Logger

	// Test seams. Nil means real time and random IDs.
	Now   func() time.Time
	NewID func() string
}

// Engine drives every ticket transition. Inbound events arrive one at
// a time from the connector loop, so operations are not re-entrant.
type Engine struct {
	reg        *registry.Registry
	store      store.Store
	authz      *authz.Service
	classifier classify.Classifier
	surface    connector.Surface
	audit      Auditor
	groupChats map[protocol.Group]int64
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	// Outstanding prompts awaiting a reply. Actor prompts are answered
	// by executors and leaders, author prompts by the ticket author.
	actorPrompts  *correlate.Table
	authorPrompts *correlate.Table
}

// New creates an engine.
func New(cfg Config) *Engine {
	e := &Engine{
		reg:           cfg.Registry,
		store:         cfg.Store,
		authz:         cfg.Authz,
		classifier:    cfg.Classifier,
		surface:       cfg.Surface,
		audit:         cfg.Audit,
		groupChats:    cfg.GroupChats,
		logger:        cfg.Logger,
		now:           cfg.Now,
		newID:         cfg.NewID,
		actorPrompts:  correlate.NewTable(),
		authorPrompts: correlate.NewTable(),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = NewTicketID
	}
	return e
}

// NewTicketID returns a short uppercase hex ticket number.
func NewTicketID() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))[:8]
}

// Create registers a new ticket from the author's free text, classifies
// it and asks the author to confirm the classification.
func (e *Engine) Create(ctx context.Context, actor protocol.Actor, chatID int64, text string) (*protocol.Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, notice("Текст заявки пуст. Опишите проблему одним сообщением.")
	}

	now := e.now()
	res := e.classifier.Classify(text)
	t := &protocol.Ticket{
		ID:           e.newID(),
		AuthorID:     actor.ID,
		AuthorName:   actor.Name,
		AuthorChatID: chatID,
		Text:         text,
		CurrentGroup: res.Group,
		Category:     res.Category,
		Status:       protocol.TicketCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ev := e.newEvent(protocol.EventNewText, t.ID, actor, map[string]any{
		"text":     text,
		"group":    string(res.Group),
		"category": res.Category,
	})
	if err := e.commit(ev, t); err != nil {
		return nil, err
	}

	if _, err := e.surface.Send(ctx, connector.Outbound{
		ChatID:  chatID,
		Text:    confirmText(t),
		Actions: kbConfirm(t.ID),
	}); err != nil {
		e.logger.Error("confirm prompt failed", "ticket", t.ID, "error", err)
		return nil, notice("Ошибка обработки заявки. Попробуйте ещё раз или /help.")
	}

	e.auditf(ctx, "📝 <b>Новая заявка (черновик)</b> #%s от %s\nГруппа: %s / Категория: %s",
		t.ID, telegram.UserLink(actor.ID, actor.Name), t.CurrentGroup, telegram.EscapeHTML(t.Category))
	e.logger.Info("ticket created", "ticket", t.ID, "group", t.CurrentGroup, "category", t.Category)
	return t, nil
}

// ConfirmDispatch handles the author's confirmation: the ticket is
// queued and its card is posted to the group chat. A retry after a
// failed post re-sends the card without a second queued event.
func (e *Engine) ConfirmDispatch(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if actor.ID != t.AuthorID {
		return "", notice("Подтвердить может только автор заявки.")
	}
	if t.Status != protocol.TicketCreated && t.Status != protocol.TicketQueued {
		return "", notice("Уже в работе/закрыта.")
	}

	now := e.now()
	if t.QueuedAt == nil {
		c := t.Clone()
		c.Status = protocol.TicketQueued
		c.QueuedAt = &now
		c.InitialGroup = c.CurrentGroup
		c.UpdatedAt = now
		ev := e.newEvent(protocol.EventQueuedToGroup, c.ID, actor, map[string]any{
			"group":    string(c.CurrentGroup),
			"category": c.Category,
		})
		if err := e.commit(ev, c); err != nil {
			return "", err
		}
		t = c
	}

	if err := e.postCard(ctx, t); err != nil {
		e.send(ctx, t.AuthorChatID,
			"Не удалось отправить вашу заявку в чат группы. Проверьте настройки chat_id или обратитесь к администратору.", nil)
		return "", err
	}

	if !ref.IsZero() {
		e.editQuiet(ctx, ref, confirmText(t)+"\n\nЗаявка отправлена в группу ✅", nil)
	}
	e.auditf(ctx, "📤 <b>Отправлена в группу</b> #%s → %s / %s",
		t.ID, t.CurrentGroup, telegram.EscapeHTML(t.Category))
	return "Заявка отправлена в группу.", nil
}

// ReportMisclassification records the author's "classification is
// wrong" signal. The draft stays open; the event feeds rule tuning.
func (e *Engine) ReportMisclassification(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if actor.ID != t.AuthorID {
		return "", notice("Сообщить об ошибке может только автор заявки.")
	}

	c := t.Clone()
	c.UpdatedAt = e.now()
	ev := e.newEvent(protocol.EventMisclassified, c.ID, actor, map[string]any{
		"group":    string(c.CurrentGroup),
		"category": c.Category,
	})
	if err := e.commit(ev, c); err != nil {
		return "", err
	}

	if !ref.IsZero() {
		e.editQuiet(ctx, ref, confirmText(c)+"\n\nОтмечено как ошибка классификации.", nil)
	}
	e.auditf(ctx, "⚠️ <b>Отправитель сообщил об ошибке эвристики</b> #%s (user_id=%d)", c.ID, actor.ID)
	return "Принято. Улучшим правила.", nil
}

// Accept assigns the pressing actor as executor.
func (e *Engine) Accept(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if err := staleCheck(t, ref); err != nil {
		return "", err
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup).Allowed() {
		return "", notice("Недостаточно прав для этой группы.")
	}
	switch {
	case t.Status.Terminal():
		return "", notice("Заявка уже закрыта.")
	case t.Status == protocol.TicketCreated:
		return "", notice("Заявка ещё не подтверждена автором.")
	case t.ExecutorID != 0:
		return "", notice("Уже в работе/закрыта.")
	case t.PendingReject != nil:
		return "", notice("Отказ уже на рассмотрении у руководителя.")
	}

	now := e.now()
	c := t.Clone()
	c.ExecutorID = actor.ID
	c.ExecutorName = actor.Name
	c.AcceptedAt = &now
	if c.Status == protocol.TicketQueued {
		c.Status = protocol.TicketAccepted
	}
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventAccepted, c.ID, actor, nil)
	if err := e.commit(ev, c); err != nil {
		return "", err
	}

	e.refreshCard(ctx, c)
	e.send(ctx, c.AuthorChatID,
		fmt.Sprintf("Заявка #%s принята в работу.\nИсполнитель: %s",
			c.ID, telegram.UserLink(actor.ID, actor.Name)), nil)
	e.auditf(ctx, "✅ <b>Принята в работу</b> #%s исполнителем %s",
		c.ID, telegram.UserLink(actor.ID, actor.Name))
	return "Взято в работу.", nil
}

// RequestReject starts the rejection flow by asking for a reason.
func (e *Engine) RequestReject(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if err := staleCheck(t, ref); err != nil {
		return "", err
	}
	if err := e.mayReject(actor, t); err != nil {
		return "", err
	}

	promptRef, err := e.surface.Send(ctx, connector.Outbound{
		ChatID:  t.Binding.ChatID,
		Text:    fmt.Sprintf("%s, укажите причину отказа по заявке #%s:", telegram.UserLink(actor.ID, actor.Name), t.ID),
		Actions: kbReasons(t.ID),
	})
	if err != nil {
		return "", fmt.Errorf("engine: reason prompt for %s: %w", t.ID, err)
	}
	e.actorPrompts.Insert(promptRef, correlate.Prompt{
		Kind:     correlate.KindRejectReason,
		TicketID: t.ID,
		ActorID:  actor.ID,
	})
	return "Выберите причину отказа.", nil
}

// ChooseRejectReason handles a reason button and asks for the comment.
func (e *Engine) ChooseRejectReason(ctx context.Context, actor protocol.Actor, ticketID string, reason protocol.RejectReason, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if err := e.mayReject(actor, t); err != nil {
		return "", err
	}

	e.actorPrompts.Cancel(t.ID, correlate.KindRejectReason)
	promptRef, err := e.surface.Send(ctx, connector.Outbound{
		ChatID: ref.ChatID,
		Text: fmt.Sprintf("%s, пожалуйста, укажите комментарий к отказу одним сообщением.",
			telegram.UserLink(actor.ID, actor.Name)),
		ForceReply: true,
	})
	if err != nil {
		return "", fmt.Errorf("engine: comment prompt for %s: %w", t.ID, err)
	}
	e.actorPrompts.Insert(promptRef, correlate.Prompt{
		Kind:     correlate.KindRejectComment,
		TicketID: t.ID,
		ActorID:  actor.ID,
		Extra:    string(reason),
	})

	e.editQuiet(ctx, ref, fmt.Sprintf("Причина отказа по заявке #%s: %s.\nОжидаю комментарий.",
		t.ID, reasonTitles[reason]), nil)
	return "Укажите комментарий ответным сообщением.", nil
}

// RequestClarify asks the pressing actor for a question to the author.
func (e *Engine) RequestClarify(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if err := staleCheck(t, ref); err != nil {
		return "", err
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup).Allowed() {
		return "", notice("Недостаточно прав для этой группы.")
	}
	if t.Status.Terminal() || t.Status == protocol.TicketCreated {
		return "", notice("Заявка уже закрыта.")
	}
	if t.PendingReject != nil {
		return "", notice("Отказ уже на рассмотрении у руководителя.")
	}

	promptRef, err := e.surface.Send(ctx, connector.Outbound{
		ChatID: t.Binding.ChatID,
		Text: fmt.Sprintf("%s, укажите вопрос автору заявки #%s одним сообщением.",
			telegram.UserLink(actor.ID, actor.Name), t.ID),
		ForceReply: true,
	})
	if err != nil {
		return "", fmt.Errorf("engine: clarify prompt for %s: %w", t.ID, err)
	}
	e.actorPrompts.Insert(promptRef, correlate.Prompt{
		Kind:     correlate.KindClarifyQuestion,
		TicketID: t.ID,
		ActorID:  actor.ID,
	})
	return "Укажите вопрос ответным сообщением.", nil
}

// Complete closes the ticket.
func (e *Engine) Complete(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if err := staleCheck(t, ref); err != nil {
		return "", err
	}
	if t.Status.Terminal() {
		return "", notice("Заявка уже закрыта.")
	}
	if t.ExecutorID == 0 {
		return "", notice("Сначала возьмите заявку в работу.")
	}
	if t.Status != protocol.TicketAccepted {
		return "", notice("Дождитесь ответа автора на уточнение.")
	}
	if actor.ID != t.ExecutorID && !e.authz.Check(actor.ID, t.CurrentGroup, protocol.CapLeader).Allowed() {
		return "", notice("Завершить может только исполнитель, который принял заявку.")
	}
	if t.PendingReject != nil {
		return "", notice("Отказ уже на рассмотрении у руководителя.")
	}

	now := e.now()
	c := t.Clone()
	c.Status = protocol.TicketClosed
	c.ClosedAt = &now
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventClosedByExecutor, c.ID, actor, nil)
	if err := e.commit(ev, c); err != nil {
		return "", err
	}
	e.dropPrompts(c.ID)

	e.refreshCard(ctx, c)
	e.send(ctx, c.AuthorChatID,
		fmt.Sprintf("Исполнитель %s закрыл заявку #%s. ✅",
			telegram.UserLink(c.ExecutorID, c.ExecutorName), c.ID), nil)
	e.auditf(ctx, "🧾 <b>Закрыта исполнителем</b> #%s (%s)",
		c.ID, telegram.UserLink(c.ExecutorID, c.ExecutorName))
	return "Заявка закрыта.", nil
}

// LeaderApprove finalizes a pending rejection.
func (e *Engine) LeaderApprove(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if t.PendingReject == nil {
		return "", notice("Нет отказа на рассмотрении.")
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup, protocol.CapLeader, protocol.CapDispatcher).Allowed() {
		return "", notice("Решение может принять только руководитель группы.")
	}
	if t.PendingReject.Reason == protocol.ReasonWrongGroup {
		return "", notice("Причина «Неверная группа» — перенаправьте заявку или верните в работу.")
	}

	now := e.now()
	c := t.Clone()
	pr := c.PendingReject
	c.Status = protocol.TicketRejected
	c.RejectReason = pr.Reason
	c.RejectComment = pr.Comment
	c.RejectedAt = &now
	c.LeaderID = actor.ID
	c.LeaderName = actor.Name
	c.LeaderDecisionAt = &now
	c.PendingReject = nil
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventRejected, c.ID, actor, map[string]any{
		"reason":  string(c.RejectReason),
		"comment": c.RejectComment,
	})
	if err := e.commit(ev, c); err != nil {
		return "", err
	}
	e.dropPrompts(c.ID)

	if !ref.IsZero() {
		e.editQuiet(ctx, ref, fmt.Sprintf("⛔ Отказ по заявке #%s подтверждён руководителем %s.",
			c.ID, telegram.UserLink(actor.ID, actor.Name)), nil)
	}
	e.refreshCard(ctx, c)
	e.send(ctx, c.AuthorChatID,
		fmt.Sprintf("Заявка #%s <b>отклонена</b>.\nПричина: %s\nКомментарий: %s",
			c.ID, reasonTitles[c.RejectReason], telegram.EscapeHTML(c.RejectComment)), nil)
	e.auditf(ctx, "❌ <b>Отклонена</b> #%s руководителем %s\nПричина: %s",
		c.ID, telegram.UserLink(actor.ID, actor.Name), reasonTitles[c.RejectReason])
	return "Отказ подтверждён.", nil
}

// LeaderCancel starts the return-to-work flow by asking the leader for
// a comment.
func (e *Engine) LeaderCancel(ctx context.Context, actor protocol.Actor, ticketID string, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if t.PendingReject == nil {
		return "", notice("Нет отказа на рассмотрении.")
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup, protocol.CapLeader).Allowed() {
		return "", notice("Решение может принять только руководитель группы.")
	}

	promptRef, err := e.surface.Send(ctx, connector.Outbound{
		ChatID: ref.ChatID,
		Text: fmt.Sprintf("%s, укажите комментарий к возврату заявки #%s одним сообщением.",
			telegram.UserLink(actor.ID, actor.Name), t.ID),
		ForceReply: true,
	})
	if err != nil {
		return "", fmt.Errorf("engine: cancel prompt for %s: %w", t.ID, err)
	}
	e.actorPrompts.Insert(promptRef, correlate.Prompt{
		Kind:     correlate.KindLeaderCancelReply,
		TicketID: t.ID,
		ActorID:  actor.ID,
	})
	return "Укажите комментарий ответным сообщением.", nil
}

// LeaderReroute moves a wrong-group ticket to another group's queue.
func (e *Engine) LeaderReroute(ctx context.Context, actor protocol.Actor, ticketID string, group protocol.Group, ref protocol.MessageRef) (string, error) {
	t, err := e.ticket(ticketID)
	if err != nil {
		return "", err
	}
	if t.PendingReject == nil {
		return "", notice("Нет отказа на рассмотрении.")
	}
	if t.PendingReject.Reason != protocol.ReasonWrongGroup {
		return "", notice("Перенаправление доступно только при причине «Неверная группа».")
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup, protocol.CapLeader).Allowed() {
		return "", notice("Решение может принять только руководитель группы.")
	}
	if _, ok := e.groupChats[group]; !ok || group == t.CurrentGroup {
		return "", notice("Неизвестная группа.")
	}

	now := e.now()
	c := t.Clone()
	from := c.CurrentGroup
	c.CurrentGroup = group
	c.ReroutedToGroup = group
	c.ReroutedAt = &now
	c.ExecutorID = 0
	c.ExecutorName = ""
	c.Status = protocol.TicketQueued
	c.LeaderID = actor.ID
	c.LeaderName = actor.Name
	c.LeaderDecisionAt = &now
	c.PendingReject = nil
	c.UpdatedAt = now
	oldBinding := c.Binding
	ev := e.newEvent(protocol.EventRerouted, c.ID, actor, map[string]any{
		"from": string(from),
		"to":   string(group),
	})
	if err := e.commit(ev, c); err != nil {
		return "", err
	}
	e.dropPrompts(c.ID)

	// Disarm the old card before the new one goes up.
	if !oldBinding.IsZero() {
		e.editQuiet(ctx, oldBinding, ticketText(c), nil)
	}
	if !ref.IsZero() {
		e.editQuiet(ctx, ref, fmt.Sprintf("➡️ Заявка #%s перенаправлена в %s.", c.ID, group), nil)
	}

	if err := e.postCard(ctx, c); err != nil {
		e.send(ctx, c.AuthorChatID,
			"Не удалось отправить вашу заявку в чат группы. Проверьте настройки chat_id или обратитесь к администратору.", nil)
		return "", err
	}

	e.send(ctx, c.AuthorChatID,
		fmt.Sprintf("Заявка #%s перенаправлена в группу %s.", c.ID, group), nil)
	e.auditf(ctx, "➡️ <b>Перенаправлена</b> #%s %s → %s руководителем %s",
		c.ID, from, group, telegram.UserLink(actor.ID, actor.Name))
	return "Заявка перенаправлена.", nil
}

// HandleReply routes a reply to the prompt it answers. Returns false
// when the replied-to message carries no outstanding prompt.
func (e *Engine) HandleReply(ctx context.Context, actor protocol.Actor, ref protocol.MessageRef, text string) (bool, error) {
	if p, ok := e.authorPrompts.Peek(ref); ok {
		return true, e.handleClarifyAnswer(ctx, actor, p, ref, text)
	}
	p, ok := e.actorPrompts.Peek(ref)
	if !ok {
		return false, nil
	}

	switch p.Kind {
	case correlate.KindRejectReason:
		// Reason is chosen with buttons, not typed.
		return true, notice("Сначала выберите причину отказа кнопками.")
	case correlate.KindRejectComment:
		return true, e.handleRejectComment(ctx, actor, p, ref, text)
	case correlate.KindClarifyQuestion:
		return true, e.handleClarifyQuestion(ctx, actor, p, ref, text)
	case correlate.KindLeaderCancelReply:
		return true, e.handleLeaderCancelComment(ctx, actor, p, ref, text)
	}
	return false, nil
}

func (e *Engine) handleRejectComment(ctx context.Context, actor protocol.Actor, p correlate.Prompt, ref protocol.MessageRef, text string) error {
	if actor.ID != p.ActorID {
		return notice("Отклонить может только принявший исполнитель.")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return notice("Комментарий пуст. Пожалуйста, укажите причину отказа текстом.")
	}
	t, err := e.ticket(p.TicketID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		e.actorPrompts.Resolve(ref)
		return notice("Заявка уже закрыта.")
	}

	now := e.now()
	c := t.Clone()
	c.PendingReject = &protocol.PendingReject{
		ExecutorID:   actor.ID,
		ExecutorName: actor.Name,
		Reason:       protocol.RejectReason(p.Extra),
		Comment:      text,
		SubmittedAt:  now,
	}
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventRejectRequested, c.ID, actor, map[string]any{
		"reason":  p.Extra,
		"comment": text,
	})
	if err := e.commit(ev, c); err != nil {
		return err
	}
	e.actorPrompts.Resolve(ref)

	e.refreshCard(ctx, c)
	e.send(ctx, c.Binding.ChatID, pendingRejectText(c), kbLeader(c))
	e.auditf(ctx, "⏳ <b>Запрошен отказ</b> #%s исполнителем %s\nПричина: %s",
		c.ID, telegram.UserLink(actor.ID, actor.Name), reasonTitles[c.PendingReject.Reason])
	return nil
}

func (e *Engine) handleClarifyQuestion(ctx context.Context, actor protocol.Actor, p correlate.Prompt, ref protocol.MessageRef, text string) error {
	if actor.ID != p.ActorID {
		return notice("Вопрос задаёт тот, кто нажал «Уточнить».")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return notice("Вопрос пуст. Пожалуйста, сформулируйте уточнение текстом.")
	}
	t, err := e.ticket(p.TicketID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() || t.PendingReject != nil {
		e.actorPrompts.Resolve(ref)
		return notice("Заявка уже закрыта.")
	}

	now := e.now()
	c := t.Clone()
	c.ClarifyQuestion = text
	c.ClarifyRequestedAt = &now
	c.ClarifyAnswer = ""
	c.ClarifyAnsweredAt = nil
	c.Status = protocol.TicketClarifying
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventClarifyRequested, c.ID, actor, map[string]any{
		"question": text,
	})
	if err := e.commit(ev, c); err != nil {
		return err
	}
	e.actorPrompts.Resolve(ref)

	askRef, err := e.surface.Send(ctx, connector.Outbound{
		ChatID: c.AuthorChatID,
		Text: fmt.Sprintf("По заявке #%s требуется уточнение:\n%s\n\nОтветьте на это сообщение.",
			c.ID, telegram.EscapeHTML(text)),
		ForceReply: true,
	})
	if err != nil {
		e.logger.Error("clarify question delivery failed", "ticket", c.ID, "error", err)
	} else {
		e.authorPrompts.Insert(askRef, correlate.Prompt{
			Kind:     correlate.KindClarifyAnswer,
			TicketID: c.ID,
			ActorID:  c.AuthorID,
		})
	}

	e.refreshCard(ctx, c)
	e.auditf(ctx, "❓ <b>Запрошено уточнение</b> #%s (%s)", c.ID, telegram.UserLink(actor.ID, actor.Name))
	return nil
}

func (e *Engine) handleClarifyAnswer(ctx context.Context, actor protocol.Actor, p correlate.Prompt, ref protocol.MessageRef, text string) error {
	if actor.ID != p.ActorID {
		return notice("Ответить может только автор заявки.")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return notice("Ответ пуст. Пожалуйста, ответьте текстом.")
	}
	t, err := e.ticket(p.TicketID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		e.authorPrompts.Resolve(ref)
		return notice("Заявка уже закрыта.")
	}

	now := e.now()
	c := t.Clone()
	c.ClarifyAnswer = text
	c.ClarifyAnsweredAt = &now
	if c.ExecutorID != 0 {
		c.Status = protocol.TicketAccepted
	} else {
		c.Status = protocol.TicketQueued
	}
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventClarifyAnswered, c.ID, actor, map[string]any{
		"answer": text,
	})
	if err := e.commit(ev, c); err != nil {
		return err
	}
	e.authorPrompts.Resolve(ref)

	e.refreshCard(ctx, c)
	e.send(ctx, c.Binding.ChatID,
		fmt.Sprintf("Автор ответил на уточнение по заявке #%s:\n%s", c.ID, telegram.EscapeHTML(text)), nil)
	e.send(ctx, c.AuthorChatID, "Ответ передан исполнителям. Спасибо!", nil)
	return nil
}

func (e *Engine) handleLeaderCancelComment(ctx context.Context, actor protocol.Actor, p correlate.Prompt, ref protocol.MessageRef, text string) error {
	if actor.ID != p.ActorID {
		return notice("Комментарий ожидается от руководителя, отменившего отказ.")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return notice("Комментарий пуст. Пожалуйста, укажите причину возврата текстом.")
	}
	t, err := e.ticket(p.TicketID)
	if err != nil {
		return err
	}
	if t.PendingReject == nil {
		e.actorPrompts.Resolve(ref)
		return notice("Нет отказа на рассмотрении.")
	}

	now := e.now()
	c := t.Clone()
	executorID := c.PendingReject.ExecutorID
	executorName := c.PendingReject.ExecutorName
	c.PendingReject = nil
	c.LeaderID = actor.ID
	c.LeaderName = actor.Name
	c.LeaderDecisionAt = &now
	c.UpdatedAt = now
	ev := e.newEvent(protocol.EventRejectCancelled, c.ID, actor, map[string]any{
		"comment": text,
	})
	if err := e.commit(ev, c); err != nil {
		return err
	}
	e.actorPrompts.Resolve(ref)

	e.refreshCard(ctx, c)
	e.send(ctx, c.Binding.ChatID,
		fmt.Sprintf("Отказ по заявке #%s отклонён руководителем %s.\n%s, заявка возвращена в работу.\nКомментарий: %s",
			c.ID, telegram.UserLink(actor.ID, actor.Name),
			telegram.UserLink(executorID, executorName), telegram.EscapeHTML(text)), nil)
	e.auditf(ctx, "↩️ <b>Отказ отменён</b> #%s руководителем %s",
		c.ID, telegram.UserLink(actor.ID, actor.Name))
	return nil
}

// Ticket returns the live ticket by ID, falling back to the store for
// terminal ones.
func (e *Engine) Ticket(id string) (*protocol.Ticket, error) {
	if t, ok := e.reg.Get(id); ok {
		return t, nil
	}
	t, err := e.store.Get(id)
	if err != nil {
		return nil, noticeFor(ErrNotFound, "Заявка не найдена (возможно, бот перезапускался).")
	}
	return t, nil
}

// mayReject enforces who can start or continue a rejection.
func (e *Engine) mayReject(actor protocol.Actor, t *protocol.Ticket) error {
	if t.Status.Terminal() {
		return notice("Заявка уже закрыта.")
	}
	if t.Status == protocol.TicketCreated {
		return notice("Заявка ещё не отправлена в группу.")
	}
	if t.PendingReject != nil {
		return notice("Отказ уже на рассмотрении у руководителя.")
	}
	if t.ExecutorID != 0 {
		if actor.ID != t.ExecutorID {
			return notice("Отклонить может только принявший исполнитель.")
		}
		return nil
	}
	if !e.authz.Check(actor.ID, t.CurrentGroup).Allowed() {
		return notice("Недостаточно прав для этой группы.")
	}
	return nil
}

// dropPrompts invalidates every outstanding prompt for a ticket.
// Called when the ticket reaches a terminal state or leaves the
// group's queue: a reply to an old prompt must not mutate it anymore.
func (e *Engine) dropPrompts(ticketID string) {
	for _, k := range []correlate.Kind{
		correlate.KindRejectReason,
		correlate.KindRejectComment,
		correlate.KindClarifyQuestion,
		correlate.KindLeaderCancelReply,
	} {
		e.actorPrompts.Cancel(ticketID, k)
	}
	e.authorPrompts.Cancel(ticketID, correlate.KindClarifyAnswer)
}

// postCard sends the ticket card to the current group's chat and saves
// the new binding.
func (e *Engine) postCard(ctx context.Context, t *protocol.Ticket) error {
	chatID, ok := e.groupChats[t.CurrentGroup]
	if !ok {
		return noticeFor(ErrDispatch, "Не удалось отправить в чат группы. Проверьте настройки.")
	}
	ref, err := e.surface.Send(ctx, connector.Outbound{
		ChatID:  chatID,
		Text:    ticketText(t),
		Actions: keyboardFor(t),
	})
	if err != nil {
		e.logger.Error("group dispatch failed", "ticket", t.ID, "group", t.CurrentGroup, "error", err)
		return noticeFor(ErrDispatch, "Не удалось отправить в чат группы. Проверьте настройки.")
	}

	c := t.Clone()
	c.Binding = ref
	c.UpdatedAt = e.now()
	if err := e.store.Save(c); err != nil {
		return fmt.Errorf("engine: save binding for %s: %w", c.ID, err)
	}
	e.reg.Put(c)
	return nil
}

func (e *Engine) ticket(id string) (*protocol.Ticket, error) {
	t, ok := e.reg.Get(id)
	if !ok {
		return nil, noticeFor(ErrNotFound, "Заявка не найдена (возможно, бот перезапускался).")
	}
	return t, nil
}

func (e *Engine) commit(ev *protocol.Event, t *protocol.Ticket) error {
	if err := e.store.Record(ev, t); err != nil {
		return fmt.Errorf("engine: record %s for %s: %w", ev.Kind, t.ID, err)
	}
	e.reg.Put(t)
	return nil
}

func (e *Engine) newEvent(kind protocol.EventKind, ticketID string, actor protocol.Actor, payload map[string]any) *protocol.Event {
	return &protocol.Event{
		TicketID:  ticketID,
		Kind:      kind,
		Timestamp: e.now(),
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Payload:   payload,
	}
}

// refreshCard re-renders the group card in place. Best-effort: the
// durable state already changed.
func (e *Engine) refreshCard(ctx context.Context, t *protocol.Ticket) {
	if t.Binding.IsZero() {
		return
	}
	e.editQuiet(ctx, t.Binding, ticketText(t), keyboardFor(t))
}

func (e *Engine) editQuiet(ctx context.Context, ref protocol.MessageRef, text string, actions [][]connector.Action) {
	if err := e.surface.Edit(ctx, ref, text, actions); err != nil {
		e.logger.Warn("card edit failed", "chat", ref.ChatID, "message", ref.MessageID, "error", err)
	}
}

func (e *Engine) send(ctx context.Context, chatID int64, text string, actions [][]connector.Action) {
	if chatID == 0 {
		return
	}
	if _, err := e.surface.Send(ctx, connector.Outbound{ChatID: chatID, Text: text, Actions: actions}); err != nil {
		e.logger.Warn("notification failed", "chat", chatID, "error", err)
	}
}

func (e *Engine) auditf(ctx context.Context, format string, args ...any) {
	if e.audit == nil {
		return
	}
	e.audit.Audit(ctx, fmt.Sprintf(format, args...))
}

func staleCheck(t *protocol.Ticket, ref protocol.MessageRef) error {
	if ref.IsZero() || t.Binding == ref {
		return nil
	}
	return noticeFor(ErrStaleBinding, "Это сообщение уже устарело.")
}
