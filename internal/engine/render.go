package engine

import (
	"fmt"
	"strings"

	"github.com/upkeep-io/upkeep/internal/connector"
	"github.com/upkeep-io/upkeep/internal/connector/telegram"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// statusTitles are the user-visible status labels on group renderings.
var statusTitles = map[protocol.TicketStatus]string{
	protocol.TicketCreated:    "ЧЕРНОВИК",
	protocol.TicketQueued:     "В ОЧЕРЕДИ",
	protocol.TicketAccepted:   "В РАБОТЕ",
	protocol.TicketClarifying: "УТОЧНЕНИЕ",
	protocol.TicketRejected:   "ОТКЛОНЕНА",
	protocol.TicketClosed:     "ЗАКРЫТА",
}

// reasonTitles are the user-visible rejection reason labels.
var reasonTitles = map[protocol.RejectReason]string{
	protocol.ReasonNotApplicable: "Не относится к работе группы",
	protocol.ReasonWrongGroup:    "Неверная группа",
	protocol.ReasonNoRoomAccess:  "Нет доступа в помещение",
}

// ticketText renders the group-chat card for a ticket. The card is
// edited in place on every transition so the chat shows one living
// message per ticket.
func ticketText(t *protocol.Ticket) string {
	parts := []string{
		fmt.Sprintf("🆕 Заявка #%s (группа: %s / категория: %s)",
			t.ID, t.CurrentGroup, telegram.EscapeHTML(t.Category)),
		"Автор: " + telegram.UserLink(t.AuthorID, t.AuthorName),
		telegram.EscapeHTML(t.Text),
		"",
		fmt.Sprintf("Статус: <b>%s</b>", statusTitles[t.Status]),
	}
	if t.ExecutorID != 0 {
		parts = append(parts, "Исполнитель: "+telegram.UserLink(t.ExecutorID, t.ExecutorName))
	}
	if t.ClarifyQuestion != "" {
		parts = append(parts, "Уточнение: "+telegram.EscapeHTML(t.ClarifyQuestion))
	}
	if t.ClarifyAnswer != "" {
		parts = append(parts, "Ответ автора: "+telegram.EscapeHTML(t.ClarifyAnswer))
	}
	if t.PendingReject != nil {
		parts = append(parts, fmt.Sprintf("⏳ Отказ на рассмотрении у руководителя (причина: %s)",
			reasonTitles[t.PendingReject.Reason]))
	}
	if t.Status == protocol.TicketRejected {
		parts = append(parts, "Причина отказа: "+reasonTitles[t.RejectReason])
		if t.RejectComment != "" {
			parts = append(parts, "Комментарий отказа: "+telegram.EscapeHTML(t.RejectComment))
		}
	}
	if t.ReroutedToGroup != "" {
		parts = append(parts, fmt.Sprintf("Перенаправлена: %s → %s", t.InitialGroup, t.ReroutedToGroup))
	}
	if t.Status == protocol.TicketClosed {
		parts = append(parts, "Закрыто исполнителем. ✅")
	}
	return strings.Join(parts, "\n")
}

// confirmText is the pre-dispatch classification prompt shown to the
// author in the private chat.
func confirmText(t *protocol.Ticket) string {
	return strings.Join([]string{
		"Предварительная классификация (УТО):",
		fmt.Sprintf("• Группа-исполнитель: <b>%s</b>", t.CurrentGroup),
		fmt.Sprintf("• Категория: <b>%s</b>", telegram.EscapeHTML(t.Category)),
		fmt.Sprintf("• Номер заявки: <b>#%s</b>", t.ID),
		"",
		"Если всё верно — подтвердите. Если нет — сообщите об ошибке.",
	}, "\n")
}

// pendingRejectText renders the leader review card.
func pendingRejectText(t *protocol.Ticket) string {
	pr := t.PendingReject
	return strings.Join([]string{
		fmt.Sprintf("⛔ Отказ по заявке #%s", t.ID),
		"Исполнитель: " + telegram.UserLink(pr.ExecutorID, pr.ExecutorName),
		"Причина: " + reasonTitles[pr.Reason],
		"Комментарий: " + telegram.EscapeHTML(pr.Comment),
		"",
		"Решение за руководителем группы.",
	}, "\n")
}

func kbConfirm(id string) [][]connector.Action {
	return [][]connector.Action{
		{{Label: "Подтвердить", Data: EncodeAction(VerbConfirm, id)}},
		{{Label: "Сообщить об ошибке", Data: EncodeAction(VerbReport, id)}},
	}
}

func kbQueued(id string) [][]connector.Action {
	return [][]connector.Action{
		{{Label: "✅ Принять", Data: EncodeAction(VerbAccept, id)}},
		{{Label: "⛔ Отклонить", Data: EncodeAction(VerbReject, id)}},
		{{Label: "❓ Уточнить", Data: EncodeAction(VerbClarify, id)}},
	}
}

func kbAccepted(id string) [][]connector.Action {
	return [][]connector.Action{
		{{Label: "✅ Завершить", Data: EncodeAction(VerbComplete, id)}},
		{{Label: "⛔ Отклонить", Data: EncodeAction(VerbReject, id)}},
		{{Label: "❓ Уточнить", Data: EncodeAction(VerbClarify, id)}},
	}
}

func kbReasons(id string) [][]connector.Action {
	return [][]connector.Action{
		{{Label: reasonTitles[protocol.ReasonNotApplicable], Data: EncodeAction(VerbReasonNA, id)}},
		{{Label: reasonTitles[protocol.ReasonWrongGroup], Data: EncodeAction(VerbReasonWG, id)}},
		{{Label: reasonTitles[protocol.ReasonNoRoomAccess], Data: EncodeAction(VerbReasonNR, id)}},
	}
}

// kbLeader builds the review keyboard. Re-route targets appear only
// for the wrong-group reason and exclude the current group.
func kbLeader(t *protocol.Ticket) [][]connector.Action {
	rows := [][]connector.Action{
		{{Label: "✅ Подтвердить отказ", Data: EncodeAction(VerbApprove, t.ID)}},
		{{Label: "↩️ Вернуть в работу", Data: EncodeAction(VerbCancel, t.ID)}},
	}
	if t.PendingReject != nil && t.PendingReject.Reason == protocol.ReasonWrongGroup {
		for _, g := range protocol.Groups() {
			if g == t.CurrentGroup {
				continue
			}
			rows = append(rows, []connector.Action{
				{Label: "➡️ Перенаправить в " + string(g), Data: EncodeReroute(g, t.ID)},
			})
		}
	}
	return rows
}

// keyboardFor returns the action keyboard matching the ticket state.
// Cards under leader review, awaiting a clarification answer, or in a
// terminal state carry no buttons.
func keyboardFor(t *protocol.Ticket) [][]connector.Action {
	if t.PendingReject != nil || t.Status.Terminal() {
		return nil
	}
	switch t.Status {
	case protocol.TicketQueued:
		return kbQueued(t.ID)
	case protocol.TicketAccepted:
		return kbAccepted(t.ID)
	}
	return nil
}
