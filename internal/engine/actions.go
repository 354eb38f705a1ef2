package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Callback-data verbs. The wire format is "<ns>:<verb>:<ticket>" with
// an extra group segment for re-routing. Kept short: Telegram caps
// callback data at 64 bytes.
const (
	VerbConfirm  = "c:ok"
	VerbReport   = "c:err"
	VerbAccept   = "t:accept"
	VerbReject   = "t:reject"
	VerbComplete = "t:complete"
	VerbClarify  = "t:clarify"
	VerbReasonNA = "r:na"
	VerbReasonWG = "r:wg"
	VerbReasonNR = "r:nr"
	VerbApprove  = "l:approve"
	VerbCancel   = "l:cancel"
	VerbReroute  = "l:route"
)

// CallbackAction is a parsed button press.
type CallbackAction struct {
	Verb     string
	TicketID string
	Group    protocol.Group // set for re-route actions
}

// EncodeAction builds callback data for a ticket action.
func EncodeAction(verb, ticketID string) string {
	return verb + ":" + ticketID
}

// EncodeReroute builds callback data for a re-route to a target group.
func EncodeReroute(group protocol.Group, ticketID string) string {
	return fmt.Sprintf("%s:%s:%s", VerbReroute, group, ticketID)
}

// ParseAction decodes callback data. Unknown shapes return an error so
// the transport can answer with a generic notice.
func ParseAction(data string) (CallbackAction, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return CallbackAction{}, fmt.Errorf("engine: malformed callback data %q", data)
	}

	verb := parts[0] + ":" + parts[1]
	switch verb {
	case VerbConfirm, VerbReport, VerbAccept, VerbReject, VerbComplete, VerbClarify,
		VerbReasonNA, VerbReasonWG, VerbReasonNR, VerbApprove, VerbCancel:
		if len(parts) != 3 {
			return CallbackAction{}, fmt.Errorf("engine: malformed callback data %q", data)
		}
		return CallbackAction{Verb: verb, TicketID: parts[2]}, nil

	case VerbReroute:
		if len(parts) != 4 {
			return CallbackAction{}, fmt.Errorf("engine: malformed callback data %q", data)
		}
		return CallbackAction{Verb: verb, TicketID: parts[3], Group: protocol.Group(parts[2])}, nil
	}
	return CallbackAction{}, fmt.Errorf("engine: unknown callback verb in %q", data)
}

// HandleCallback parses and executes a button press, returning the
// short acknowledgement to show the pressing actor.
func (e *Engine) HandleCallback(ctx context.Context, actor protocol.Actor, data string, ref protocol.MessageRef) (string, error) {
	act, err := ParseAction(data)
	if err != nil {
		e.logger.Warn("bad callback data", "data", data, "error", err)
		return "", notice("Неизвестное действие.")
	}

	switch act.Verb {
	case VerbConfirm:
		return e.ConfirmDispatch(ctx, actor, act.TicketID, ref)
	case VerbReport:
		return e.ReportMisclassification(ctx, actor, act.TicketID, ref)
	case VerbAccept:
		return e.Accept(ctx, actor, act.TicketID, ref)
	case VerbReject:
		return e.RequestReject(ctx, actor, act.TicketID, ref)
	case VerbComplete:
		return e.Complete(ctx, actor, act.TicketID, ref)
	case VerbClarify:
		return e.RequestClarify(ctx, actor, act.TicketID, ref)
	case VerbReasonNA, VerbReasonWG, VerbReasonNR:
		reason, _ := reasonForVerb(act.Verb)
		return e.ChooseRejectReason(ctx, actor, act.TicketID, reason, ref)
	case VerbApprove:
		return e.LeaderApprove(ctx, actor, act.TicketID, ref)
	case VerbCancel:
		return e.LeaderCancel(ctx, actor, act.TicketID, ref)
	case VerbReroute:
		return e.LeaderReroute(ctx, actor, act.TicketID, act.Group, ref)
	}
	return "", notice("Неизвестная команда.")
}

// reasonForVerb maps a reason button to the typed reason code.
func reasonForVerb(verb string) (protocol.RejectReason, bool) {
	switch verb {
	case VerbReasonNA:
		return protocol.ReasonNotApplicable, true
	case VerbReasonWG:
		return protocol.ReasonWrongGroup, true
	case VerbReasonNR:
		return protocol.ReasonNoRoomAccess, true
	}
	return "", false
}
