// Package connector defines the transport-agnostic contract between
// the ticket engine and external messaging platforms.
package connector

import (
	"context"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Action is an inline action affordance attached to a rendering. Data
// is an opaque string routed back on activation.
type Action struct {
	Label string
	Data  string
}

// Outbound is a message sent to a chat surface.
type Outbound struct {
	ChatID     int64
	Text       string     // HTML
	Actions    [][]Action // inline keyboard rows
	ForceReply bool       // ask the recipient to reply to this exact message
}

// Surface delivers renderings to chat surfaces. Send returns the
// binding of the created message; Edit replaces an earlier rendering
// in place. Failures are retryable-by-operator, never fatal.
type Surface interface {
	Send(ctx context.Context, out Outbound) (protocol.MessageRef, error)
	Edit(ctx context.Context, ref protocol.MessageRef, text string, actions [][]Action) error
}

// DocumentSender is implemented by connectors that can upload files.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Callback is a pressed inline action.
type Callback struct {
	ID   string              // platform acknowledgement handle
	Data string              // the Action.Data that was pressed
	Ref  protocol.MessageRef // the message the button was attached to
}

// Inbound is a normalized event from a chat platform.
type Inbound struct {
	Actor       protocol.Actor
	ChatID      int64
	MessageID   int
	Private     bool
	Text        string
	Command     string // without slash; empty for plain text
	CommandArgs string
	ReplyTo     *protocol.MessageRef // set when the message replies to another
	Callback    *Callback            // set for button presses
}

// Handler processes normalized inbound events. Events are handled to
// completion one at a time.
type Handler func(ctx context.Context, in Inbound)

// Connector is a running transport (Telegram today).
type Connector interface {
	// Name returns the connector type (e.g. "telegram").
	Name() string
	// Start begins listening for inbound events. Blocks until context
	// is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error

	Surface

	// AnswerCallback acknowledges a button press with a short notice.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
