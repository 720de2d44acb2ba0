// Package bot bridges the ticket system to chat platforms (Telegram,
// Discord, Slack). It routes inbound messages to the intake flow or the
// command handler, and pushes lifecycle notifications back out.
package bot

import (
	"context"
	"time"

	"github.com/fixline/fixline/internal/intake"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management and message
// sending/receiving for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
// Choice is set when the platform delivered a button press rather than
// free text.
type InboundMessage struct {
	Platform       string // e.g. "telegram", "discord"
	ConversationID string // platform-specific DM/channel identifier
	UserID         string // platform-specific user identifier
	UserName       string // platform username (without @)
	FirstName      string
	LastName       string
	Text           string
	Choice         string
	Media          []intake.MediaRef
	Timestamp      time.Time
}

// OutboundMessage represents a message to be sent to the chat platform.
// Choices render as buttons where the platform supports them, and as a
// textual option list otherwise.
type OutboundMessage struct {
	ConversationID string
	Text           string
	Choices        []intake.Choice
	Document       *Document
}

// Document is a file payload attached to an outbound message.
type Document struct {
	Name string
	Data []byte
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
