package dispatch

import "context"

// Button is one inline control attached to an outbound message.
// Exactly one of URL or Callback is set.
type Button struct {
	Label    string
	URL      string
	Callback string
}

// Controls is the inline button set rendered under a message.
type Controls struct {
	Buttons []Button
}

// Transport delivers outbound content to a chat channel. Implementations
// are fire-and-forget: failures are logged by the implementation and
// never affect dispatcher state.
type Transport interface {
	// SendText sends a plain text message, optionally with inline controls.
	SendText(ctx context.Context, chatID int64, text string, controls *Controls) error
	// CopyContent re-sends message messageID from fromChatID to chatID,
	// preserving media. A non-empty caption replaces the original caption.
	CopyContent(ctx context.Context, chatID, fromChatID int64, messageID int, caption string, controls *Controls) error
	// ForwardRaw forwards a message verbatim, for payloads that cannot
	// carry a caption.
	ForwardRaw(ctx context.Context, chatID, fromChatID int64, messageID int) error
	// EditText rewrites the text of a previously sent message.
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	// AckControlPress acknowledges an inline button press.
	AckControlPress(ctx context.Context, pressID, text string) error
}

// Inbound is one normalized incoming message, produced by the transport
// layer and consumed by the dispatcher.
type Inbound struct {
	SenderID  int64
	ChatID    int64
	Name      string
	MessageID int

	Text    string
	Caption string
	// HasCaptionMedia is true for payloads that accept a caption
	// (photo, video, document, animation, audio).
	HasCaptionMedia bool

	// ReplyText is the text or caption of the message the sender replied
	// to, empty when this is not a reply.
	ReplyText string
}

// Body returns the human-readable content of the message, or a
// placeholder for pure media payloads.
func (m Inbound) Body() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Caption != "" {
		return m.Caption
	}
	return "[media message]"
}

// ControlPress is one inline button press, normalized by the transport.
type ControlPress struct {
	From       int64
	Name       string
	CallbackID string
	ChatID     int64
	MessageID  int
	Data       string
}
