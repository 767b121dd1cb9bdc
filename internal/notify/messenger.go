// Package notify delivers messages to sets of recipients and reports a
// per-recipient outcome. Delivery failures are counted and logged, never fatal.
package notify

import "context"

// Button is a transport-neutral inline button. A button with URL opens a link;
// otherwise Action and Payload are routed back as a callback.
type Button struct {
	Text    string
	Action  string
	Payload string
	URL     string
}

// Markup describes the keyboard attached to a message.
type Markup struct {
	// Inline rows are attached to the message itself.
	Inline [][]Button
	// Reply rows replace the user's reply keyboard.
	Reply [][]string
	// RemoveReply hides a previously shown reply keyboard.
	RemoveReply bool
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Messenger is the outbound port implemented by the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup *Markup) (MessageRef, error)
	SendPhoto(ctx context.Context, chatID int64, photoRef, caption string, markup *Markup) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, markup *Markup) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Payload is what a notification carries.
type Payload struct {
	Text     string
	PhotoRef string
	Markup   *Markup
}

// Row is a helper for a single inline row.
func Row(buttons ...Button) []Button { return buttons }

// InlineMarkup builds markup from inline rows.
func InlineMarkup(rows ...[]Button) *Markup { return &Markup{Inline: rows} }
