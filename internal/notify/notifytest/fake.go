// Package notifytest provides an in-memory notify.Messenger for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/abjtutorial/tutorbot/internal/notify"
)

// Message is a recorded outbound message.
type Message struct {
	Ref      notify.MessageRef
	Text     string
	PhotoRef string
	Markup   *notify.Markup
}

// Edit is a recorded edit.
type Edit struct {
	Ref    notify.MessageRef
	Text   string
	Markup *notify.Markup
}

// Messenger records every call. Failures can be injected per chat.
type Messenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []Message
	edits   []Edit
	deleted []notify.MessageRef
	fail    map[int64]error
}

// New returns an empty recorder.
func New() *Messenger {
	return &Messenger{fail: make(map[int64]error)}
}

// FailFor makes every send to chatID return err.
func (m *Messenger) FailFor(chatID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[chatID] = err
}

func (m *Messenger) record(chatID int64, text, photo string, markup *notify.Markup) (notify.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[chatID]; err != nil {
		return notify.MessageRef{}, err
	}
	m.nextID++
	ref := notify.MessageRef{ChatID: chatID, MessageID: m.nextID}
	m.sent = append(m.sent, Message{Ref: ref, Text: text, PhotoRef: photo, Markup: markup})
	return ref, nil
}

func (m *Messenger) SendText(_ context.Context, chatID int64, text string, markup *notify.Markup) (notify.MessageRef, error) {
	return m.record(chatID, text, "", markup)
}

func (m *Messenger) SendPhoto(_ context.Context, chatID int64, photoRef, caption string, markup *notify.Markup) (notify.MessageRef, error) {
	return m.record(chatID, caption, photoRef, markup)
}

func (m *Messenger) EditText(_ context.Context, ref notify.MessageRef, text string, markup *notify.Markup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, Edit{Ref: ref, Text: text, Markup: markup})
	return nil
}

func (m *Messenger) Delete(_ context.Context, ref notify.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

// Sent returns every successful send.
func (m *Messenger) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

// SentTo returns the sends addressed to chatID.
func (m *Messenger) SentTo(chatID int64) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.sent {
		if msg.Ref.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

// Edits returns every edit.
func (m *Messenger) Edits() []Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Edit(nil), m.edits...)
}

// Deleted returns every deleted message.
func (m *Messenger) Deleted() []notify.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.MessageRef(nil), m.deleted...)
}

// Reset forgets recorded calls but keeps injected failures.
func (m *Messenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent, m.edits, m.deleted = nil, nil, nil
}

var _ notify.Messenger = (*Messenger)(nil)
