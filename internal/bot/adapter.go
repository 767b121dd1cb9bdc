// Package bot binds the workflow engine to Telegram. Adapter implements the
// outbound ports on top of the Bot API; Handlers turn updates into engine calls.
package bot

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/core/telegram/keyboard"
	"github.com/abjtutorial/tutorbot/internal/notify"
)

// API is the subset of *tele.Bot the adapter calls.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	EditCaption(msg tele.Editable, caption string, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	CreateInviteLink(chat tele.Recipient, link *tele.ChatInviteLink) (*tele.ChatInviteLink, error)
	Ban(chat *tele.Chat, member *tele.ChatMember, revokeMessages ...bool) error
	Unban(chat *tele.Chat, user *tele.User, forBanned ...bool) error
	File(file *tele.File) (io.ReadCloser, error)
}

// Adapter implements notify.Messenger, service.Channel and archive.Fetcher.
// The Bot API calls take no context, so cancellation is only checked before each call.
type Adapter struct {
	api API
}

// NewAdapter wraps api.
func NewAdapter(api API) *Adapter {
	return &Adapter{api: api}
}

// SendText sends a plain text message.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, markup *notify.Markup) (notify.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return notify.MessageRef{}, err
	}
	msg, err := a.api.Send(tele.ChatID(chatID), text, sendOptions(markup)...)
	if err != nil {
		return notify.MessageRef{}, err
	}
	return refOf(chatID, msg), nil
}

// SendPhoto sends a previously uploaded photo with a caption.
func (a *Adapter) SendPhoto(ctx context.Context, chatID int64, photoRef, caption string, markup *notify.Markup) (notify.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return notify.MessageRef{}, err
	}
	photo := &tele.Photo{File: tele.File{FileID: photoRef}, Caption: caption}
	msg, err := a.api.Send(tele.ChatID(chatID), photo, sendOptions(markup)...)
	if err != nil {
		return notify.MessageRef{}, err
	}
	return refOf(chatID, msg), nil
}

// EditText replaces the text of a message, or its caption when the message is a photo.
// Only inline keyboards survive an edit.
func (a *Adapter) EditText(ctx context.Context, ref notify.MessageRef, text string, markup *notify.Markup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var opts []interface{}
	if markup != nil && len(markup.Inline) > 0 {
		opts = append(opts, toReplyMarkup(markup))
	}
	stored := editable(ref)
	_, err := a.api.Edit(stored, text, opts...)
	if err != nil && isNoTextError(err) {
		_, err = a.api.EditCaption(stored, text, opts...)
	}
	return err
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, ref notify.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.api.Delete(editable(ref))
}

// CreateSingleUseInvite mints an invite link limited to one join.
func (a *Adapter) CreateSingleUseInvite(ctx context.Context, chatID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	link, err := a.api.CreateInviteLink(tele.ChatID(chatID), &tele.ChatInviteLink{MemberLimit: 1})
	if err != nil {
		return "", err
	}
	if link == nil || link.InviteLink == "" {
		return "", fmt.Errorf("bot: empty invite link for chat %d", chatID)
	}
	return link.InviteLink, nil
}

// Ban removes userID from the chat.
func (a *Adapter) Ban(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.api.Ban(&tele.Chat{ID: chatID}, &tele.ChatMember{User: &tele.User{ID: userID}})
}

// Unban lifts the ban so the user may join again once approved.
func (a *Adapter) Unban(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.api.Unban(&tele.Chat{ID: chatID}, &tele.User{ID: userID}, true)
}

// Fetch downloads a file by its file id.
func (a *Adapter) Fetch(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.api.File(&tele.File{FileID: fileRef})
}

func refOf(chatID int64, msg *tele.Message) notify.MessageRef {
	ref := notify.MessageRef{ChatID: chatID}
	if msg != nil {
		ref.MessageID = msg.ID
		if msg.Chat != nil {
			ref.ChatID = msg.Chat.ID
		}
	}
	return ref
}

func editable(ref notify.MessageRef) tele.StoredMessage {
	return tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no text in the message")
}

func sendOptions(m *notify.Markup) []interface{} {
	rm := toReplyMarkup(m)
	if rm == nil {
		return nil
	}
	return []interface{}{rm}
}

// toReplyMarkup converts markup. Telegram accepts one keyboard per message:
// inline rows win over reply rows, which win over removal.
func toReplyMarkup(m *notify.Markup) *tele.ReplyMarkup {
	switch {
	case m == nil:
		return nil
	case len(m.Inline) > 0:
		rows := make([][]keyboard.InlineBtn, len(m.Inline))
		for i, row := range m.Inline {
			rows[i] = make([]keyboard.InlineBtn, len(row))
			for j, b := range row {
				rows[i][j] = keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Payload, URL: b.URL}
			}
		}
		return keyboard.InlineButtonsRows(rows...)
	case len(m.Reply) > 0:
		return keyboard.ReplyButtons(m.Reply...)
	case m.RemoveReply:
		return keyboard.RemoveKeyboard()
	}
	return nil
}
