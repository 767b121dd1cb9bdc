package bot

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/abjtutorial/tutorbot/core/telegram"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/notify/notifytest"
	"github.com/abjtutorial/tutorbot/internal/service"
	"github.com/abjtutorial/tutorbot/internal/store/memory"
	"github.com/abjtutorial/tutorbot/internal/store/storetest"
)

const (
	admin       int64 = 500
	mainChannel int64 = -1009
)

type call struct {
	method string
	chatID int64
	what   interface{}
	opts   []interface{}
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []call
	nextID  int
	editErr error
}

func (f *fakeAPI) record(method string, chatID int64, what interface{}, opts []interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, chatID: chatID, what: what, opts: opts})
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	chatID := int64(0)
	if c, ok := to.(tele.ChatID); ok {
		chatID = int64(c)
	}
	f.record("send", chatID, what, opts)
	return &tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	_, chatID := msg.MessageSig()
	f.record("edit", chatID, what, opts)
	return nil, f.editErr
}

func (f *fakeAPI) EditCaption(msg tele.Editable, caption string, opts ...interface{}) (*tele.Message, error) {
	_, chatID := msg.MessageSig()
	f.record("edit_caption", chatID, caption, opts)
	return nil, nil
}

func (f *fakeAPI) Delete(msg tele.Editable) error {
	_, chatID := msg.MessageSig()
	f.record("delete", chatID, nil, nil)
	return nil
}

func (f *fakeAPI) CreateInviteLink(chat tele.Recipient, link *tele.ChatInviteLink) (*tele.ChatInviteLink, error) {
	f.record("invite", 0, link, nil)
	return &tele.ChatInviteLink{InviteLink: "https://t.me/+abc", MemberLimit: link.MemberLimit}, nil
}

func (f *fakeAPI) Ban(chat *tele.Chat, member *tele.ChatMember, _ ...bool) error {
	f.record("ban", chat.ID, member.User.ID, nil)
	return nil
}

func (f *fakeAPI) Unban(chat *tele.Chat, user *tele.User, _ ...bool) error {
	f.record("unban", chat.ID, user.ID, nil)
	return nil
}

func (f *fakeAPI) File(file *tele.File) (io.ReadCloser, error) {
	f.record("file", 0, file.FileID, nil)
	return io.NopCloser(strings.NewReader("jpeg")), nil
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func TestAdapterSendTextWithInlineMarkup(t *testing.T) {
	api := &fakeAPI{}
	a := NewAdapter(api)

	ref, err := a.SendText(context.Background(), 42, "hello", notify.InlineMarkup(notify.Row(
		notify.Button{Text: "Approve", Action: "approve", Payload: "7"},
	)))
	require.NoError(t, err)
	assert.Equal(t, notify.MessageRef{ChatID: 42, MessageID: 1}, ref)

	require.Len(t, api.calls, 1)
	require.Len(t, api.calls[0].opts, 1)
	rm, ok := api.calls[0].opts[0].(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Len(t, rm.InlineKeyboard, 1)
	btn := rm.InlineKeyboard[0][0]
	assert.Equal(t, "Approve", btn.Text)
	assert.Equal(t, "approve", btn.Unique)
	assert.Equal(t, "7", btn.Data)
}

func TestAdapterEditFallsBackToCaption(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("telegram: Bad Request: there is no text in the message to edit (400)")}
	a := NewAdapter(api)

	err := a.EditText(context.Background(), notify.MessageRef{ChatID: 5, MessageID: 9}, "Approved", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"edit", "edit_caption"}, api.methods())
}

func TestAdapterHonoursCancelledContext(t *testing.T) {
	api := &fakeAPI{}
	a := NewAdapter(api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.SendText(ctx, 1, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, a.Ban(ctx, 1, 2), context.Canceled)
	assert.Empty(t, api.calls)
}

func TestAdapterChannelOperations(t *testing.T) {
	api := &fakeAPI{}
	a := NewAdapter(api)
	ctx := context.Background()

	link, err := a.CreateSingleUseInvite(ctx, mainChannel)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link)
	assert.Equal(t, 1, api.calls[0].what.(*tele.ChatInviteLink).MemberLimit)

	require.NoError(t, a.Ban(ctx, mainChannel, 3))
	require.NoError(t, a.Unban(ctx, mainChannel, 3))

	rc, err := a.Fetch(ctx, "file-1")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "jpeg", string(body))
	assert.Equal(t, []string{"invite", "ban", "unban", "file"}, api.methods())
}

func TestToReplyMarkupPrecedence(t *testing.T) {
	assert.Nil(t, toReplyMarkup(nil))
	assert.Nil(t, toReplyMarkup(&notify.Markup{}))

	rm := toReplyMarkup(&notify.Markup{Reply: [][]string{{"Ask Question", "Help & Support"}}})
	require.NotNil(t, rm)
	assert.Len(t, rm.ReplyKeyboard, 1)

	rm = toReplyMarkup(&notify.Markup{RemoveReply: true})
	require.NotNil(t, rm)
	assert.True(t, rm.RemoveKeyboard)
}

type harness struct {
	h     *Handlers
	e     *service.Engine
	store *memory.Store
	msgs  *notifytest.Messenger
	api   *fakeAPI
	seen  []service.Notice
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	msgs := notifytest.New()
	d := notify.New(msgs, notify.Options{Timeout: time.Second, RetryBackoff: time.Millisecond})
	t.Cleanup(d.Close)
	api := &fakeAPI{}
	e := service.New(service.Config{AdminIDs: []int64{admin}, MainChannelID: mainChannel}, st, d, NewAdapter(api))

	hs := &harness{e: e, store: st, msgs: msgs, api: api}
	hs.h = NewHandlers(e)
	hs.h.respond = func(_ tele.Context, n service.Notice) error {
		hs.seen = append(hs.seen, n)
		return nil
	}
	return hs
}

func textContext(userID int64, text string) tele.Context {
	user := &tele.User{ID: userID, FirstName: "Abebe", Username: "abebe"}
	return tele.NewContext(nil, tele.Update{ID: 1, Message: &tele.Message{
		ID: 10, Sender: user, Chat: &tele.Chat{ID: userID}, Text: text,
	}})
}

func callbackContext(userID int64, data string) tele.Context {
	user := &tele.User{ID: userID, FirstName: "Admin"}
	return tele.NewContext(nil, tele.Update{ID: 2, Callback: &tele.Callback{
		ID: "cb", Sender: user, Data: data,
		Message: &tele.Message{ID: 77, Chat: &tele.Chat{ID: userID}},
	}})
}

func TestRegisterWiresEveryAction(t *testing.T) {
	hs := newHarness(t)
	reg := tg.NewRegistry()
	require.NoError(t, hs.h.Register(reg))

	for _, key := range []string{
		service.ActionGetStarted, service.ActionSemester, service.ActionStream, service.ActionGender,
		service.ActionMethod, service.ActionCohort, service.ActionCancel, service.ActionReply,
		service.ActionApprove, service.ActionReject,
	} {
		_, ok := reg.GetCallback(key)
		assert.True(t, ok, key)
	}
	_, cmd, ok := reg.LookupCommand("/stats")
	require.True(t, ok)
	assert.True(t, cmd.AdminOnly)
	assert.Len(t, reg.ListCommands(true), 3)
	assert.NotEmpty(t, hs.h.Routes(reg))
}

func TestStartAndGetStarted(t *testing.T) {
	hs := newHarness(t)

	require.NoError(t, hs.h.start(textContext(7, "/start")))
	require.NotEmpty(t, hs.msgs.SentTo(7))

	require.NoError(t, hs.h.callback(callbackContext(7, "\f"+service.ActionGetStarted)))
	assert.True(t, hs.h.InProgress(7))

	require.NoError(t, hs.h.ManagerHandler(textContext(7, "Abebe Kebede")))
	assert.True(t, hs.h.InProgress(7))
}

func TestDecideApprovesPendingUser(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	require.NoError(t, hs.store.Submit(ctx, storetest.Submission(7, domain.SecondSemester)))

	require.NoError(t, hs.h.decide(callbackContext(admin, "\fapprove|7")))

	u, err := hs.store.Directory().Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, u.Status)
	assert.Contains(t, hs.api.methods(), "invite")
	require.Len(t, hs.seen, 1)
}

func TestDecideRejectsBadPayload(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.h.decide(callbackContext(admin, "\freject|abc")))
	require.Len(t, hs.seen, 1)
	assert.Equal(t, textUnsupported, hs.seen[0].Text)
}

func memberContext(chatID int64, from, to tele.MemberStatus, link string) tele.Context {
	user := &tele.User{ID: 31, FirstName: "Stranger"}
	upd := &tele.ChatMemberUpdate{
		Chat:          &tele.Chat{ID: chatID},
		Sender:        user,
		OldChatMember: &tele.ChatMember{Role: from, User: user},
		NewChatMember: &tele.ChatMember{Role: to, User: user},
	}
	if link != "" {
		upd.InviteLink = &tele.ChatInviteLink{InviteLink: link}
	}
	return tele.NewContext(nil, tele.Update{ID: 3, ChatMember: upd})
}

func TestMemberUpdatedRemovesUnapprovedJoin(t *testing.T) {
	hs := newHarness(t)

	require.NoError(t, hs.h.memberUpdated(memberContext(mainChannel, tele.Left, tele.Member, "https://t.me/+leak")))
	assert.Equal(t, []string{"ban", "unban"}, hs.api.methods())
}

func TestMemberUpdatedIgnoresNonJoins(t *testing.T) {
	hs := newHarness(t)

	require.NoError(t, hs.h.memberUpdated(memberContext(mainChannel, tele.Member, tele.Administrator, "https://t.me/+x")))
	require.NoError(t, hs.h.memberUpdated(memberContext(mainChannel, tele.Member, tele.Left, "")))
	require.NoError(t, hs.h.memberUpdated(memberContext(-5, tele.Left, tele.Member, "https://t.me/+x")))
	assert.Empty(t, hs.api.methods())
}

func TestIsJoin(t *testing.T) {
	cases := []struct {
		from, to tele.MemberStatus
		member   bool
		want     bool
	}{
		{tele.Left, tele.Member, false, true},
		{tele.Kicked, tele.Member, false, true},
		{tele.Left, tele.Restricted, true, true},
		{tele.Left, tele.Restricted, false, false},
		{tele.Member, tele.Administrator, false, false},
		{tele.Member, tele.Left, false, false},
	}
	for _, tc := range cases {
		upd := &tele.ChatMemberUpdate{
			OldChatMember: &tele.ChatMember{Role: tc.from},
			NewChatMember: &tele.ChatMember{Role: tc.to, Member: tc.member},
		}
		assert.Equal(t, tc.want, isJoin(upd), "%s -> %s", tc.from, tc.to)
	}
}

func TestOnErrorResetsSession(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.h.callback(callbackContext(7, "\f"+service.ActionGetStarted)))
	require.True(t, hs.h.InProgress(7))

	hs.h.OnError(errors.New("boom"), textContext(7, "hi"))
	assert.False(t, hs.h.InProgress(7))
	assert.NotEmpty(t, hs.msgs.SentTo(admin))
}

func TestMessageOfPhotoUsesCaption(t *testing.T) {
	user := &tele.User{ID: 7}
	c := tele.NewContext(nil, tele.Update{Message: &tele.Message{
		ID: 4, Sender: user, Chat: &tele.Chat{ID: 7},
		Photo: &tele.Photo{File: tele.File{FileID: "ph-1"}}, Caption: "receipt",
	}})
	msg := messageOf(c)
	assert.Equal(t, "ph-1", msg.PhotoRef)
	assert.Equal(t, "receipt", msg.Text)
	assert.Equal(t, int64(7), msg.ChatID)
}
