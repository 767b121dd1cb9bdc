package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/notify/notifytest"
	"github.com/abjtutorial/tutorbot/internal/service"
	"github.com/abjtutorial/tutorbot/internal/store"
	"github.com/abjtutorial/tutorbot/internal/store/memory"
	"github.com/abjtutorial/tutorbot/internal/store/storetest"
)

const (
	adminA      int64 = 900
	adminB      int64 = 901
	mainChannel int64 = -1001
	logChannel  int64 = -1002
)

type fakeChannel struct {
	mu        sync.Mutex
	minted    int
	banned    []int64
	unbanned  []int64
	inviteErr error
}

func (c *fakeChannel) CreateSingleUseInvite(_ context.Context, chatID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inviteErr != nil {
		return "", c.inviteErr
	}
	c.minted++
	return fmt.Sprintf("https://t.me/+invite%d", c.minted), nil
}

func (c *fakeChannel) Ban(_ context.Context, _, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.banned = append(c.banned, userID)
	return nil
}

func (c *fakeChannel) Unban(_ context.Context, _, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unbanned = append(c.unbanned, userID)
	return nil
}

type harness struct {
	engine *service.Engine
	store  *memory.Store
	msgs   *notifytest.Messenger
	ch     *fakeChannel
}

// brokenDirectory fails every read and status change, as during a store outage.
type brokenDirectory struct {
	store.Directory
	err error
}

func (d brokenDirectory) Get(context.Context, int64) (domain.User, error) {
	return domain.User{}, d.err
}

func (d brokenDirectory) SetStatus(context.Context, int64, domain.Status) error {
	return d.err
}

type brokenStore struct {
	*memory.Store
	dir store.Directory
}

func (s brokenStore) Directory() store.Directory { return s.dir }

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(st *memory.Store) store.Store { return st })
}

// newBrokenHarness seeds through the memory store while the engine sees a
// directory that always fails.
func newBrokenHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, func(st *memory.Store) store.Store {
		return brokenStore{Store: st, dir: brokenDirectory{Directory: st.Directory(), err: errors.New("dial tcp: connection refused")}}
	})
}

func newHarnessWith(t *testing.T, wrap func(*memory.Store) store.Store) *harness {
	t.Helper()
	st := memory.New()
	msgs := notifytest.New()
	d := notify.New(msgs, notify.Options{Timeout: time.Second, RetryBackoff: time.Millisecond})
	t.Cleanup(d.Close)
	ch := &fakeChannel{}
	e := service.New(service.Config{
		AdminIDs:      []int64{adminA, adminB},
		MainChannelID: mainChannel,
		LogChannelID:  logChannel,
		Contact:       service.Contact{Username: "@abj_support", Phone: "+251900000000"},
	}, wrap(st), d, ch)
	return &harness{engine: e, store: st, msgs: msgs, ch: ch}
}

func actor(id int64, first string) service.Actor {
	return service.Actor{ID: id, Username: strings.ToLower(first), FirstName: first}
}

func (h *harness) press(t *testing.T, a service.Actor, msgID int, action, payload string) service.Notice {
	t.Helper()
	n, err := h.engine.HandleCallback(context.Background(), a, service.Callback{
		Message: notify.MessageRef{ChatID: a.ID, MessageID: msgID},
		Action:  action,
		Payload: payload,
	})
	require.NoError(t, err)
	return n
}

func (h *harness) say(t *testing.T, a service.Actor, msgID int, text string) {
	t.Helper()
	require.NoError(t, h.engine.HandleMessage(context.Background(), a, service.Message{ChatID: a.ID, ID: msgID, Text: text}))
}

func (h *harness) photo(t *testing.T, a service.Actor, msgID int, ref string) {
	t.Helper()
	require.NoError(t, h.engine.HandleMessage(context.Background(), a, service.Message{ChatID: a.ID, ID: msgID, PhotoRef: ref}))
}

// fillRegistration drives a registration up to the screenshot step. The
// choice buttons live on message 3.
func (h *harness) fillRegistration(t *testing.T, a service.Actor, p domain.Profile, method string) {
	t.Helper()
	h.press(t, a, 1, service.ActionGetStarted, "")
	h.say(t, a, 2, p.FullName)
	h.press(t, a, 3, service.ActionSemester, string(p.Semester))
	h.press(t, a, 3, service.ActionStream, p.Stream)
	h.press(t, a, 3, service.ActionGender, p.Gender)
	h.press(t, a, 3, service.ActionMethod, method)
}

func (h *harness) approved(t *testing.T, id int64, sem domain.Semester) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(id, sem)))
	_, err := h.store.Decide(ctx, id, domain.StatusApproved)
	require.NoError(t, err)
}

func lastText(msgs []notifytest.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Text
}

func TestRegistrationAndApprovalExample(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := actor(555, "Alemu")

	h.fillRegistration(t, u, domain.Profile{
		FullName: "Alemu B",
		Semester: domain.FirstSemester,
		Stream:   "Natural Science",
		Gender:   "Male",
	}, "CBE")
	h.photo(t, u, 4, "photo-1")

	sub, err := h.store.Reviews().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sub.Payment.PaymentID, "ABJ555"))
	assert.Equal(t, "ABJ5553", sub.Payment.PaymentID)
	assert.Equal(t, "CBE", sub.Payment.Method)
	assert.Equal(t, "photo-1", sub.Payment.ScreenshotRef)

	usr, err := h.store.Directory().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, usr.Status)
	assert.Equal(t, "Alemu B", usr.Profile.FullName)

	for _, admin := range []int64{adminA, adminB} {
		sent := h.msgs.SentTo(admin)
		require.Len(t, sent, 1)
		assert.Equal(t, "photo-1", sent[0].PhotoRef)
		assert.Contains(t, sent[0].Text, "Payment ID: ABJ5553")
		require.NotNil(t, sent[0].Markup)
		assert.Equal(t, service.ActionApprove, sent[0].Markup.Inline[0][0].Action)
		assert.Equal(t, "555", sent[0].Markup.Inline[0][0].Payload)
	}
	assert.Contains(t, lastText(h.msgs.SentTo(u.ID)), "Thank you for your submission!")
	assert.Zero(t, h.engine.Sessions().Len())

	request := notify.MessageRef{ChatID: adminA, MessageID: 77}
	n, err := h.engine.Approve(ctx, actor(adminA, "Admin"), u.ID, request)
	require.NoError(t, err)
	assert.Empty(t, n.Text)

	usr, err = h.store.Directory().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, usr.Status)
	_, err = h.store.Reviews().Get(ctx, u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	dm := h.msgs.SentTo(u.ID)
	last := dm[len(dm)-1]
	assert.Contains(t, last.Text, "PAYMENT APPROVED!")
	require.NotNil(t, last.Markup)
	assert.Equal(t, "https://t.me/+invite1", last.Markup.Inline[0][0].URL)

	inv, err := h.store.Invites().Lookup(ctx, "https://t.me/+invite1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, inv.OwnerID)

	logs := h.msgs.SentTo(logChannel)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Text, "USER APPROVED")
	assert.Contains(t, h.msgs.Deleted(), request)
}

func TestRegistrationRepromptsInvalidInput(t *testing.T) {
	h := newHarness(t)
	u := actor(42, "Sara")

	h.press(t, u, 1, service.ActionGetStarted, "")
	h.say(t, u, 2, "   ")
	assert.Equal(t, "Please enter a valid name.", lastText(h.msgs.SentTo(u.ID)))

	h.say(t, u, 3, "Sara T")
	h.press(t, u, 4, service.ActionSemester, string(domain.SecondSemester))
	// a stream from the other semester is refused and the question repeated
	h.press(t, u, 4, service.ActionStream, "Natural Science")
	assert.Contains(t, lastText(h.msgs.SentTo(u.ID)), "Now choose your Stream:")

	h.press(t, u, 4, service.ActionStream, "Health Science")
	h.press(t, u, 4, service.ActionGender, "Female")
	h.press(t, u, 4, service.ActionMethod, "Telebirr")
	h.say(t, u, 5, "here is my receipt")
	assert.Equal(t, "Please send your payment screenshot as a photo.", lastText(h.msgs.SentTo(u.ID)))

	_, err := h.store.Reviews().Get(context.Background(), u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDoubleScreenshotKeepsOneEntry(t *testing.T) {
	h := newHarness(t)
	u := actor(77, "Hana")
	h.fillRegistration(t, u, domain.Profile{
		FullName: "Hana K", Semester: domain.SecondSemester, Stream: "Pre-Engineering", Gender: "Female",
	}, "Telebirr")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.engine.HandleMessage(context.Background(), u, service.Message{ChatID: u.ID, ID: 10 + i, PhotoRef: fmt.Sprintf("p%d", i)})
		}(i)
	}
	wg.Wait()

	list, err := h.store.Reviews().List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, h.msgs.SentTo(adminA), 1)
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := actor(31, "Abel")
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(u.ID, domain.FirstSemester)))

	var wg sync.WaitGroup
	for i, admin := range []int64{adminA, adminB} {
		action := service.ActionApprove
		if i == 1 {
			action = service.ActionReject
		}
		wg.Add(1)
		go func(admin int64, action string) {
			defer wg.Done()
			_, err := h.engine.HandleCallback(ctx, actor(admin, "Admin"), service.Callback{
				Message: notify.MessageRef{ChatID: admin, MessageID: 5},
				Action:  action,
				Payload: "31",
			})
			assert.NoError(t, err)
		}(admin, action)
	}
	wg.Wait()

	usr, err := h.store.Directory().Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, []domain.Status{domain.StatusApproved, domain.StatusRejected}, usr.Status)

	processed := 0
	for _, e := range h.msgs.Edits() {
		if e.Text == "Request already processed or not found." {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Len(t, h.msgs.SentTo(logChannel), 1)
	assert.Len(t, h.msgs.Deleted(), 1)
}

func TestNonAdminCannotDecide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(8, domain.FirstSemester)))

	n := h.press(t, actor(9, "Mallory"), 1, service.ActionApprove, "8")
	assert.True(t, n.Alert)
	assert.Equal(t, "You are not authorized to perform this action.", n.Text)

	usr, err := h.store.Directory().Get(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, usr.Status)

	err = h.engine.ViewStats(ctx, actor(9, "Mallory"), 9)
	assert.ErrorIs(t, err, service.ErrNotAuthorized)
}

func TestRejectSendsCorrectiveMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(12, domain.SecondSemester)))

	_, err := h.engine.Reject(ctx, actor(adminB, "Admin"), 12, notify.MessageRef{ChatID: adminB, MessageID: 3})
	require.NoError(t, err)

	usr, err := h.store.Directory().Get(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, usr.Status)
	assert.Contains(t, lastText(h.msgs.SentTo(12)), "couldn't verify your payment")
	assert.Contains(t, lastText(h.msgs.SentTo(logChannel)), "USER REJECTED")
	assert.Zero(t, h.ch.minted)
}

func TestApproveSurvivesInviteFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ch.inviteErr = errors.New("not enough rights")
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(13, domain.FirstSemester)))

	_, err := h.engine.Approve(ctx, actor(adminA, "Admin"), 13, notify.MessageRef{ChatID: adminA, MessageID: 3})
	require.NoError(t, err)

	usr, err := h.store.Directory().Get(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, usr.Status)
	assert.Contains(t, lastText(h.msgs.SentTo(adminA)), "invite link could not be created")
}

func TestGateRemovesSharedInviteJoiners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := actor(100, "Owner")
	h.approved(t, owner.ID, domain.FirstSemester)
	require.NoError(t, h.store.Invites().Record(ctx, domain.Invite{Link: "https://t.me/+abc", OwnerID: owner.ID, CreatedAt: time.Now()}))

	res, err := h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: mainChannel, User: owner, InviteLink: "https://t.me/+abc"})
	require.NoError(t, err)
	assert.Equal(t, service.GateAllowed, res)

	intruder := actor(200, "Guest")
	res, err = h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: mainChannel, User: intruder, InviteLink: "https://t.me/+abc"})
	require.NoError(t, err)
	assert.Equal(t, service.GateRemoved, res)
	assert.Equal(t, []int64{200}, h.ch.banned)
	assert.Equal(t, []int64{200}, h.ch.unbanned)

	notes := h.msgs.SentTo(logChannel)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Text, "Unauthorized join blocked")
	assert.Contains(t, notes[0].Text, "Invite issued to: 100")

	res, err = h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: mainChannel, User: actor(201, "Walk")})
	require.NoError(t, err)
	assert.Equal(t, service.GateIgnored, res)

	res, err = h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: -5, User: intruder, InviteLink: "x"})
	require.NoError(t, err)
	assert.Equal(t, service.GateIgnored, res)
	assert.Len(t, h.ch.banned, 1)
}

func auditKinds(t *testing.T, st store.Store) []string {
	t.Helper()
	evs, err := st.Audit().Recent(context.Background(), 0)
	require.NoError(t, err)
	kinds := make([]string, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestGateDuringDirectoryOutage(t *testing.T) {
	h := newBrokenHarness(t)
	ctx := context.Background()
	owner := actor(100, "Owner")
	h.approved(t, owner.ID, domain.FirstSemester)
	require.NoError(t, h.store.Invites().Record(ctx, domain.Invite{Link: "L", OwnerID: owner.ID, CreatedAt: time.Now()}))

	res, err := h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: mainChannel, User: owner, InviteLink: "L"})
	require.NoError(t, err)
	assert.Equal(t, service.GateAllowed, res)
	assert.Empty(t, h.ch.banned)
	assert.Empty(t, h.msgs.SentTo(logChannel))

	res, err = h.engine.HandleMemberJoin(ctx, service.MemberJoin{ChatID: mainChannel, User: actor(200, "Guest"), InviteLink: "L"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, service.GateFailed, res)
	assert.Empty(t, h.ch.banned)
	assert.Empty(t, h.ch.unbanned)

	notes := h.msgs.SentTo(logChannel)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Text, "Join check failed")
	assert.Contains(t, notes[0].Text, "Invite issued to: 100")
	assert.Equal(t, []string{domain.AuditGateCheckFailed}, auditKinds(t, h.store))
}

func TestAnnouncementTargetsCohort(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		h.approved(t, id, domain.FirstSemester)
	}
	for _, id := range []int64{4, 5} {
		h.approved(t, id, domain.SecondSemester)
	}
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(6, domain.FirstSemester)))
	h.msgs.FailFor(3, errors.New("Forbidden: bot was blocked by the user"))

	admin := actor(adminA, "Admin")
	h.say(t, admin, 1, service.MenuAnnounce)
	h.press(t, admin, 2, service.ActionCohort, string(domain.CohortFirst))
	prompt := h.msgs.Edits()[len(h.msgs.Edits())-1].Text
	assert.Contains(t, prompt, "(text or photo)")
	assert.NotContains(t, prompt, "document")
	h.say(t, admin, 3, "Exam tomorrow")

	for _, id := range []int64{1, 2} {
		got := h.msgs.SentTo(id)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Text, "Exam tomorrow")
	}
	for _, id := range []int64{4, 5, 6} {
		assert.Empty(t, h.msgs.SentTo(id))
	}
	summary := lastText(h.msgs.SentTo(adminA))
	assert.Contains(t, summary, "Target: First Semester")
	assert.Contains(t, summary, "Successful: 2\nFailed: 1")
	assert.Zero(t, h.engine.Sessions().Len())
}

func TestCancelLeavesDirectoryUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	fresh := actor(61, "New")
	h.press(t, fresh, 1, service.ActionGetStarted, "")
	h.say(t, fresh, 2, "New Person")
	h.press(t, fresh, 3, service.ActionSemester, string(domain.FirstSemester))
	h.press(t, fresh, 3, service.ActionCancel, "registration")
	assert.False(t, h.engine.Sessions().InProgress(fresh.ID))
	_, err := h.store.Directory().Get(ctx, fresh.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, h.msgs.Edits()[len(h.msgs.Edits())-1].Text, "Registration Cancelled")

	rejected := actor(62, "Again")
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(rejected.ID, domain.FirstSemester)))
	_, err = h.store.Decide(ctx, rejected.ID, domain.StatusRejected)
	require.NoError(t, err)
	h.press(t, rejected, 1, service.ActionGetStarted, "")
	h.say(t, rejected, 2, "Again Person")
	require.NoError(t, h.engine.Cancel(ctx, rejected, rejected.ID))
	assert.False(t, h.engine.Sessions().InProgress(rejected.ID))
	usr, err := h.store.Directory().Get(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, usr.Status)
	assert.Equal(t, "Operation cancelled. Send /start to begin again.", lastText(h.msgs.SentTo(rejected.ID)))
}

func TestCancelButtonFromOtherConversationIsIgnored(t *testing.T) {
	h := newHarness(t)
	u := actor(63, "Busy")
	h.press(t, u, 1, service.ActionGetStarted, "")
	h.say(t, u, 2, "Busy Person")
	edits := len(h.msgs.Edits())
	sent := len(h.msgs.SentTo(u.ID))

	h.press(t, u, 9, service.ActionCancel, "question")
	assert.True(t, h.engine.Sessions().InProgress(u.ID))
	assert.Len(t, h.msgs.Edits(), edits)
	assert.Len(t, h.msgs.SentTo(u.ID), sent)

	h.press(t, u, 3, service.ActionCancel, "registration")
	assert.False(t, h.engine.Sessions().InProgress(u.ID))
	assert.Contains(t, h.msgs.Edits()[len(h.msgs.Edits())-1].Text, "Registration Cancelled")
}

func TestStatusShortCircuitsRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.approved(t, 70, domain.FirstSemester)
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(71, domain.FirstSemester)))

	h.press(t, actor(70, "Done"), 1, service.ActionGetStarted, "")
	assert.Equal(t, "You are already an approved member!", h.msgs.Edits()[0].Text)
	assert.False(t, h.engine.Sessions().InProgress(70))

	require.NoError(t, h.engine.Register(ctx, actor(71, "Wait"), 71))
	assert.Equal(t, "Your payment is under review. Please wait for approval.", lastText(h.msgs.SentTo(71)))
	assert.False(t, h.engine.Sessions().InProgress(71))
}

func TestStartMenus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.approved(t, 80, domain.SecondSemester)

	require.NoError(t, h.engine.Start(ctx, actor(adminA, "Boss"), adminA))
	msg := h.msgs.SentTo(adminA)[0]
	assert.Equal(t, "Admin Control Panel\n\nWelcome back, Boss!", msg.Text)
	assert.Equal(t, service.MenuAnnounce, msg.Markup.Reply[0][0])

	require.NoError(t, h.engine.Start(ctx, actor(80, "Mimi"), 80))
	assert.Contains(t, lastText(h.msgs.SentTo(80)), "Semester: Second Semester")

	require.NoError(t, h.engine.Start(ctx, actor(81, "Lidya"), 81))
	welcome := h.msgs.SentTo(81)[0]
	assert.Contains(t, welcome.Text, "Welcome to ABJ Tutorial Bot, Lidya!")
	assert.Equal(t, service.ActionGetStarted, welcome.Markup.Inline[0][0].Action)
}

func TestQuestionAndReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	student := actor(90, "Kidus")
	h.approved(t, student.ID, domain.FirstSemester)

	h.say(t, actor(91, "Outsider"), 1, service.MenuAskQuestion)
	assert.Equal(t, "This feature is only available for approved members.", lastText(h.msgs.SentTo(91)))

	h.say(t, student, 1, service.MenuAskQuestion)
	h.say(t, student, 2, "When is the exam?")
	c, err := h.store.Comments().Get(ctx, "comment_90_2")
	require.NoError(t, err)
	assert.Equal(t, "When is the exam?", c.Text)
	assert.Equal(t, "Student Name", c.DisplayName)

	toAdmin := h.msgs.SentTo(adminA)
	require.Len(t, toAdmin, 1)
	assert.Equal(t, "comment_90_2", toAdmin[0].Markup.Inline[0][0].Payload)

	admin := actor(adminA, "Admin")
	h.press(t, admin, 50, service.ActionReply, "comment_90_2")
	h.say(t, admin, 51, "Next Monday")

	_, err = h.store.Comments().Get(ctx, "comment_90_2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	dm := lastText(h.msgs.SentTo(student.ID))
	assert.Contains(t, dm, "Hello Student Name!")
	assert.Contains(t, dm, "Next Monday")
	assert.Equal(t, "Reply sent successfully!", lastText(h.msgs.SentTo(adminA)))

	h.press(t, actor(adminB, "Other"), 60, service.ActionReply, "comment_90_2")
	assert.Equal(t, "Comment no longer available or already replied.", h.msgs.Edits()[len(h.msgs.Edits())-1].Text)
}

func TestReplyFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Comments().Put(ctx, domain.Comment{ID: "comment_5_1", UserID: 5, DisplayName: "Gone", Text: "?", AskedAt: time.Now()}))
	h.msgs.FailFor(5, errors.New("Forbidden: bot was blocked by the user"))

	admin := actor(adminA, "Admin")
	h.press(t, admin, 1, service.ActionReply, "comment_5_1")
	h.say(t, admin, 2, "answer")

	assert.Equal(t, "Failed to send reply. User may have blocked the bot.", lastText(h.msgs.SentTo(adminA)))
	_, err := h.store.Comments().Get(ctx, "comment_5_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdminScreens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := actor(adminA, "Admin")
	h.approved(t, 1, domain.FirstSemester)
	h.approved(t, 2, domain.SecondSemester)
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(3, domain.FirstSemester)))

	h.say(t, admin, 1, service.MenuStats)
	stats := lastText(h.msgs.SentTo(adminA))
	assert.Contains(t, stats, "• Total: 3")
	assert.Contains(t, stats, "• Approved: 2")
	assert.Contains(t, stats, "• Awaiting Review: 1")
	assert.Contains(t, stats, "• First Semester: 1")

	h.say(t, admin, 2, service.MenuQuestions)
	assert.Equal(t, "No pending questions.", lastText(h.msgs.SentTo(adminA)))

	h.say(t, admin, 3, service.MenuClearPending)
	assert.Equal(t, "Cleared 1 pending payment requests.", lastText(h.msgs.SentTo(adminA)))
	usr, err := h.store.Directory().Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, usr.Status)
	assert.NotEmpty(t, h.msgs.SentTo(3))
}

func TestClearPendingRequeuesWhenStatusFails(t *testing.T) {
	h := newBrokenHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(3, domain.FirstSemester)))
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(4, domain.SecondSemester)))

	require.NoError(t, h.engine.ClearPending(ctx, actor(adminA, "Admin"), adminA))
	assert.Equal(t, "Cleared 0 pending payment requests.", lastText(h.msgs.SentTo(adminA)))

	list, err := h.store.Reviews().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, id := range []int64{3, 4} {
		usr, err := h.store.Directory().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, usr.Status)
		assert.Empty(t, h.msgs.SentTo(id))
	}
}

func TestJobsHooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := storetest.Submission(1, domain.FirstSemester)
	old.SubmittedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, h.store.Submit(ctx, old))
	require.NoError(t, h.store.Submit(ctx, storetest.Submission(2, domain.FirstSemester)))

	n, err := h.engine.PendingDigest(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, lastText(h.msgs.SentTo(adminA)), "Pending Review Digest")

	require.NoError(t, h.store.Comments().Put(ctx, domain.Comment{ID: "comment_7_1", UserID: 7, Text: "old", AskedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, h.store.Comments().Put(ctx, domain.Comment{ID: "comment_7_2", UserID: 7, Text: "new", AskedAt: time.Now()}))
	n, err = h.engine.ExpireQuestions(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	left, err := h.store.Comments().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestReportErrorTruncates(t *testing.T) {
	h := newHarness(t)
	h.engine.ReportError(context.Background(), errors.New("boom"), strings.Repeat("x", 5000))

	for _, admin := range []int64{adminA, adminB} {
		sent := h.msgs.SentTo(admin)
		require.Len(t, sent, 1)
		assert.True(t, strings.HasPrefix(sent[0].Text, "Bot error: boom\nUpdate: "))
		assert.Len(t, []rune(sent[0].Text), 4000)
	}
}
