// Package service is the workflow engine of the bot. It owns the conversation
// sessions, applies registration, review, gate and messaging rules against the
// store, and talks to users only through the notify dispatcher and the Channel
// port. It never imports the chat transport.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
	"github.com/abjtutorial/tutorbot/core/telegram/state"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/flow"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// ErrNotAuthorized is returned when a non-admin triggers an admin action.
var ErrNotAuthorized = errors.New("service: not authorized")

// Channel manages membership of the gated channel.
type Channel interface {
	// CreateSingleUseInvite mints an invite link valid for exactly one join.
	CreateSingleUseInvite(ctx context.Context, chatID int64) (string, error)
	Ban(ctx context.Context, chatID, userID int64) error
	Unban(ctx context.Context, chatID, userID int64) error
}

// Archiver copies a payment screenshot to durable storage and returns the object key.
type Archiver interface {
	Archive(ctx context.Context, sub domain.Submission) (string, error)
}

// Publisher forwards audit events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, ev domain.AuditEvent) error
}

// Contact is shown on the help screen.
type Contact struct {
	Username string
	Phone    string
}

// Config holds the engine settings taken from the application config.
type Config struct {
	AdminIDs        []int64
	MainChannelID   int64
	LogChannelID    int64
	Contact         Contact
	PaymentMethods  []domain.PaymentMethod
	PaymentIDPrefix string
	// QuestionsPage is how many pending questions View Questions shows.
	QuestionsPage int
}

// Actor is the user behind an inbound event.
type Actor struct {
	ID        int64
	Username  string
	FirstName string
}

// Message is an inbound text or photo message.
type Message struct {
	ChatID   int64
	ID       int
	Text     string
	PhotoRef string
}

// Callback is an inline button press. Message is the message carrying the button.
type Callback struct {
	Message notify.MessageRef
	Action  string
	Payload string
}

// Notice is the answer shown for a button press. Empty text answers silently.
type Notice struct {
	Text  string
	Alert bool
}

// MemberJoin is a membership change of the gated channel.
type MemberJoin struct {
	ChatID     int64
	User       Actor
	InviteLink string
}

// Engine runs every workflow of the bot.
type Engine struct {
	cfg      Config
	admins   map[int64]struct{}
	store    store.Store
	sessions *state.Manager
	notify   *notify.Dispatcher
	channel  Channel
	archive  Archiver
	events   Publisher
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiver stores payment screenshots on submission.
func WithArchiver(a Archiver) Option { return func(e *Engine) { e.archive = a } }

// WithPublisher forwards audit events.
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.events = p } }

// WithMetrics records workflow counters.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithSessions shares a session manager with the caller.
func WithSessions(m *state.Manager) Option { return func(e *Engine) { e.sessions = m } }

// New builds an engine.
func New(cfg Config, st store.Store, d *notify.Dispatcher, ch Channel, opts ...Option) *Engine {
	if len(cfg.PaymentMethods) == 0 {
		cfg.PaymentMethods = domain.DefaultPaymentMethods()
	}
	if cfg.PaymentIDPrefix == "" {
		cfg.PaymentIDPrefix = "ABJ"
	}
	if cfg.QuestionsPage <= 0 {
		cfg.QuestionsPage = 5
	}
	e := &Engine{
		cfg:      cfg,
		admins:   make(map[int64]struct{}, len(cfg.AdminIDs)),
		store:    st,
		sessions: state.NewManager(),
		notify:   d,
		channel:  ch,
		now:      time.Now,
	}
	for _, id := range cfg.AdminIDs {
		e.admins[id] = struct{}{}
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Sessions exposes the session manager for sweeping.
func (e *Engine) Sessions() *state.Manager { return e.sessions }

// IsAdmin reports whether id is a configured admin.
func (e *Engine) IsAdmin(id int64) bool {
	_, ok := e.admins[id]
	return ok
}

// ResetSession drops the user's in-flight interaction.
func (e *Engine) ResetSession(userID int64) { e.sessions.Clear(userID) }

// HandleMessage routes a text or photo message to the user's session or the menus.
func (e *Engine) HandleMessage(ctx context.Context, a Actor, msg Message) error {
	unlock := e.sessions.Lock(a.ID)
	defer unlock()

	in := flow.Input{Text: msg.Text, PhotoRef: msg.PhotoRef, MessageID: msg.ID}
	switch fl := e.session(a.ID).(type) {
	case *flow.Registration:
		return e.advanceRegistration(ctx, a, msg.ChatID, nil, fl, in)
	case *flow.Question:
		return e.advanceQuestion(ctx, a, msg, fl, in)
	case *flow.Reply:
		return e.advanceReply(ctx, a, msg.ChatID, fl, in)
	case *flow.Announcement:
		return e.advanceAnnouncement(ctx, a, msg.ChatID, nil, fl, in)
	}
	return e.menu(ctx, a, msg)
}

// HandleCallback routes a button press.
func (e *Engine) HandleCallback(ctx context.Context, a Actor, cb Callback) (Notice, error) {
	unlock := e.sessions.Lock(a.ID)
	defer unlock()

	chatID := cb.Message.ChatID
	in := flow.Input{Choice: cb.Payload, MessageID: cb.Message.MessageID}
	switch cb.Action {
	case ActionGetStarted:
		return Notice{}, e.beginRegistration(ctx, a, chatID, &cb.Message)
	case ActionSemester, ActionStream, ActionGender, ActionMethod:
		reg, ok := e.session(a.ID).(*flow.Registration)
		if !ok {
			return Notice{}, nil
		}
		in.For = choiceStep(cb.Action)
		return Notice{}, e.advanceRegistration(ctx, a, chatID, &cb.Message, reg, in)
	case ActionCohort:
		ann, ok := e.session(a.ID).(*flow.Announcement)
		if !ok {
			return Notice{}, nil
		}
		in.For = flow.StepSelectCohort
		return Notice{}, e.advanceAnnouncement(ctx, a, chatID, &cb.Message, ann, in)
	case ActionCancel:
		return Notice{}, e.cancelButton(ctx, a, cb)
	case ActionApprove, ActionReject:
		return e.decide(ctx, a, cb)
	case ActionReply:
		return e.startReply(ctx, a, cb)
	}
	return Notice{Text: "Unsupported action"}, nil
}

// Cancel handles the /cancel command.
func (e *Engine) Cancel(ctx context.Context, a Actor, chatID int64) error {
	unlock := e.sessions.Lock(a.ID)
	defer unlock()

	e.sessions.Clear(a.ID)
	switch {
	case e.IsAdmin(a.ID):
		return e.send(ctx, chatID, textOperationCancelled, adminMenu())
	case e.status(ctx, a.ID) == domain.StatusApproved:
		return e.send(ctx, chatID, textOperationCancelled, userMenu())
	}
	return e.send(ctx, chatID, textOperationCancelledRestart, nil)
}

// ReportError alerts every admin about an unexpected failure.
func (e *Engine) ReportError(ctx context.Context, cause error, update string) {
	if cause == nil || len(e.cfg.AdminIDs) == 0 {
		return
	}
	text := truncateRunes("Bot error: "+cause.Error()+"\nUpdate: "+update, maxAlertRunes)
	e.notify.Notify(ctx, e.cfg.AdminIDs, notify.Payload{Text: text})
}

func (e *Engine) session(userID int64) flow.Flow {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return nil
	}
	fl, _ := sess.Data.(flow.Flow)
	return fl
}

func (e *Engine) save(userID int64, fl flow.Flow) {
	if fl.Done() {
		e.sessions.Clear(userID)
		return
	}
	e.sessions.Set(userID, state.State(fl.Step()), fl)
}

func (e *Engine) status(ctx context.Context, userID int64) domain.Status {
	u, err := e.store.Directory().Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "directory.get_failed",
				slog.Int64("target_user_id", userID),
				slog.String("err", err.Error()),
			)
		}
		return domain.StatusUnregistered
	}
	return u.Status
}

// send delivers a single message with the dispatcher's timeout and retry policy.
func (e *Engine) send(ctx context.Context, chatID int64, text string, markup *notify.Markup) error {
	out := e.notify.NotifyOne(ctx, chatID, notify.Payload{Text: text, Markup: markup})
	return out.Err
}

// show edits the message a button was pressed on, or sends a new one.
func (e *Engine) show(ctx context.Context, chatID int64, via *notify.MessageRef, text string, markup *notify.Markup) error {
	if via == nil {
		return e.send(ctx, chatID, text, markup)
	}
	if err := e.notify.Edit(ctx, *via, text, markup); err != nil {
		logger.LogEvent(ctx, logger.Notify, slog.LevelWarn, "edit.fallback_send",
			slog.Int64("chat_id", via.ChatID),
			slog.String("err", err.Error()),
		)
		return e.send(ctx, chatID, text, markup)
	}
	return nil
}

func (e *Engine) notifyAdmins(ctx context.Context, p notify.Payload) notify.Report {
	return e.notify.Notify(ctx, e.cfg.AdminIDs, p)
}

func (e *Engine) logChannel(ctx context.Context, p notify.Payload) {
	if e.cfg.LogChannelID == 0 {
		return
	}
	e.notify.NotifyOne(ctx, e.cfg.LogChannelID, p)
}

// audit appends the event to the store and forwards it to the publisher.
// Failures are logged and never undo the decision being recorded.
func (e *Engine) audit(ctx context.Context, kind string, actor, subject int64, data map[string]string) {
	ev := domain.AuditEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		ActorID:   actor,
		SubjectID: subject,
		Data:      data,
		At:        e.now().UTC(),
	}
	if err := e.store.Audit().Append(ctx, ev); err != nil {
		logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "audit.append_failed",
			slog.String("kind", kind),
			slog.String("err", err.Error()),
		)
	}
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		logger.LogEvent(ctx, logger.Events, slog.LevelWarn, "publish.failed",
			slog.String("kind", kind),
			slog.String("event_id", ev.ID),
			slog.String("err", err.Error()),
		)
	}
}

func choiceStep(action string) flow.Step {
	switch action {
	case ActionSemester:
		return flow.StepSemester
	case ActionStream:
		return flow.StepStream
	case ActionGender:
		return flow.StepGender
	case ActionMethod:
		return flow.StepPaymentMethod
	}
	return ""
}

func parseUserID(payload string) (int64, bool) {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

const maxAlertRunes = 4000

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
