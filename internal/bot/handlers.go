package bot

import (
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/core/logger"
	tg "github.com/abjtutorial/tutorbot/core/telegram"
	"github.com/abjtutorial/tutorbot/core/telegram/callbacks"
	tghelpers "github.com/abjtutorial/tutorbot/core/telegram/helpers"
	"github.com/abjtutorial/tutorbot/core/telegram/router"
	"github.com/abjtutorial/tutorbot/core/telegram/state"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/service"
)

const (
	textSlowDown      = "⏳ Please slow down a little."
	textNotAuthorized = "You are not authorized to use this command."
	textUnsupported   = "Unsupported action"
)

// Handlers translates Telegram updates into engine calls.
type Handlers struct {
	engine  *service.Engine
	respond func(c tele.Context, n service.Notice) error
}

// NewHandlers builds the handlers for engine.
func NewHandlers(engine *service.Engine) *Handlers {
	return &Handlers{
		engine: engine,
		respond: func(c tele.Context, n service.Notice) error {
			return tghelpers.Respond(c, n.Text, n.Alert)
		},
	}
}

// Register adds the bot's commands and callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/start", tg.Command{Handler: h.start, Description: "Open the main menu"})
	reg.RegisterCommand("/register", tg.Command{Handler: h.register, Description: "Register for the tutorial"})
	reg.RegisterCommand("/cancel", tg.Command{Handler: h.cancel, Description: "Cancel the current operation"})
	reg.RegisterCommand("/stats", tg.Command{Handler: h.stats, Description: "View statistics", AdminOnly: true})
	reg.RegisterCommand("/clear_pending", tg.Command{Handler: h.clearPending, Description: "Clear pending reviews", AdminOnly: true})
	reg.RegisterCommand("/questions", tg.Command{Handler: h.questions, Description: "View pending questions", AdminOnly: true})

	for _, action := range []string{
		service.ActionGetStarted, service.ActionSemester, service.ActionStream,
		service.ActionGender, service.ActionMethod, service.ActionCohort,
		service.ActionCancel, service.ActionReply,
	} {
		if err := reg.RegisterCallback(action, h.callback); err != nil {
			return err
		}
	}
	for _, action := range []string{service.ActionApprove, service.ActionReject} {
		if err := reg.RegisterCallback(action, h.decide); err != nil {
			return err
		}
	}
	reg.SetCallbackNotFound(func(c tele.Context) error {
		return h.respond(c, service.Notice{Text: textUnsupported})
	})
	reg.SetTextFallback(h.message)
	return nil
}

// Routes returns every route of the bot.
func (h *Handlers) Routes(reg *tg.Registry) []tg.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin:       h.engine.IsAdmin,
		OnAdminReject: h.notAuthorized,
	})
	routes = append(routes, router.CallbackRoute(reg))
	routes = append(routes, router.MessageRoutes(h, reg, router.MessageOptions{})...)
	routes = append(routes, tg.Route{Endpoint: tele.OnChatMember, Handler: h.memberUpdated})
	return routes
}

// InProgress reports whether the user is inside a conversation.
func (h *Handlers) InProgress(userID int64) bool {
	return h.engine.Sessions().InProgress(userID)
}

// ManagerHandler feeds a message into the user's conversation.
func (h *Handlers) ManagerHandler(c tele.Context) error { return h.message(c) }

// OnError alerts the admins and resets the sender's conversation.
func (h *Handlers) OnError(err error, c tele.Context) {
	ctx := logger.Background()
	var update string
	if c != nil {
		ctx = tghelpers.BuildContext(c)
		update = describe(c)
		if user := c.Sender(); user != nil {
			h.engine.ResetSession(user.ID)
		}
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelError, "update.failed",
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
	h.engine.ReportError(ctx, err, update)
}

// OnLimited answers a rate-limited user.
func (h *Handlers) OnLimited(c tele.Context) error {
	if c.Callback() != nil {
		return h.respond(c, service.Notice{Text: textSlowDown})
	}
	return tghelpers.SendText(c, textSlowDown)
}

func (h *Handlers) start(c tele.Context) error {
	return h.engine.Start(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) register(c tele.Context) error {
	return h.engine.Register(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) cancel(c tele.Context) error {
	return h.engine.Cancel(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) stats(c tele.Context) error {
	return h.engine.ViewStats(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) clearPending(c tele.Context) error {
	return h.engine.ClearPending(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) questions(c tele.Context) error {
	return h.engine.ViewQuestions(tghelpers.BuildContext(c), actorOf(c), chatOf(c))
}

func (h *Handlers) notAuthorized(c tele.Context) error {
	return tghelpers.SendText(c, textNotAuthorized)
}

func (h *Handlers) message(c tele.Context) error {
	if c.Sender() == nil || c.Message() == nil {
		return nil
	}
	return h.engine.HandleMessage(tghelpers.BuildContext(c), actorOf(c), messageOf(c))
}

func (h *Handlers) callback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || c.Sender() == nil {
		return nil
	}
	action, payload := callbacks.ParseCallbackData(cb)
	n, err := h.engine.HandleCallback(tghelpers.BuildContext(c), actorOf(c), service.Callback{
		Message: callbackRef(c),
		Action:  action,
		Payload: payload,
	})
	if rerr := h.respond(c, n); rerr != nil && err == nil {
		logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelDebug, "callback.respond_failed",
			slog.String("err", rerr.Error()),
		)
	}
	return err
}

// decide routes Approve and Reject presses to the review protocol.
func (h *Handlers) decide(c tele.Context) error {
	if c.Callback() == nil || c.Sender() == nil {
		return nil
	}
	userID, err := callbacks.PayloadInt64(c)
	if err != nil || userID <= 0 {
		return h.respond(c, service.Notice{Text: textUnsupported})
	}
	ctx := tghelpers.BuildContext(c)
	decideFn := h.engine.Reject
	if callbacks.CallbackKey(c) == service.ActionApprove {
		decideFn = h.engine.Approve
	}
	n, err := decideFn(ctx, actorOf(c), userID, callbackRef(c))
	_ = h.respond(c, n)
	return err
}

// memberUpdated hands joins of any chat to the access gate, which ignores
// chats other than the gated one.
func (h *Handlers) memberUpdated(c tele.Context) error {
	upd := c.ChatMember()
	if upd == nil || upd.Chat == nil || upd.NewChatMember == nil || upd.NewChatMember.User == nil {
		return nil
	}
	if !isJoin(upd) {
		return nil
	}
	join := service.MemberJoin{
		ChatID: upd.Chat.ID,
		User:   actorFromUser(upd.NewChatMember.User),
	}
	if upd.InviteLink != nil {
		join.InviteLink = upd.InviteLink.InviteLink
	}
	ctx := tghelpers.WithHandler(c, "chat_member")
	res, err := h.engine.HandleMemberJoin(ctx, join)
	logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "gate.handled",
		slog.String("result", string(res)),
		slog.Int64("target_user_id", join.User.ID),
	)
	return err
}

// isJoin reports a transition from outside the chat into membership.
func isJoin(upd *tele.ChatMemberUpdate) bool {
	wasIn := upd.OldChatMember != nil && isMember(upd.OldChatMember)
	return !wasIn && isMember(upd.NewChatMember)
}

func isMember(m *tele.ChatMember) bool {
	switch m.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true
	case tele.Restricted:
		return m.Member
	}
	return false
}

func actorOf(c tele.Context) service.Actor {
	return actorFromUser(c.Sender())
}

func actorFromUser(u *tele.User) service.Actor {
	if u == nil {
		return service.Actor{}
	}
	return service.Actor{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}

func chatOf(c tele.Context) int64 {
	if chat := c.Chat(); chat != nil {
		return chat.ID
	}
	if user := c.Sender(); user != nil {
		return user.ID
	}
	return 0
}

func messageOf(c tele.Context) service.Message {
	m := c.Message()
	msg := service.Message{ChatID: chatOf(c), ID: m.ID, Text: m.Text}
	if m.Photo != nil {
		msg.PhotoRef = m.Photo.FileID
		msg.Text = m.Caption
	}
	return msg
}

func callbackRef(c tele.Context) notify.MessageRef {
	ref := notify.MessageRef{ChatID: chatOf(c)}
	if m := c.Callback().Message; m != nil {
		ref.MessageID = m.ID
		if m.Chat != nil {
			ref.ChatID = m.Chat.ID
		}
	}
	return ref
}

// describe summarizes the update for the admin error alert.
func describe(c tele.Context) string {
	upd := c.Update()
	var userID int64
	if user := c.Sender(); user != nil {
		userID = user.ID
	}
	s := fmt.Sprintf("update=%d user=%d state=%q", upd.ID, userID, state.From(c))
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.ParseCallbackData(upd.Callback)
		s += fmt.Sprintf(" callback=%s|%s", key, payload)
	case upd.Message != nil:
		s += fmt.Sprintf(" text=%q", logger.SanitizeLimit(upd.Message.Text, 200))
	case upd.ChatMember != nil:
		s += " chat_member"
	}
	return s
}
