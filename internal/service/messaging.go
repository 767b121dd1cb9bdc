package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/flow"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// menu handles messages sent outside of any conversation.
func (e *Engine) menu(ctx context.Context, a Actor, msg Message) error {
	switch msg.Text {
	case MenuAskQuestion:
		return e.startQuestion(ctx, a, msg.ChatID)
	case MenuHelp:
		return e.send(ctx, msg.ChatID, helpText(e.cfg.Contact), userMenu())
	}
	if !e.IsAdmin(a.ID) {
		return nil
	}
	switch msg.Text {
	case MenuAnnounce:
		ann := flow.NewAnnouncement()
		e.save(a.ID, ann)
		return e.send(ctx, msg.ChatID, textSelectCohort, cohortMarkup())
	case MenuStats:
		return e.ViewStats(ctx, a, msg.ChatID)
	case MenuClearPending:
		return e.ClearPending(ctx, a, msg.ChatID)
	case MenuQuestions:
		return e.ViewQuestions(ctx, a, msg.ChatID)
	}
	return nil
}

func (e *Engine) startQuestion(ctx context.Context, a Actor, chatID int64) error {
	if e.status(ctx, a.ID) != domain.StatusApproved {
		return e.send(ctx, chatID, textApprovedOnly, nil)
	}
	e.save(a.ID, flow.NewQuestion())
	return e.send(ctx, chatID, textAskQuestion, cancelOnly(flow.KindQuestion))
}

func (e *Engine) advanceQuestion(ctx context.Context, a Actor, msg Message, q *flow.Question, in flow.Input) error {
	if err := q.Advance(in); err != nil {
		if errors.Is(err, flow.ErrInvalid) {
			return e.send(ctx, msg.ChatID, textAskQuestion, cancelOnly(flow.KindQuestion))
		}
		return nil
	}
	e.save(a.ID, q)

	u, err := e.store.Directory().Get(ctx, a.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("question: %w", err)
	}
	u.ID, u.FirstName = a.ID, a.FirstName
	c := domain.Comment{
		ID:          domain.CommentID(a.ID, q.MessageID),
		UserID:      a.ID,
		DisplayName: u.DisplayName(),
		Username:    a.Username,
		Semester:    u.Profile.Semester,
		Text:        q.Text,
		AskedAt:     e.now().UTC(),
	}
	if err := e.store.Comments().Put(ctx, c); err != nil {
		return fmt.Errorf("store question: %w", err)
	}
	e.audit(ctx, domain.AuditQuestionAsked, a.ID, a.ID, map[string]string{"comment_id": c.ID})

	rep := e.notifyAdmins(ctx, notify.Payload{Text: questionForAdmins(c), Markup: replyMarkup(c.ID)})
	logger.LogEvent(ctx, logger.SVCMessaging, slog.LevelInfo, "question.asked",
		slog.Int64("user_id", a.ID),
		slog.String("comment_id", c.ID),
		slog.Int("admins_notified", rep.Sent),
	)
	return e.send(ctx, msg.ChatID, textQuestionSent, userMenu())
}

func (e *Engine) startReply(ctx context.Context, a Actor, cb Callback) (Notice, error) {
	if err := e.requireAdmin(ctx, a, cb.Action); err != nil {
		return Notice{Text: textAdminOnlyNotice, Alert: true}, nil
	}
	c, err := e.store.Comments().Get(ctx, cb.Payload)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Notice{}, e.show(ctx, cb.Message.ChatID, &cb.Message, textCommentGone, nil)
		}
		return Notice{}, fmt.Errorf("load comment: %w", err)
	}
	e.save(a.ID, flow.NewReply(c.ID))
	return Notice{}, e.show(ctx, cb.Message.ChatID, &cb.Message, replyPromptText(c), cancelOnly(flow.KindReply))
}

func (e *Engine) advanceReply(ctx context.Context, a Actor, chatID int64, r *flow.Reply, in flow.Input) error {
	if err := r.Advance(in); err != nil {
		if errors.Is(err, flow.ErrInvalid) {
			return e.send(ctx, chatID, "Type your reply below:", cancelOnly(flow.KindReply))
		}
		return nil
	}
	e.save(a.ID, r)

	c, err := e.store.Comments().Pop(ctx, r.CommentID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyProcessed) || errors.Is(err, store.ErrNotFound) {
			return e.send(ctx, chatID, textCommentGone, adminMenu())
		}
		return fmt.Errorf("pop comment: %w", err)
	}

	out := e.notify.NotifyOne(ctx, c.UserID, notify.Payload{Text: replyDMText(c.DisplayName, r.Text)})
	e.audit(ctx, domain.AuditQuestionAnswered, a.ID, c.UserID, map[string]string{
		"comment_id": c.ID,
		"delivery":   out.Status,
	})
	logger.LogEvent(ctx, logger.SVCMessaging, slog.LevelInfo, "question.answered",
		slog.Int64("admin_id", a.ID),
		slog.String("comment_id", c.ID),
		slog.String("delivery", out.Status),
	)
	if !out.OK() {
		return e.send(ctx, chatID, textReplyFailed, adminMenu())
	}
	return e.send(ctx, chatID, textReplySent, adminMenu())
}

func (e *Engine) advanceAnnouncement(ctx context.Context, a Actor, chatID int64, via *notify.MessageRef, ann *flow.Announcement, in flow.Input) error {
	if !e.IsAdmin(a.ID) {
		e.sessions.Clear(a.ID)
		return nil
	}
	if err := ann.Advance(in); err != nil {
		if errors.Is(err, flow.ErrInvalid) {
			if ann.Step() == flow.StepSelectCohort {
				return e.send(ctx, chatID, textSelectCohort, cohortMarkup())
			}
			return e.send(ctx, chatID, announcementPromptText(ann.Cohort), cancelOnly(flow.KindAnnouncement))
		}
		return nil
	}
	e.save(a.ID, ann)
	if !ann.Done() {
		return e.show(ctx, chatID, via, announcementPromptText(ann.Cohort), cancelOnly(flow.KindAnnouncement))
	}
	return e.broadcast(ctx, a, chatID, ann)
}

// broadcast relays the announcement to every approved user of the cohort.
func (e *Engine) broadcast(ctx context.Context, a Actor, chatID int64, ann *flow.Announcement) error {
	users, err := e.store.Directory().ListApproved(ctx, ann.Cohort)
	if err != nil {
		return fmt.Errorf("list cohort %s: %w", ann.Cohort, err)
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	rep := e.notify.Notify(ctx, ids, notify.Payload{Text: announcementText(ann.Text), PhotoRef: ann.PhotoRef})
	e.metrics.IncAnnouncement(string(ann.Cohort))
	e.audit(ctx, domain.AuditAnnouncementSent, a.ID, 0, map[string]string{
		"cohort": string(ann.Cohort),
		"target": formatID(int64(rep.Target())),
		"sent":   formatID(int64(rep.Sent)),
		"failed": formatID(int64(rep.Failed)),
	})
	logger.LogEvent(ctx, logger.SVCMessaging, slog.LevelInfo, "announcement.sent",
		slog.Int64("admin_id", a.ID),
		slog.String("cohort", string(ann.Cohort)),
		slog.Int("target", rep.Target()),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed),
	)
	return e.send(ctx, chatID, announcementSummary(ann.Cohort, rep.Sent, rep.Failed), adminMenu())
}

// cancelButton ends the conversation named by the button, if it is the active
// one. A button left over from another conversation is ignored.
func (e *Engine) cancelButton(ctx context.Context, a Actor, cb Callback) error {
	kind := flow.Kind(cb.Payload)
	fl := e.session(a.ID)
	if fl == nil || fl.Kind() != kind {
		logger.LogEvent(ctx, logger.SVCMessaging, slog.LevelDebug, "conversation.cancel_stale",
			slog.Int64("user_id", a.ID),
			slog.String("kind", string(kind)),
		)
		return nil
	}
	e.sessions.Clear(a.ID)
	var text string
	switch kind {
	case flow.KindRegistration:
		text = textRegistrationCancelled
	case flow.KindQuestion:
		text = textQuestionCancelled
	case flow.KindReply:
		text = textReplyCancelled
	case flow.KindAnnouncement:
		text = textAnnouncementCancelled
	default:
		text = textOperationCancelled
	}
	logger.LogEvent(ctx, logger.SVCMessaging, slog.LevelDebug, "conversation.cancelled",
		slog.Int64("user_id", a.ID),
		slog.String("kind", string(kind)),
	)
	return e.show(ctx, cb.Message.ChatID, &cb.Message, text, nil)
}
