package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// ViewStats sends the statistics dashboard to an admin.
func (e *Engine) ViewStats(ctx context.Context, a Actor, chatID int64) error {
	if err := e.requireAdmin(ctx, a, "stats"); err != nil {
		return err
	}
	st, err := e.store.Directory().Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if n, err := e.store.Comments().Count(ctx); err == nil {
		st.PendingQuestions = n
	} else {
		logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "comments.count_failed", slog.String("err", err.Error()))
	}
	return e.send(ctx, chatID, statsText(st), adminMenu())
}

// ClearPending drops every review entry. The affected users move to rejected
// so they can register again, and they are told so. An entry whose user cannot
// be moved is put back, so nobody is left pending without a review.
func (e *Engine) ClearPending(ctx context.Context, a Actor, chatID int64) error {
	if err := e.requireAdmin(ctx, a, "clear_pending"); err != nil {
		return err
	}
	cleared, err := e.store.Reviews().Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear reviews: %w", err)
	}

	ids := make([]int64, 0, len(cleared))
	kept := 0
	for _, sub := range cleared {
		err := e.store.Directory().SetStatus(ctx, sub.UserID, domain.StatusRejected)
		switch {
		case err == nil:
			ids = append(ids, sub.UserID)
		case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		default:
			kept++
			e.requeue(ctx, sub, err)
		}
	}
	if len(ids) > 0 {
		e.notify.Notify(ctx, ids, notify.Payload{Text: textClearedDM})
	}
	count := len(cleared) - kept
	e.audit(ctx, domain.AuditReviewCleared, a.ID, 0, map[string]string{
		"count": formatID(int64(count)),
		"kept":  formatID(int64(kept)),
	})
	logger.LogEvent(ctx, logger.SVCReview, slog.LevelInfo, "review.cleared",
		slog.Int64("admin_id", a.ID),
		slog.Int("count", count),
		slog.Int("kept", kept),
	)
	return e.send(ctx, chatID, clearedText(count), adminMenu())
}

func (e *Engine) requeue(ctx context.Context, sub domain.Submission, cause error) {
	err := e.store.Reviews().Put(ctx, sub)
	lvl := slog.LevelWarn
	if err != nil {
		lvl = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.Int64("target_user_id", sub.UserID),
		slog.String("cause", cause.Error()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	logger.LogEvent(ctx, logger.SVCReview, lvl, "review.clear_requeued", attrs...)
}

// ViewQuestions lists the oldest pending questions, each with a Reply button.
func (e *Engine) ViewQuestions(ctx context.Context, a Actor, chatID int64) error {
	if err := e.requireAdmin(ctx, a, "view_questions"); err != nil {
		return err
	}
	list, err := e.store.Comments().List(ctx, e.cfg.QuestionsPage)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(list) == 0 {
		return e.send(ctx, chatID, textNoQuestions, adminMenu())
	}
	for _, c := range list {
		if err := e.send(ctx, chatID, pendingQuestionText(c), replyMarkup(c.ID)); err != nil {
			return err
		}
	}
	return nil
}

// PendingDigest reminds the admins of reviews waiting longer than olderThan.
// It returns how many reviews were reported.
func (e *Engine) PendingDigest(ctx context.Context, olderThan time.Duration) (int, error) {
	subs, err := e.store.Reviews().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reviews: %w", err)
	}
	cutoff := e.now().Add(-olderThan)
	var stale []domain.Submission
	for _, s := range subs {
		if s.SubmittedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	e.notifyAdmins(ctx, notify.Payload{Text: digestText(stale, olderThan)})
	return len(stale), nil
}

// ExpireQuestions drops questions older than ttl and tells the askers.
func (e *Engine) ExpireQuestions(ctx context.Context, ttl time.Duration) (int, error) {
	expired, err := e.store.Comments().Expire(ctx, e.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("expire questions: %w", err)
	}
	ids := make([]int64, 0, len(expired))
	for _, c := range expired {
		ids = append(ids, c.UserID)
		e.audit(ctx, domain.AuditCommentExpired, 0, c.UserID, map[string]string{"comment_id": c.ID})
	}
	if len(ids) > 0 {
		e.notify.Notify(ctx, ids, notify.Payload{Text: textCommentExpiredDM})
	}
	return len(expired), nil
}

// SweepSessions drops conversations idle for longer than maxIdle.
func (e *Engine) SweepSessions(maxIdle time.Duration) int {
	return e.sessions.Sweep(maxIdle)
}
