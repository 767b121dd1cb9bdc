package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// Approve grants access to a pending user. See decide.
func (e *Engine) Approve(ctx context.Context, admin Actor, userID int64, request notify.MessageRef) (Notice, error) {
	return e.decide(ctx, admin, Callback{Message: request, Action: ActionApprove, Payload: formatID(userID)})
}

// Reject declines a pending user. See decide.
func (e *Engine) Reject(ctx context.Context, admin Actor, userID int64, request notify.MessageRef) (Notice, error) {
	return e.decide(ctx, admin, Callback{Message: request, Action: ActionReject, Payload: formatID(userID)})
}

func (e *Engine) requireAdmin(ctx context.Context, a Actor, action string) error {
	if e.IsAdmin(a.ID) {
		return nil
	}
	logger.LogEvent(ctx, logger.SVCReview, slog.LevelWarn, "admin.denied",
		slog.Int64("user_id", a.ID),
		slog.String("action", action),
	)
	return ErrNotAuthorized
}

// decide pops the review entry and applies the admin's decision. Only the
// first of several concurrent decisions on the same user wins; the others see
// the request as already processed. Delivery failures after the pop are logged
// and never undo the decision.
func (e *Engine) decide(ctx context.Context, admin Actor, cb Callback) (Notice, error) {
	if err := e.requireAdmin(ctx, admin, cb.Action); err != nil {
		return Notice{Text: textAdminOnlyNotice, Alert: true}, nil
	}
	userID, ok := parseUserID(cb.Payload)
	if !ok {
		return Notice{Text: "Unsupported action"}, nil
	}
	approve := cb.Action == ActionApprove
	to := domain.StatusRejected
	if approve {
		to = domain.StatusApproved
	}

	sub, err := e.store.Decide(ctx, userID, to)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyProcessed) {
			e.metrics.IncDecision(cb.Action, "already_processed")
			logger.LogEvent(ctx, logger.SVCReview, slog.LevelInfo, "review.already_processed",
				slog.Int64("admin_id", admin.ID),
				slog.Int64("target_user_id", userID),
				slog.String("action", cb.Action),
			)
			_ = e.notify.Edit(ctx, cb.Message, textAlreadyProcessed, nil)
			return Notice{}, nil
		}
		e.metrics.IncDecision(cb.Action, "error")
		_ = e.notify.Edit(ctx, cb.Message, textDecisionFailed, nil)
		return Notice{}, fmt.Errorf("decide %s for %d: %w", cb.Action, userID, err)
	}

	now := e.now()
	e.metrics.IncDecision(cb.Action, "ok")
	kind := domain.AuditReviewRejected
	if approve {
		kind = domain.AuditReviewApproved
	}
	e.audit(ctx, kind, admin.ID, userID, map[string]string{"payment_id": sub.Payment.PaymentID})
	logger.LogEvent(ctx, logger.SVCReview, slog.LevelInfo, "review.decided",
		slog.Int64("admin_id", admin.ID),
		slog.Int64("target_user_id", userID),
		slog.String("status", string(to)),
		slog.String("payment_id", sub.Payment.PaymentID),
	)

	e.logChannel(ctx, notify.Payload{
		Text:     decisionLog(sub, approve, admin, now),
		PhotoRef: sub.Payment.ScreenshotRef,
	})

	if approve {
		e.grantAccess(ctx, admin, sub)
	} else {
		e.notify.NotifyOne(ctx, userID, notify.Payload{Text: textRejectedDM})
	}

	if err := e.notify.Delete(ctx, cb.Message); err != nil {
		logger.LogEvent(ctx, logger.SVCReview, slog.LevelWarn, "review.delete_request_failed",
			slog.Int64("chat_id", cb.Message.ChatID),
			slog.String("err", err.Error()),
		)
	}
	return Notice{}, nil
}

// grantAccess mints a single-use invite, records it and sends it to the user.
func (e *Engine) grantAccess(ctx context.Context, admin Actor, sub domain.Submission) {
	var link string
	err := e.notify.Do(ctx, "channel.invite", "createChatInviteLink", func(callCtx context.Context) error {
		l, err := e.channel.CreateSingleUseInvite(callCtx, e.cfg.MainChannelID)
		if err == nil {
			link = l
		}
		return err
	})
	if err != nil {
		logger.LogEvent(ctx, logger.SVCReview, slog.LevelError, "review.invite_failed",
			slog.Int64("target_user_id", sub.UserID),
			slog.String("err", err.Error()),
		)
		e.notify.NotifyOne(ctx, admin.ID, notify.Payload{
			Text: fmt.Sprintf("User %d was approved but the invite link could not be created: %v", sub.UserID, err),
		})
		return
	}

	inv := domain.Invite{Link: link, OwnerID: sub.UserID, CreatedAt: e.now().UTC()}
	if err := e.store.Invites().Record(ctx, inv); err != nil {
		logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "invite.record_failed",
			slog.Int64("target_user_id", sub.UserID),
			slog.String("err", err.Error()),
		)
	}
	out := e.notify.NotifyOne(ctx, sub.UserID, notify.Payload{Text: textApprovedDM, Markup: joinMarkup(link)})
	if !out.OK() {
		logger.LogEvent(ctx, logger.SVCReview, slog.LevelWarn, "review.invite_undelivered",
			slog.Int64("target_user_id", sub.UserID),
			slog.String("err_kind", out.Kind),
		)
	}
}
