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

// Start answers /start with the screen matching the user's role and status.
// Any in-flight interaction is dropped.
func (e *Engine) Start(ctx context.Context, a Actor, chatID int64) error {
	unlock := e.sessions.Lock(a.ID)
	defer unlock()

	e.sessions.Clear(a.ID)
	if e.IsAdmin(a.ID) {
		return e.send(ctx, chatID, adminPanelText(a.FirstName), adminMenu())
	}
	u, err := e.store.Directory().Get(ctx, a.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("start: %w", err)
	}
	switch u.Status {
	case domain.StatusApproved:
		return e.send(ctx, chatID, approvedMenuText(a.FirstName, u.Profile), userMenu())
	case domain.StatusPending:
		return e.send(ctx, chatID, pendingText(a.FirstName), removeMenu())
	}
	return e.send(ctx, chatID, welcomeText(a.FirstName), getStartedMarkup())
}

// Register starts a registration from the /register command.
func (e *Engine) Register(ctx context.Context, a Actor, chatID int64) error {
	unlock := e.sessions.Lock(a.ID)
	defer unlock()
	return e.beginRegistration(ctx, a, chatID, nil)
}

func (e *Engine) beginRegistration(ctx context.Context, a Actor, chatID int64, via *notify.MessageRef) error {
	switch e.status(ctx, a.ID) {
	case domain.StatusApproved:
		if err := e.show(ctx, chatID, via, textAlreadyApproved, nil); err != nil {
			return err
		}
		return e.send(ctx, chatID, textChooseOption, userMenu())
	case domain.StatusPending:
		return e.show(ctx, chatID, via, textAlreadyPending, nil)
	}

	reg := flow.NewRegistration(a.ID, a.Username, a.FirstName, e.cfg.PaymentMethods, e.cfg.PaymentIDPrefix)
	e.save(a.ID, reg)
	logger.LogEvent(ctx, logger.SVCRegistration, slog.LevelInfo, "registration.start",
		slog.Int64("user_id", a.ID),
	)
	return e.show(ctx, chatID, via, registrationStartText(a.FirstName), nil)
}

func (e *Engine) advanceRegistration(ctx context.Context, a Actor, chatID int64, via *notify.MessageRef, reg *flow.Registration, in flow.Input) error {
	before := reg.Step()
	err := reg.Advance(in)
	switch {
	case errors.Is(err, flow.ErrStale):
		logger.LogEvent(ctx, logger.SVCRegistration, slog.LevelDebug, "registration.stale_input",
			slog.Int64("user_id", a.ID),
			slog.String("step", string(before)),
		)
		return nil
	case errors.Is(err, flow.ErrInvalid):
		return e.repromptRegistration(ctx, chatID, reg)
	case err != nil:
		return err
	}

	if reg.Done() {
		return e.submit(ctx, a, chatID, reg)
	}
	e.save(a.ID, reg)

	switch reg.Step() {
	case flow.StepSemester:
		return e.send(ctx, chatID, semesterPromptText(reg.Profile.FullName), semesterMarkup())
	case flow.StepStream:
		return e.show(ctx, chatID, via, streamPromptText(reg.Profile.Semester), streamMarkup(reg.Profile.Semester))
	case flow.StepGender:
		return e.show(ctx, chatID, via, genderPromptText(reg.Profile.Stream), genderMarkup())
	case flow.StepPaymentMethod:
		return e.show(ctx, chatID, via, methodPromptText(reg.Profile.Gender), methodMarkup(reg.Methods()))
	case flow.StepScreenshot:
		return e.show(ctx, chatID, via, summaryText(reg.Profile, reg.Method, reg.PaymentID), cancelOnly(flow.KindRegistration))
	}
	return nil
}

// repromptRegistration repeats the question of the current step.
func (e *Engine) repromptRegistration(ctx context.Context, chatID int64, reg *flow.Registration) error {
	switch reg.Step() {
	case flow.StepFullName:
		return e.send(ctx, chatID, textInvalidName, nil)
	case flow.StepSemester:
		return e.send(ctx, chatID, semesterPromptText(reg.Profile.FullName), semesterMarkup())
	case flow.StepStream:
		return e.send(ctx, chatID, streamPromptText(reg.Profile.Semester), streamMarkup(reg.Profile.Semester))
	case flow.StepGender:
		return e.send(ctx, chatID, genderPromptText(reg.Profile.Stream), genderMarkup())
	case flow.StepPaymentMethod:
		return e.send(ctx, chatID, methodPromptText(reg.Profile.Gender), methodMarkup(reg.Methods()))
	case flow.StepScreenshot:
		return e.send(ctx, chatID, textScreenshotRequired, nil)
	}
	return nil
}

// submit queues the finished registration for review and alerts the admins.
func (e *Engine) submit(ctx context.Context, a Actor, chatID int64, reg *flow.Registration) error {
	e.sessions.Clear(a.ID)
	sub := reg.Submission(e.now())

	if e.archive != nil {
		key, err := e.archive.Archive(ctx, sub)
		if err != nil {
			logger.LogEvent(ctx, logger.Archive, slog.LevelWarn, "archive.failed",
				slog.Int64("user_id", a.ID),
				slog.String("payment_id", sub.Payment.PaymentID),
				slog.String("err", err.Error()),
			)
		} else {
			sub.Payment.ArchiveKey = key
		}
	}

	if err := e.store.Submit(ctx, sub); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			logger.LogEvent(ctx, logger.SVCRegistration, slog.LevelInfo, "registration.rejected_transition",
				slog.Int64("user_id", a.ID),
			)
			return e.send(ctx, chatID, textAlreadyApproved, nil)
		}
		return fmt.Errorf("submit registration: %w", err)
	}
	e.metrics.IncSubmission()
	e.audit(ctx, domain.AuditSubmissionCreated, a.ID, a.ID, map[string]string{
		"payment_id": sub.Payment.PaymentID,
		"method":     sub.Payment.Method,
		"semester":   string(sub.Profile.Semester),
	})

	rep := e.notifyAdmins(ctx, notify.Payload{
		Text:     reviewCaption(sub),
		PhotoRef: sub.Payment.ScreenshotRef,
		Markup:   reviewMarkup(sub.UserID),
	})
	logger.LogEvent(ctx, logger.SVCRegistration, slog.LevelInfo, "registration.submitted",
		slog.Int64("user_id", a.ID),
		slog.String("payment_id", sub.Payment.PaymentID),
		slog.Int("admins_notified", rep.Sent),
	)
	return e.send(ctx, chatID, submittedText(sub.Payment.PaymentID), removeMenu())
}
