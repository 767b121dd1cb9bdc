package flow

import (
	"strings"
	"time"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

// Registration collects the profile and payment proof of one user.
type Registration struct {
	UserID    int64
	Username  string
	FirstName string

	Profile   domain.Profile
	Method    domain.PaymentMethod
	PaymentID string
	PhotoRef  string

	step     Step
	methods  []domain.PaymentMethod
	idPrefix string
}

// NewRegistration starts a registration at the full name prompt.
func NewRegistration(userID int64, username, firstName string, methods []domain.PaymentMethod, idPrefix string) *Registration {
	if len(methods) == 0 {
		methods = domain.DefaultPaymentMethods()
	}
	return &Registration{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		step:      StepFullName,
		methods:   methods,
		idPrefix:  idPrefix,
	}
}

func (r *Registration) Kind() Kind { return KindRegistration }
func (r *Registration) Step() Step { return r.step }
func (r *Registration) Done() bool { return r.step == StepDone }

// Methods returns the payment methods offered at the payment step.
func (r *Registration) Methods() []domain.PaymentMethod { return r.methods }

// Advance consumes one input.
func (r *Registration) Advance(in Input) error {
	switch r.step {
	case StepFullName:
		if in.IsChoice() {
			return ErrStale
		}
		name := strings.TrimSpace(in.Text)
		if name == "" || in.IsPhoto() {
			return ErrInvalid
		}
		r.Profile.FullName = name
		r.step = StepSemester
	case StepSemester:
		if err := acceptChoice(in, r.step); err != nil {
			return err
		}
		sem, ok := domain.ParseSemester(in.Choice)
		if !ok {
			return ErrInvalid
		}
		r.Profile.Semester = sem
		r.step = StepStream
	case StepStream:
		if err := acceptChoice(in, r.step); err != nil {
			return err
		}
		if !domain.ValidStream(r.Profile.Semester, in.Choice) {
			return ErrInvalid
		}
		r.Profile.Stream = in.Choice
		r.step = StepGender
	case StepGender:
		if err := acceptChoice(in, r.step); err != nil {
			return err
		}
		if !domain.ValidGender(in.Choice) {
			return ErrInvalid
		}
		r.Profile.Gender = in.Choice
		r.step = StepPaymentMethod
	case StepPaymentMethod:
		if err := acceptChoice(in, r.step); err != nil {
			return err
		}
		m, ok := domain.FindPaymentMethod(r.methods, in.Choice)
		if !ok {
			return ErrInvalid
		}
		r.Method = m
		r.PaymentID = domain.PaymentID(r.idPrefix, r.UserID, in.MessageID)
		r.step = StepScreenshot
	case StepScreenshot:
		if in.IsChoice() {
			return ErrStale
		}
		if !in.IsPhoto() {
			return ErrInvalid
		}
		r.PhotoRef = in.PhotoRef
		r.step = StepDone
	default:
		return ErrStale
	}
	return nil
}

// Submission snapshots a finished registration for the review queue.
func (r *Registration) Submission(now time.Time) domain.Submission {
	return domain.Submission{
		UserID:    r.UserID,
		Username:  r.Username,
		FirstName: r.FirstName,
		Profile:   r.Profile,
		Payment: domain.Payment{
			Method:        r.Method.Name,
			PaymentID:     r.PaymentID,
			ScreenshotRef: r.PhotoRef,
		},
		SubmittedAt: now,
	}
}
