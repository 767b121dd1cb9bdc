// Package flow holds the per-user conversation state machines. They are pure:
// each Advance call validates one input and moves to the next step, leaving
// persistence and messaging to the caller.
package flow

import "errors"

var (
	// ErrStale is returned for input that belongs to a different step, such as
	// a button pressed on an old message. Callers ignore it.
	ErrStale = errors.New("flow: input does not match the current step")
	// ErrInvalid is returned for input of the right kind with an unusable value.
	// Callers re-prompt.
	ErrInvalid = errors.New("flow: invalid input")
)

// Kind names a conversation.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindQuestion     Kind = "question"
	KindReply        Kind = "reply"
	KindAnnouncement Kind = "announcement"
)

// Step is a state inside a conversation.
type Step string

const (
	StepFullName        Step = "awaiting_full_name"
	StepSemester        Step = "awaiting_semester"
	StepStream          Step = "awaiting_stream"
	StepGender          Step = "awaiting_gender"
	StepPaymentMethod   Step = "awaiting_payment_method"
	StepScreenshot      Step = "awaiting_screenshot"
	StepComposeQuestion Step = "composing_question"
	StepComposeReply    Step = "composing_reply"
	StepSelectCohort    Step = "selecting_cohort"
	StepComposeContent  Step = "composing_content"
	StepDone            Step = "done"
)

// Input is one user event fed into a flow.
type Input struct {
	// Text is the message text or photo caption.
	Text string
	// Choice is a button payload; For is the step that rendered the button.
	Choice string
	For    Step
	// PhotoRef is the transport file reference of an attached photo.
	PhotoRef string
	// MessageID identifies the message that carried the input.
	MessageID int
}

// IsChoice reports whether the input came from a button.
func (in Input) IsChoice() bool { return in.For != "" }

// IsPhoto reports whether the input carries a photo.
func (in Input) IsPhoto() bool { return in.PhotoRef != "" }

// Flow is implemented by every conversation.
type Flow interface {
	Kind() Kind
	Step() Step
	Done() bool
}

func acceptChoice(in Input, step Step) error {
	if !in.IsChoice() {
		return ErrInvalid
	}
	if in.For != step {
		return ErrStale
	}
	return nil
}
