package flow

import (
	"strings"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

// Question is an approved user composing a question for the admins.
type Question struct {
	Text      string
	MessageID int
	step      Step
}

// NewQuestion starts a question.
func NewQuestion() *Question { return &Question{step: StepComposeQuestion} }

func (q *Question) Kind() Kind { return KindQuestion }
func (q *Question) Step() Step { return q.step }
func (q *Question) Done() bool { return q.step == StepDone }

// Advance accepts the question text.
func (q *Question) Advance(in Input) error {
	if q.step != StepComposeQuestion || in.IsChoice() {
		return ErrStale
	}
	text := strings.TrimSpace(in.Text)
	if text == "" || in.IsPhoto() {
		return ErrInvalid
	}
	q.Text = text
	q.MessageID = in.MessageID
	q.step = StepDone
	return nil
}

// Reply is an admin composing the answer to a pending comment.
type Reply struct {
	CommentID string
	Text      string
	step      Step
}

// NewReply starts a reply bound to a comment.
func NewReply(commentID string) *Reply {
	return &Reply{CommentID: commentID, step: StepComposeReply}
}

func (r *Reply) Kind() Kind { return KindReply }
func (r *Reply) Step() Step { return r.step }
func (r *Reply) Done() bool { return r.step == StepDone }

// Advance accepts the reply text.
func (r *Reply) Advance(in Input) error {
	if r.step != StepComposeReply || in.IsChoice() {
		return ErrStale
	}
	text := strings.TrimSpace(in.Text)
	if text == "" || in.IsPhoto() {
		return ErrInvalid
	}
	r.Text = text
	r.step = StepDone
	return nil
}

// Announcement is an admin selecting a cohort and composing a broadcast.
type Announcement struct {
	Cohort   domain.Cohort
	Text     string
	PhotoRef string
	step     Step
}

// NewAnnouncement starts at cohort selection.
func NewAnnouncement() *Announcement { return &Announcement{step: StepSelectCohort} }

func (a *Announcement) Kind() Kind { return KindAnnouncement }
func (a *Announcement) Step() Step { return a.step }
func (a *Announcement) Done() bool { return a.step == StepDone }

// Advance accepts the cohort and then the content.
func (a *Announcement) Advance(in Input) error {
	switch a.step {
	case StepSelectCohort:
		if err := acceptChoice(in, a.step); err != nil {
			return err
		}
		c, ok := domain.ParseCohort(in.Choice)
		if !ok {
			return ErrInvalid
		}
		a.Cohort = c
		a.step = StepComposeContent
	case StepComposeContent:
		if in.IsChoice() {
			return ErrStale
		}
		text := strings.TrimSpace(in.Text)
		if text == "" && !in.IsPhoto() {
			return ErrInvalid
		}
		a.Text = text
		a.PhotoRef = in.PhotoRef
		a.step = StepDone
	default:
		return ErrStale
	}
	return nil
}
