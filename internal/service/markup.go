package service

import (
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/flow"
	"github.com/abjtutorial/tutorbot/internal/notify"
)

// Callback actions carried by inline buttons.
const (
	ActionGetStarted = "get_started"
	ActionSemester   = "semester"
	ActionStream     = "stream"
	ActionGender     = "gender"
	ActionMethod     = "method"
	ActionCohort     = "announce"
	ActionCancel     = "cancel"
	ActionApprove    = "approve"
	ActionReject     = "reject"
	ActionReply      = "reply"
)

// Reply keyboard labels.
const (
	MenuAskQuestion  = "Ask Question"
	MenuHelp         = "Help & Support"
	MenuAnnounce     = "Send Announcement"
	MenuStats        = "View Statistics"
	MenuClearPending = "Clear Pending"
	MenuQuestions    = "View Questions"
)

const cancelLabel = "❌ Cancel"

func adminMenu() *notify.Markup {
	return &notify.Markup{Reply: [][]string{
		{MenuAnnounce, MenuStats},
		{MenuClearPending, MenuQuestions},
	}}
}

func userMenu() *notify.Markup {
	return &notify.Markup{Reply: [][]string{{MenuAskQuestion, MenuHelp}}}
}

func removeMenu() *notify.Markup { return &notify.Markup{RemoveReply: true} }

func cancelButton(kind flow.Kind) []notify.Button {
	return notify.Row(notify.Button{Text: cancelLabel, Action: ActionCancel, Payload: string(kind)})
}

func cancelOnly(kind flow.Kind) *notify.Markup { return notify.InlineMarkup(cancelButton(kind)) }

// choices lays out one option per row with a cancel row at the bottom.
func choices(action string, kind flow.Kind, options ...string) *notify.Markup {
	rows := make([][]notify.Button, 0, len(options)+1)
	for _, o := range options {
		rows = append(rows, notify.Row(notify.Button{Text: o, Action: action, Payload: o}))
	}
	rows = append(rows, cancelButton(kind))
	return notify.InlineMarkup(rows...)
}

func getStartedMarkup() *notify.Markup {
	return notify.InlineMarkup(notify.Row(notify.Button{Text: "🚀 Get Started", Action: ActionGetStarted}))
}

func semesterMarkup() *notify.Markup {
	opts := make([]string, len(domain.Semesters))
	for i, s := range domain.Semesters {
		opts[i] = string(s)
	}
	return choices(ActionSemester, flow.KindRegistration, opts...)
}

func streamMarkup(sem domain.Semester) *notify.Markup {
	return choices(ActionStream, flow.KindRegistration, domain.StreamsFor(sem)...)
}

func genderMarkup() *notify.Markup {
	return choices(ActionGender, flow.KindRegistration, domain.Genders...)
}

func methodMarkup(methods []domain.PaymentMethod) *notify.Markup {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.Name
	}
	return choices(ActionMethod, flow.KindRegistration, names...)
}

func cohortMarkup() *notify.Markup {
	rows := make([][]notify.Button, 0, len(domain.Cohorts)+1)
	for _, c := range domain.Cohorts {
		rows = append(rows, notify.Row(notify.Button{Text: c.Label(), Action: ActionCohort, Payload: string(c)}))
	}
	rows = append(rows, cancelButton(flow.KindAnnouncement))
	return notify.InlineMarkup(rows...)
}

func reviewMarkup(userID int64) *notify.Markup {
	id := formatID(userID)
	return notify.InlineMarkup(notify.Row(
		notify.Button{Text: "✅ APPROVE", Action: ActionApprove, Payload: id},
		notify.Button{Text: "❌ REJECT", Action: ActionReject, Payload: id},
	))
}

func replyMarkup(commentID string) *notify.Markup {
	return notify.InlineMarkup(notify.Row(notify.Button{Text: "📝 Reply", Action: ActionReply, Payload: commentID}))
}

func joinMarkup(link string) *notify.Markup {
	return notify.InlineMarkup(notify.Row(notify.Button{Text: "Join Main Channel", URL: link}))
}
