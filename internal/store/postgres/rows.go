package postgres

import (
	"time"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

const userColumns = `user_id, username, first_name, status, full_name, semester, stream, gender,
	payment_method, payment_id, screenshot_ref, archive_key, created_at, updated_at`

const submissionColumns = `user_id, username, first_name, full_name, semester, stream, gender,
	payment_method, payment_id, screenshot_ref, archive_key, submitted_at`

const commentColumns = `comment_id, user_id, display_name, username, semester, body, asked_at`

type userRow struct {
	UserID        int64     `db:"user_id"`
	Username      string    `db:"username"`
	FirstName     string    `db:"first_name"`
	Status        string    `db:"status"`
	FullName      string    `db:"full_name"`
	Semester      string    `db:"semester"`
	Stream        string    `db:"stream"`
	Gender        string    `db:"gender"`
	PaymentMethod string    `db:"payment_method"`
	PaymentID     string    `db:"payment_id"`
	ScreenshotRef string    `db:"screenshot_ref"`
	ArchiveKey    string    `db:"archive_key"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:        r.UserID,
		Username:  r.Username,
		FirstName: r.FirstName,
		Status:    domain.Status(r.Status),
		Profile: domain.Profile{
			FullName: r.FullName,
			Semester: domain.Semester(r.Semester),
			Stream:   r.Stream,
			Gender:   r.Gender,
		},
		Payment: domain.Payment{
			Method:        r.PaymentMethod,
			PaymentID:     r.PaymentID,
			ScreenshotRef: r.ScreenshotRef,
			ArchiveKey:    r.ArchiveKey,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type submissionRow struct {
	UserID        int64     `db:"user_id"`
	Username      string    `db:"username"`
	FirstName     string    `db:"first_name"`
	FullName      string    `db:"full_name"`
	Semester      string    `db:"semester"`
	Stream        string    `db:"stream"`
	Gender        string    `db:"gender"`
	PaymentMethod string    `db:"payment_method"`
	PaymentID     string    `db:"payment_id"`
	ScreenshotRef string    `db:"screenshot_ref"`
	ArchiveKey    string    `db:"archive_key"`
	SubmittedAt   time.Time `db:"submitted_at"`
}

func (r submissionRow) toDomain() domain.Submission {
	return domain.Submission{
		UserID:    r.UserID,
		Username:  r.Username,
		FirstName: r.FirstName,
		Profile: domain.Profile{
			FullName: r.FullName,
			Semester: domain.Semester(r.Semester),
			Stream:   r.Stream,
			Gender:   r.Gender,
		},
		Payment: domain.Payment{
			Method:        r.PaymentMethod,
			PaymentID:     r.PaymentID,
			ScreenshotRef: r.ScreenshotRef,
			ArchiveKey:    r.ArchiveKey,
		},
		SubmittedAt: r.SubmittedAt,
	}
}

func submissionsToDomain(rows []submissionRow) []domain.Submission {
	out := make([]domain.Submission, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

type commentRow struct {
	CommentID   string    `db:"comment_id"`
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	Username    string    `db:"username"`
	Semester    string    `db:"semester"`
	Body        string    `db:"body"`
	AskedAt     time.Time `db:"asked_at"`
}

func (r commentRow) toDomain() domain.Comment {
	return domain.Comment{
		ID:          r.CommentID,
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Username:    r.Username,
		Semester:    domain.Semester(r.Semester),
		Text:        r.Body,
		AskedAt:     r.AskedAt,
	}
}

func commentsToDomain(rows []commentRow) []domain.Comment {
	out := make([]domain.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

// allowedFrom lists the statuses from which a user may move to to.
func allowedFrom(to domain.Status) []string {
	var out []string
	for _, from := range []domain.Status{
		domain.StatusUnregistered,
		domain.StatusPending,
		domain.StatusApproved,
		domain.StatusRejected,
	} {
		if domain.CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}
