// Package domain holds the records shared by the store, the workflow engine and the transport.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the registration status of a user.
type Status string

const (
	StatusUnregistered Status = "unregistered"
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnregistered, StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether a user may move from one status to another.
// Writing the current status again is a no-op and always allowed.
func CanTransition(from, to Status) bool {
	if from == "" {
		from = StatusUnregistered
	}
	if from == to {
		return to.Valid()
	}
	switch to {
	case StatusPending:
		return from == StatusUnregistered || from == StatusRejected
	case StatusApproved, StatusRejected:
		return from == StatusPending
	}
	return false
}

// Profile is the personal information collected during registration.
type Profile struct {
	FullName string   `json:"full_name"`
	Semester Semester `json:"semester"`
	Stream   string   `json:"stream"`
	Gender   string   `json:"gender"`
}

// Payment describes how the user paid and where the proof lives.
type Payment struct {
	Method        string `json:"method"`
	PaymentID     string `json:"payment_id"`
	ScreenshotRef string `json:"screenshot_ref"`
	ArchiveKey    string `json:"archive_key,omitempty"`
}

// User is a User Directory record keyed by the Telegram user id.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"first_name"`
	Status    Status    `json:"status"`
	Profile   Profile   `json:"profile"`
	Payment   Payment   `json:"payment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName prefers the registered full name over the Telegram first name.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.Profile.FullName); name != "" {
		return name
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return fmt.Sprintf("user %d", u.ID)
}

// Submission is a Review Queue entry: a snapshot of the registration awaiting an admin decision.
type Submission struct {
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	Profile     Profile   `json:"profile"`
	Payment     Payment   `json:"payment"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// User projects the submission onto the directory record it creates.
func (s Submission) User() User {
	return User{
		ID:        s.UserID,
		Username:  s.Username,
		FirstName: s.FirstName,
		Status:    StatusPending,
		Profile:   s.Profile,
		Payment:   s.Payment,
	}
}

// PaymentID derives the payment reference shown to the user and the admins.
func PaymentID(prefix string, userID int64, messageID int) string {
	return fmt.Sprintf("%s%d%d", prefix, userID, messageID)
}

// Stats summarizes the directory for the admin statistics screen.
type Stats struct {
	Total            int
	Approved         int
	Pending          int
	Rejected         int
	AwaitingReview   int
	PendingQuestions int
	BySemester       map[Semester]int
}
