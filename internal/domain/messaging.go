package domain

import (
	"fmt"
	"time"
)

// Comment is a question asked by an approved user that waits for an admin reply.
type Comment struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	Semester    Semester  `json:"semester"`
	Text        string    `json:"text"`
	AskedAt     time.Time `json:"asked_at"`
}

// CommentID builds the comment key from the asker and the message that carried the question.
func CommentID(userID int64, messageID int) string {
	return fmt.Sprintf("comment_%d_%d", userID, messageID)
}

// Invite is a single-use credential minted for an approved user.
type Invite struct {
	Link      string    `json:"link"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit event kinds.
const (
	AuditSubmissionCreated = "submission.created"
	AuditReviewApproved    = "review.approved"
	AuditReviewRejected    = "review.rejected"
	AuditReviewCleared     = "review.cleared"
	AuditGateRemoved       = "gate.removed"
	AuditGateCheckFailed   = "gate.check_failed"
	AuditQuestionAsked     = "question.asked"
	AuditQuestionAnswered  = "question.answered"
	AuditCommentExpired    = "question.expired"
	AuditAnnouncementSent  = "announcement.sent"
)

// AuditEvent is an append-only record of a workflow decision.
type AuditEvent struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	ActorID   int64             `json:"actor_id"`
	SubjectID int64             `json:"subject_id"`
	Data      map[string]string `json:"data,omitempty"`
	At        time.Time         `json:"at"`
}
