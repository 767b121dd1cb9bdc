// Package store defines the persistence contracts of the bot: the user directory,
// the review queue, the pending comment queue, the invite ledger and the audit log.
// Implementations live in the memory, postgres and redis subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/abjtutorial/tutorbot/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyProcessed is returned by Pop when the entry was consumed by someone else.
	ErrAlreadyProcessed = errors.New("store: already processed")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("store: invalid status transition")
	// ErrInvalidStatus is returned for values outside the status enum.
	ErrInvalidStatus = errors.New("store: invalid status")
)

// Directory is the User Directory.
type Directory interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id int64) (domain.User, error)
	// Upsert writes profile, payment and identity fields. The status is validated as a transition.
	Upsert(ctx context.Context, u domain.User) error
	// SetStatus changes only the status.
	SetStatus(ctx context.Context, id int64, status domain.Status) error
	// ListApproved returns approved users of the cohort ordered by id.
	ListApproved(ctx context.Context, cohort domain.Cohort) ([]domain.User, error)
	// Stats counts users per status and approved users per semester.
	Stats(ctx context.Context) (domain.Stats, error)
}

// ReviewQueue holds at most one submission per user.
type ReviewQueue interface {
	Put(ctx context.Context, s domain.Submission) error
	Get(ctx context.Context, userID int64) (domain.Submission, error)
	// Pop removes and returns the entry. Exactly one concurrent caller succeeds;
	// the others get ErrAlreadyProcessed.
	Pop(ctx context.Context, userID int64) (domain.Submission, error)
	// List returns entries ordered by submission time.
	List(ctx context.Context) ([]domain.Submission, error)
	// Clear removes every entry and returns what was removed.
	Clear(ctx context.Context) ([]domain.Submission, error)
}

// CommentQueue holds questions waiting for an admin reply.
type CommentQueue interface {
	Put(ctx context.Context, c domain.Comment) error
	Get(ctx context.Context, id string) (domain.Comment, error)
	// Pop has the same exactly-once contract as ReviewQueue.Pop.
	Pop(ctx context.Context, id string) (domain.Comment, error)
	// List returns at most limit comments, oldest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]domain.Comment, error)
	Count(ctx context.Context) (int, error)
	// Expire removes comments asked before cutoff and returns them.
	Expire(ctx context.Context, cutoff time.Time) ([]domain.Comment, error)
}

// Invites records the single-use invite links minted on approval.
type Invites interface {
	Record(ctx context.Context, inv domain.Invite) error
	Lookup(ctx context.Context, link string) (domain.Invite, error)
}

// AuditLog appends decision records.
type AuditLog interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
	Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}

// Store bundles every collection plus the composite operations that must touch
// the directory and the review queue as one unit.
type Store interface {
	Directory() Directory
	Reviews() ReviewQueue
	Comments() CommentQueue
	Invites() Invites
	Audit() AuditLog

	// Submit records the submission and moves the user to pending with the
	// submitted profile. An earlier submission of the same user is replaced.
	Submit(ctx context.Context, s domain.Submission) error
	// Decide pops the user's submission and moves the user to the given status
	// (approved or rejected). Losers of a race get ErrAlreadyProcessed.
	Decide(ctx context.Context, userID int64, to domain.Status) (domain.Submission, error)

	Ping(ctx context.Context) error
	Close() error
}

// CheckTransition validates a status change against the domain rules.
func CheckTransition(from, to domain.Status) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if !domain.CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// CheckDecision validates the target of Decide.
func CheckDecision(to domain.Status) error {
	if to != domain.StatusApproved && to != domain.StatusRejected {
		return ErrInvalidTransition
	}
	return nil
}
