// Package storetest holds behavioural tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("TransitionClosure", func(t *testing.T) { testTransitionClosure(t, newStore(t)) })
	t.Run("DoubleSubmitKeepsOneEntry", func(t *testing.T) { testDoubleSubmit(t, newStore(t)) })
	t.Run("ConcurrentDecideSingleWinner", func(t *testing.T) { testConcurrentDecide(t, newStore(t)) })
	t.Run("ListApprovedByCohort", func(t *testing.T) { testListApproved(t, newStore(t)) })
	t.Run("CommentsPopAndExpire", func(t *testing.T) { testComments(t, newStore(t)) })
	t.Run("InvitesAndAudit", func(t *testing.T) { testInvitesAudit(t, newStore(t)) })
	t.Run("ClearReviews", func(t *testing.T) { testClear(t, newStore(t)) })
}

// Submission builds a representative submission for id.
func Submission(id int64, sem domain.Semester) domain.Submission {
	stream := domain.StreamsFor(sem)[0]
	return domain.Submission{
		UserID:    id,
		Username:  "student",
		FirstName: "Student",
		Profile: domain.Profile{
			FullName: "Student Name",
			Semester: sem,
			Stream:   stream,
			Gender:   "Female",
		},
		Payment: domain.Payment{
			Method:        "Telebirr",
			PaymentID:     domain.PaymentID("ABJ", id, 1),
			ScreenshotRef: "file-ref",
		},
		SubmittedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testTransitionClosure(t *testing.T, s store.Store) {
	ctx := context.Background()
	dir := s.Directory()

	require.ErrorIs(t, dir.SetStatus(ctx, 1, domain.StatusApproved), store.ErrInvalidTransition)
	require.ErrorIs(t, dir.SetStatus(ctx, 1, domain.Status("banned")), store.ErrInvalidStatus)

	require.NoError(t, dir.SetStatus(ctx, 1, domain.StatusPending))
	require.NoError(t, dir.SetStatus(ctx, 1, domain.StatusRejected))
	require.ErrorIs(t, dir.SetStatus(ctx, 1, domain.StatusApproved), store.ErrInvalidTransition)
	require.NoError(t, dir.SetStatus(ctx, 1, domain.StatusPending))
	require.NoError(t, dir.SetStatus(ctx, 1, domain.StatusApproved))
	require.ErrorIs(t, dir.SetStatus(ctx, 1, domain.StatusPending), store.ErrInvalidTransition)
	require.ErrorIs(t, dir.SetStatus(ctx, 1, domain.StatusRejected), store.ErrInvalidTransition)

	u, err := dir.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, u.Status)

	_, err = dir.Get(ctx, 404)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testDoubleSubmit(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := Submission(7, domain.FirstSemester)
	second := Submission(7, domain.FirstSemester)
	second.Payment.PaymentID = domain.PaymentID("ABJ", 7, 2)

	require.NoError(t, s.Submit(ctx, first))
	require.NoError(t, s.Submit(ctx, second))

	list, err := s.Reviews().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.Payment.PaymentID, list[0].Payment.PaymentID)

	u, err := s.Directory().Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, u.Status)
	assert.Equal(t, "Student Name", u.Profile.FullName)
}

func testConcurrentDecide(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, Submission(9, domain.SecondSemester)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []domain.Status
		processed int
	)
	for i := 0; i < workers; i++ {
		to := domain.StatusApproved
		if i%2 == 1 {
			to = domain.StatusRejected
		}
		wg.Add(1)
		go func(to domain.Status) {
			defer wg.Done()
			_, err := s.Decide(ctx, 9, to)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, to)
			case errors.Is(err, store.ErrAlreadyProcessed):
				processed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(to)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, workers-1, processed)

	u, err := s.Directory().Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, successes[0], u.Status)

	_, err = s.Reviews().Get(ctx, 9)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testListApproved(t *testing.T, s store.Store) {
	ctx := context.Background()
	for id, sem := range map[int64]domain.Semester{
		1: domain.FirstSemester,
		2: domain.FirstSemester,
		3: domain.SecondSemester,
		4: domain.FirstSemester,
	} {
		require.NoError(t, s.Submit(ctx, Submission(id, sem)))
	}
	for _, id := range []int64{1, 2, 3} {
		_, err := s.Decide(ctx, id, domain.StatusApproved)
		require.NoError(t, err)
	}

	first, err := s.Directory().ListApproved(ctx, domain.CohortFirst)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].ID)
	assert.Equal(t, int64(2), first[1].ID)

	all, err := s.Directory().ListApproved(ctx, domain.CohortAll)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	st, err := s.Directory().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Approved)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.AwaitingReview)
	assert.Equal(t, 2, st.BySemester[domain.FirstSemester])
	assert.Equal(t, 1, st.BySemester[domain.SecondSemester])
}

func testComments(t *testing.T, s store.Store) {
	ctx := context.Background()
	q := s.Comments()
	old := domain.Comment{ID: domain.CommentID(5, 10), UserID: 5, Text: "old", AskedAt: time.Now().Add(-72 * time.Hour)}
	fresh := domain.Comment{ID: domain.CommentID(5, 11), UserID: 5, Text: "fresh", AskedAt: time.Now()}
	require.NoError(t, q.Put(ctx, old))
	require.NoError(t, q.Put(ctx, fresh))

	list, err := q.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, old.ID, list[0].ID)

	expired, err := q.Expire(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	got, err := q.Pop(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Text)

	_, err = q.Pop(ctx, fresh.ID)
	require.ErrorIs(t, err, store.ErrAlreadyProcessed)

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testInvitesAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Invites().Record(ctx, domain.Invite{Link: "https://t.me/+abc", OwnerID: 42}))

	inv, err := s.Invites().Lookup(ctx, "https://t.me/+abc")
	require.NoError(t, err)
	assert.Equal(t, int64(42), inv.OwnerID)

	_, err = s.Invites().Lookup(ctx, "https://t.me/+missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Audit().Append(ctx, domain.AuditEvent{ID: "a", Kind: domain.AuditReviewApproved, SubjectID: 42}))
	require.NoError(t, s.Audit().Append(ctx, domain.AuditEvent{ID: "b", Kind: domain.AuditGateRemoved, SubjectID: 43}))

	recent, err := s.Audit().Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].ID)
}

func testClear(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx, Submission(1, domain.FirstSemester)))
	require.NoError(t, s.Submit(ctx, Submission(2, domain.SecondSemester)))

	cleared, err := s.Reviews().Clear(ctx)
	require.NoError(t, err)
	assert.Len(t, cleared, 2)

	list, err := s.Reviews().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.Decide(ctx, 1, domain.StatusApproved)
	require.ErrorIs(t, err, store.ErrAlreadyProcessed)
}
