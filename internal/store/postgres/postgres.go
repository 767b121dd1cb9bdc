// Package postgres implements store.Store on PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// Store is the PostgreSQL backed store.Store.
type Store struct {
	db *sqlx.DB
}

// New wraps an open connection pool. The schema is expected to be migrated.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Directory() store.Directory   { return directory{s.db} }
func (s *Store) Reviews() store.ReviewQueue   { return reviews{s.db} }
func (s *Store) Comments() store.CommentQueue { return comments{s.db} }
func (s *Store) Invites() store.Invites       { return invites{s.db} }
func (s *Store) Audit() store.AuditLog        { return audit{s.db} }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Submit upserts the user as pending and replaces the review entry in one transaction.
func (s *Store) Submit(ctx context.Context, sub domain.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		from, err := lockStatus(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}
		if err := store.CheckTransition(from, domain.StatusPending); err != nil {
			return err
		}
		if err := upsertUser(ctx, tx, sub.User()); err != nil {
			return err
		}
		return putSubmission(ctx, tx, sub)
	})
}

// Decide deletes the review entry and moves the user out of pending in one transaction.
func (s *Store) Decide(ctx context.Context, userID int64, to domain.Status) (domain.Submission, error) {
	if err := store.CheckDecision(to); err != nil {
		return domain.Submission{}, err
	}
	var out domain.Submission
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row submissionRow
		err := tx.GetContext(ctx, &row,
			`DELETE FROM review_queue WHERE user_id = $1 RETURNING `+submissionColumns, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrAlreadyProcessed
		}
		if err != nil {
			return fmt.Errorf("pop review: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET status = $2, updated_at = now() WHERE user_id = $1 AND status = $3`,
			userID, string(to), string(domain.StatusPending))
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrInvalidTransition
		}
		out = row.toDomain()
		return nil
	})
	return out, err
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Store.Warn("rollback failed",
				slog.String("event", "store.tx"),
				slog.String("driver", "postgres"),
				slog.String("err", rbErr.Error()),
			)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockStatus(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Status, error) {
	var status string
	err := tx.GetContext(ctx, &status, `SELECT status FROM users WHERE user_id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusUnregistered, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock user: %w", err)
	}
	return domain.Status(status), nil
}

func upsertUser(ctx context.Context, tx *sqlx.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, status, full_name, semester, stream, gender,
			payment_method, payment_id, screenshot_ref, archive_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			status = EXCLUDED.status,
			full_name = EXCLUDED.full_name,
			semester = EXCLUDED.semester,
			stream = EXCLUDED.stream,
			gender = EXCLUDED.gender,
			payment_method = EXCLUDED.payment_method,
			payment_id = EXCLUDED.payment_id,
			screenshot_ref = EXCLUDED.screenshot_ref,
			archive_key = EXCLUDED.archive_key,
			updated_at = now()`,
		u.ID, u.Username, u.FirstName, string(u.Status),
		u.Profile.FullName, string(u.Profile.Semester), u.Profile.Stream, u.Profile.Gender,
		u.Payment.Method, u.Payment.PaymentID, u.Payment.ScreenshotRef, u.Payment.ArchiveKey,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func putSubmission(ctx context.Context, ext sqlx.ExecerContext, sub domain.Submission) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO review_queue (user_id, username, first_name, full_name, semester, stream, gender,
			payment_method, payment_id, screenshot_ref, archive_key, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			full_name = EXCLUDED.full_name,
			semester = EXCLUDED.semester,
			stream = EXCLUDED.stream,
			gender = EXCLUDED.gender,
			payment_method = EXCLUDED.payment_method,
			payment_id = EXCLUDED.payment_id,
			screenshot_ref = EXCLUDED.screenshot_ref,
			archive_key = EXCLUDED.archive_key,
			submitted_at = EXCLUDED.submitted_at`,
		sub.UserID, sub.Username, sub.FirstName,
		sub.Profile.FullName, string(sub.Profile.Semester), sub.Profile.Stream, sub.Profile.Gender,
		sub.Payment.Method, sub.Payment.PaymentID, sub.Payment.ScreenshotRef, sub.Payment.ArchiveKey,
		sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("put review: %w", err)
	}
	return nil
}

type directory struct{ db *sqlx.DB }

func (d directory) Get(ctx context.Context, id int64) (domain.User, error) {
	var row userRow
	err := d.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, store.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return row.toDomain(), nil
}

func (d directory) Upsert(ctx context.Context, u domain.User) error {
	return withTx(ctx, d.db, func(tx *sqlx.Tx) error {
		from, err := lockStatus(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if u.Status == "" {
			u.Status = from
		}
		if err := store.CheckTransition(from, u.Status); err != nil {
			return err
		}
		return upsertUser(ctx, tx, u)
	})
}

func (d directory) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	if !status.Valid() {
		return store.ErrInvalidStatus
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE user_id = $1 AND status = ANY($3)`,
		id, string(status), pq.Array(allowedFrom(status)))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := d.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, id); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if exists || !domain.CanTransition(domain.StatusUnregistered, status) {
		return store.ErrInvalidTransition
	}
	res, err = d.db.ExecContext(ctx,
		`INSERT INTO users (user_id, status) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidTransition
	}
	return nil
}

func (d directory) ListApproved(ctx context.Context, cohort domain.Cohort) ([]domain.User, error) {
	var rows []userRow
	err := d.db.SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM users
		 WHERE status = 'approved' AND ($1 = 'all' OR semester = $1)
		 ORDER BY user_id`, string(cohort))
	if err != nil {
		return nil, fmt.Errorf("list approved: %w", err)
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (d directory) Stats(ctx context.Context) (domain.Stats, error) {
	var groups []struct {
		Status   string `db:"status"`
		Semester string `db:"semester"`
		N        int    `db:"n"`
	}
	if err := d.db.SelectContext(ctx, &groups,
		`SELECT status, semester, count(*) AS n FROM users GROUP BY status, semester`); err != nil {
		return domain.Stats{}, fmt.Errorf("stats: %w", err)
	}
	st := domain.Stats{BySemester: make(map[domain.Semester]int)}
	for _, g := range groups {
		st.Total += g.N
		switch domain.Status(g.Status) {
		case domain.StatusApproved:
			st.Approved += g.N
			if g.Semester != "" {
				st.BySemester[domain.Semester(g.Semester)] += g.N
			}
		case domain.StatusPending:
			st.Pending += g.N
		case domain.StatusRejected:
			st.Rejected += g.N
		}
	}
	if err := d.db.GetContext(ctx, &st.AwaitingReview, `SELECT count(*) FROM review_queue`); err != nil {
		return domain.Stats{}, fmt.Errorf("count reviews: %w", err)
	}
	return st, nil
}

type reviews struct{ db *sqlx.DB }

func (r reviews) Put(ctx context.Context, sub domain.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	return putSubmission(ctx, r.db, sub)
}

func (r reviews) Get(ctx context.Context, userID int64) (domain.Submission, error) {
	var row submissionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+submissionColumns+` FROM review_queue WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("get review: %w", err)
	}
	return row.toDomain(), nil
}

func (r reviews) Pop(ctx context.Context, userID int64) (domain.Submission, error) {
	var row submissionRow
	err := r.db.GetContext(ctx, &row, `DELETE FROM review_queue WHERE user_id = $1 RETURNING `+submissionColumns, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Submission{}, store.ErrAlreadyProcessed
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("pop review: %w", err)
	}
	return row.toDomain(), nil
}

func (r reviews) List(ctx context.Context) ([]domain.Submission, error) {
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+submissionColumns+` FROM review_queue ORDER BY submitted_at, user_id`); err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return submissionsToDomain(rows), nil
}

func (r reviews) Clear(ctx context.Context) ([]domain.Submission, error) {
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, `DELETE FROM review_queue RETURNING `+submissionColumns); err != nil {
		return nil, fmt.Errorf("clear reviews: %w", err)
	}
	return submissionsToDomain(rows), nil
}

type comments struct{ db *sqlx.DB }

func (c comments) Put(ctx context.Context, cm domain.Comment) error {
	if cm.AskedAt.IsZero() {
		cm.AskedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO pending_comments (comment_id, user_id, display_name, username, semester, body, asked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (comment_id) DO UPDATE SET body = EXCLUDED.body, asked_at = EXCLUDED.asked_at`,
		cm.ID, cm.UserID, cm.DisplayName, cm.Username, string(cm.Semester), cm.Text, cm.AskedAt)
	if err != nil {
		return fmt.Errorf("put comment: %w", err)
	}
	return nil
}

func (c comments) Get(ctx context.Context, id string) (domain.Comment, error) {
	var row commentRow
	err := c.db.GetContext(ctx, &row, `SELECT `+commentColumns+` FROM pending_comments WHERE comment_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Comment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return row.toDomain(), nil
}

func (c comments) Pop(ctx context.Context, id string) (domain.Comment, error) {
	var row commentRow
	err := c.db.GetContext(ctx, &row, `DELETE FROM pending_comments WHERE comment_id = $1 RETURNING `+commentColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Comment{}, store.ErrAlreadyProcessed
	}
	if err != nil {
		return domain.Comment{}, fmt.Errorf("pop comment: %w", err)
	}
	return row.toDomain(), nil
}

func (c comments) List(ctx context.Context, limit int) ([]domain.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM pending_comments ORDER BY asked_at, comment_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var rows []commentRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return commentsToDomain(rows), nil
}

func (c comments) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.GetContext(ctx, &n, `SELECT count(*) FROM pending_comments`); err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

func (c comments) Expire(ctx context.Context, cutoff time.Time) ([]domain.Comment, error) {
	var rows []commentRow
	if err := c.db.SelectContext(ctx, &rows,
		`DELETE FROM pending_comments WHERE asked_at < $1 RETURNING `+commentColumns, cutoff); err != nil {
		return nil, fmt.Errorf("expire comments: %w", err)
	}
	return commentsToDomain(rows), nil
}

type invites struct{ db *sqlx.DB }

func (i invites) Record(ctx context.Context, inv domain.Invite) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO invites (link, owner_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (link) DO UPDATE SET owner_id = EXCLUDED.owner_id, created_at = EXCLUDED.created_at`,
		inv.Link, inv.OwnerID, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("record invite: %w", err)
	}
	return nil
}

func (i invites) Lookup(ctx context.Context, link string) (domain.Invite, error) {
	var inv struct {
		Link      string    `db:"link"`
		OwnerID   int64     `db:"owner_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := i.db.GetContext(ctx, &inv, `SELECT link, owner_id, created_at FROM invites WHERE link = $1`, link)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invite{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Invite{}, fmt.Errorf("lookup invite: %w", err)
	}
	return domain.Invite{Link: inv.Link, OwnerID: inv.OwnerID, CreatedAt: inv.CreatedAt}, nil
}

type audit struct{ db *sqlx.DB }

func (a audit) Append(ctx context.Context, ev domain.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("encode audit data: %w", err)
	}
	if ev.Data == nil {
		data = []byte("{}")
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, kind, actor_id, subject_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Kind, ev.ActorID, ev.SubjectID, data, ev.At)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (a audit) Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []struct {
		ID        string    `db:"event_id"`
		Kind      string    `db:"kind"`
		ActorID   int64     `db:"actor_id"`
		SubjectID int64     `db:"subject_id"`
		Data      []byte    `db:"data"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := a.db.SelectContext(ctx, &rows, `
		SELECT event_id, kind, actor_id, subject_id, data, created_at
		FROM audit_events ORDER BY created_at DESC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	out := make([]domain.AuditEvent, 0, len(rows))
	for _, r := range rows {
		ev := domain.AuditEvent{ID: r.ID, Kind: r.Kind, ActorID: r.ActorID, SubjectID: r.SubjectID, At: r.CreatedAt}
		if len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, &ev.Data); err != nil {
				return nil, fmt.Errorf("decode audit data: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
