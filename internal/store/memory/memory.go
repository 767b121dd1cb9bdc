// Package memory implements store.Store in process memory. Records of one user
// live in one shard so composite operations need a single lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/store"
)

const shardCount = 32

const auditCap = 1000

type shard struct {
	mu      sync.Mutex
	users   map[int64]domain.User
	reviews map[int64]domain.Submission
}

// Store keeps everything in memory. The zero value is not usable; call New.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time

	commentsMu sync.Mutex
	comments   map[string]domain.Comment

	invitesMu sync.RWMutex
	invites   map[string]domain.Invite

	auditMu sync.Mutex
	audit   []domain.AuditEvent
}

// Option configures the memory store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		comments: make(map[string]domain.Comment),
		invites:  make(map[string]domain.Invite),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			users:   make(map[int64]domain.User),
			reviews: make(map[int64]domain.Submission),
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(id int64) *shard {
	idx := id % shardCount
	if idx < 0 {
		idx = -idx
	}
	return s.shards[idx]
}

func (s *Store) Directory() store.Directory   { return directory{s} }
func (s *Store) Reviews() store.ReviewQueue   { return reviews{s} }
func (s *Store) Comments() store.CommentQueue { return comments{s} }
func (s *Store) Invites() store.Invites       { return invites{s} }
func (s *Store) Audit() store.AuditLog        { return audit{s} }
func (s *Store) Ping(context.Context) error   { return nil }
func (s *Store) Close() error                 { return nil }

// Submit replaces the user's submission and moves the user to pending.
func (s *Store) Submit(ctx context.Context, sub domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(sub.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.users[sub.UserID]
	if err := store.CheckTransition(cur.Status, domain.StatusPending); err != nil {
		return err
	}
	now := s.now()
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	u := sub.User()
	u.CreatedAt = now
	if ok {
		u.CreatedAt = cur.CreatedAt
	}
	u.UpdatedAt = now
	sh.users[sub.UserID] = u
	sh.reviews[sub.UserID] = sub
	return nil
}

// Decide pops the submission and applies the decision under the shard lock.
func (s *Store) Decide(ctx context.Context, userID int64, to domain.Status) (domain.Submission, error) {
	if err := store.CheckDecision(to); err != nil {
		return domain.Submission{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sub, ok := sh.reviews[userID]
	if !ok {
		return domain.Submission{}, store.ErrAlreadyProcessed
	}
	u, ok := sh.users[userID]
	if !ok {
		u = sub.User()
		u.CreatedAt = s.now()
	}
	if err := store.CheckTransition(u.Status, to); err != nil {
		return domain.Submission{}, err
	}
	delete(sh.reviews, userID)
	u.Status = to
	u.UpdatedAt = s.now()
	sh.users[userID] = u
	return sub, nil
}

type directory struct{ s *Store }

func (d directory) Get(ctx context.Context, id int64) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	sh := d.s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	u, ok := sh.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (d directory) Upsert(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := d.s.shardFor(u.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.users[u.ID]
	if u.Status == "" {
		u.Status = cur.Status
		if !ok {
			u.Status = domain.StatusUnregistered
		}
	}
	if err := store.CheckTransition(cur.Status, u.Status); err != nil {
		return err
	}
	now := d.s.now()
	u.CreatedAt = now
	if ok {
		u.CreatedAt = cur.CreatedAt
	}
	u.UpdatedAt = now
	sh.users[u.ID] = u
	return nil
}

func (d directory) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := d.s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	u, ok := sh.users[id]
	if !ok {
		u = domain.User{ID: id, Status: domain.StatusUnregistered, CreatedAt: d.s.now()}
	}
	if err := store.CheckTransition(u.Status, status); err != nil {
		return err
	}
	u.Status = status
	u.UpdatedAt = d.s.now()
	sh.users[id] = u
	return nil
}

func (d directory) ListApproved(ctx context.Context, cohort domain.Cohort) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.User
	for _, sh := range d.s.shards {
		sh.mu.Lock()
		for _, u := range sh.users {
			if u.Status == domain.StatusApproved && cohort.Matches(u.Profile.Semester) {
				out = append(out, u)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d directory) Stats(ctx context.Context) (domain.Stats, error) {
	if err := ctx.Err(); err != nil {
		return domain.Stats{}, err
	}
	st := domain.Stats{BySemester: make(map[domain.Semester]int)}
	for _, sh := range d.s.shards {
		sh.mu.Lock()
		for _, u := range sh.users {
			st.Total++
			switch u.Status {
			case domain.StatusApproved:
				st.Approved++
				if u.Profile.Semester != "" {
					st.BySemester[u.Profile.Semester]++
				}
			case domain.StatusPending:
				st.Pending++
			case domain.StatusRejected:
				st.Rejected++
			}
		}
		st.AwaitingReview += len(sh.reviews)
		sh.mu.Unlock()
	}
	return st, nil
}

type reviews struct{ s *Store }

func (r reviews) Put(ctx context.Context, sub domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = r.s.now()
	}
	sh := r.s.shardFor(sub.UserID)
	sh.mu.Lock()
	sh.reviews[sub.UserID] = sub
	sh.mu.Unlock()
	return nil
}

func (r reviews) Get(ctx context.Context, userID int64) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	sh := r.s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sub, ok := sh.reviews[userID]
	if !ok {
		return domain.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

func (r reviews) Pop(ctx context.Context, userID int64) (domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Submission{}, err
	}
	sh := r.s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sub, ok := sh.reviews[userID]
	if !ok {
		return domain.Submission{}, store.ErrAlreadyProcessed
	}
	delete(sh.reviews, userID)
	return sub, nil
}

func (r reviews) List(ctx context.Context) ([]domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Submission
	for _, sh := range r.s.shards {
		sh.mu.Lock()
		for _, sub := range sh.reviews {
			out = append(out, sub)
		}
		sh.mu.Unlock()
	}
	sortSubmissions(out)
	return out, nil
}

func (r reviews) Clear(ctx context.Context) ([]domain.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Submission
	for _, sh := range r.s.shards {
		sh.mu.Lock()
		for id, sub := range sh.reviews {
			out = append(out, sub)
			delete(sh.reviews, id)
		}
		sh.mu.Unlock()
	}
	sortSubmissions(out)
	return out, nil
}

func sortSubmissions(subs []domain.Submission) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubmittedAt.Equal(subs[j].SubmittedAt) {
			return subs[i].UserID < subs[j].UserID
		}
		return subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
	})
}

type comments struct{ s *Store }

func (c comments) Put(ctx context.Context, cm domain.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cm.AskedAt.IsZero() {
		cm.AskedAt = c.s.now()
	}
	c.s.commentsMu.Lock()
	c.s.comments[cm.ID] = cm
	c.s.commentsMu.Unlock()
	return nil
}

func (c comments) Get(ctx context.Context, id string) (domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Comment{}, err
	}
	c.s.commentsMu.Lock()
	defer c.s.commentsMu.Unlock()
	cm, ok := c.s.comments[id]
	if !ok {
		return domain.Comment{}, store.ErrNotFound
	}
	return cm, nil
}

func (c comments) Pop(ctx context.Context, id string) (domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Comment{}, err
	}
	c.s.commentsMu.Lock()
	defer c.s.commentsMu.Unlock()
	cm, ok := c.s.comments[id]
	if !ok {
		return domain.Comment{}, store.ErrAlreadyProcessed
	}
	delete(c.s.comments, id)
	return cm, nil
}

func (c comments) List(ctx context.Context, limit int) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.commentsMu.Lock()
	out := make([]domain.Comment, 0, len(c.s.comments))
	for _, cm := range c.s.comments {
		out = append(out, cm)
	}
	c.s.commentsMu.Unlock()
	sortComments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c comments) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.s.commentsMu.Lock()
	defer c.s.commentsMu.Unlock()
	return len(c.s.comments), nil
}

func (c comments) Expire(ctx context.Context, cutoff time.Time) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.commentsMu.Lock()
	var out []domain.Comment
	for id, cm := range c.s.comments {
		if cm.AskedAt.Before(cutoff) {
			out = append(out, cm)
			delete(c.s.comments, id)
		}
	}
	c.s.commentsMu.Unlock()
	sortComments(out)
	return out, nil
}

func sortComments(cs []domain.Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].AskedAt.Equal(cs[j].AskedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].AskedAt.Before(cs[j].AskedAt)
	})
}

type invites struct{ s *Store }

func (i invites) Record(ctx context.Context, inv domain.Invite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = i.s.now()
	}
	i.s.invitesMu.Lock()
	i.s.invites[inv.Link] = inv
	i.s.invitesMu.Unlock()
	return nil
}

func (i invites) Lookup(ctx context.Context, link string) (domain.Invite, error) {
	if err := ctx.Err(); err != nil {
		return domain.Invite{}, err
	}
	i.s.invitesMu.RLock()
	defer i.s.invitesMu.RUnlock()
	inv, ok := i.s.invites[link]
	if !ok {
		return domain.Invite{}, store.ErrNotFound
	}
	return inv, nil
}

type audit struct{ s *Store }

func (a audit) Append(ctx context.Context, ev domain.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.At.IsZero() {
		ev.At = a.s.now()
	}
	a.s.auditMu.Lock()
	a.s.audit = append(a.s.audit, ev)
	if over := len(a.s.audit) - auditCap; over > 0 {
		a.s.audit = append([]domain.AuditEvent(nil), a.s.audit[over:]...)
	}
	a.s.auditMu.Unlock()
	return nil
}

func (a audit) Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.s.auditMu.Lock()
	defer a.s.auditMu.Unlock()
	n := len(a.s.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AuditEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, a.s.audit[i])
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
