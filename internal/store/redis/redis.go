// Package redis implements store.Store on Redis. Records are JSON documents under
// a configurable key prefix; status changes run in WATCH/MULTI transactions and
// queue pops use GETDEL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/store"
)

const (
	maxTxRetries = 8
	auditCap     = 1000
)

// Config holds the connection settings.
type Config struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Store.Error("redis connect failed",
			slog.String("event", "store.connect"),
			slog.String("driver", "redis"),
			slog.String("addr", cfg.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Store.Info("redis connected",
		slog.String("event", "store.connect"),
		slog.String("driver", "redis"),
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return client, nil
}

// Store is the Redis backed store.Store.
type Store struct {
	rdb    *goredis.Client
	prefix string
}

// New wraps a client. Keys are namespaced with prefix.
func New(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "tutorbot:"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) userKey(id int64) string      { return s.prefix + "user:" + strconv.FormatInt(id, 10) }
func (s *Store) reviewKey(id int64) string    { return s.prefix + "review:" + strconv.FormatInt(id, 10) }
func (s *Store) commentKey(id string) string  { return s.prefix + "comment:" + id }
func (s *Store) inviteKey(link string) string { return s.prefix + "invite:" + link }
func (s *Store) auditKey() string             { return s.prefix + "audit" }

func (s *Store) Directory() store.Directory   { return directory{s} }
func (s *Store) Reviews() store.ReviewQueue   { return reviews{s} }
func (s *Store) Comments() store.CommentQueue { return comments{s} }
func (s *Store) Invites() store.Invites       { return invites{s} }
func (s *Store) Audit() store.AuditLog        { return audit{s} }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the client.
func (s *Store) Close() error { return s.rdb.Close() }

// watch runs fn inside WATCH on keys and retries when a watched key changed.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: transaction retries exhausted for %v", keys)
}

func getJSON[T any](ctx context.Context, c goredis.Cmdable, key string) (T, bool, error) {
	var v T
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func getDelJSON[T any](ctx context.Context, c goredis.Cmdable, key string) (T, bool, error) {
	var v T
	raw, err := c.GetDel(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func mustJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

func (s *Store) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := s.rdb.Scan(ctx, 0, s.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return nil
}

// Submit stores the submission and moves the user to pending atomically.
func (s *Store) Submit(ctx context.Context, sub domain.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	uk, rk := s.userKey(sub.UserID), s.reviewKey(sub.UserID)
	return s.watch(ctx, func(tx *goredis.Tx) error {
		cur, ok, err := getJSON[domain.User](ctx, tx, uk)
		if err != nil {
			return err
		}
		if err := store.CheckTransition(cur.Status, domain.StatusPending); err != nil {
			return err
		}
		now := time.Now().UTC()
		u := sub.User()
		u.CreatedAt = now
		if ok {
			u.CreatedAt = cur.CreatedAt
		}
		u.UpdatedAt = now
		userRaw, err := mustJSON(u)
		if err != nil {
			return err
		}
		subRaw, err := mustJSON(sub)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, uk, userRaw, 0)
			p.Set(ctx, rk, subRaw, 0)
			return nil
		})
		return err
	}, uk, rk)
}

// Decide removes the submission and applies the decision atomically.
func (s *Store) Decide(ctx context.Context, userID int64, to domain.Status) (domain.Submission, error) {
	if err := store.CheckDecision(to); err != nil {
		return domain.Submission{}, err
	}
	uk, rk := s.userKey(userID), s.reviewKey(userID)
	var out domain.Submission
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		sub, ok, err := getJSON[domain.Submission](ctx, tx, rk)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrAlreadyProcessed
		}
		u, ok, err := getJSON[domain.User](ctx, tx, uk)
		if err != nil {
			return err
		}
		if !ok {
			u = sub.User()
			u.CreatedAt = time.Now().UTC()
		}
		if err := store.CheckTransition(u.Status, to); err != nil {
			return err
		}
		u.Status = to
		u.UpdatedAt = time.Now().UTC()
		userRaw, err := mustJSON(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, rk)
			p.Set(ctx, uk, userRaw, 0)
			return nil
		})
		if err == nil {
			out = sub
		}
		return err
	}, uk, rk)
	return out, err
}

type directory struct{ s *Store }

func (d directory) Get(ctx context.Context, id int64) (domain.User, error) {
	u, ok, err := getJSON[domain.User](ctx, d.s.rdb, d.s.userKey(id))
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (d directory) Upsert(ctx context.Context, u domain.User) error {
	key := d.s.userKey(u.ID)
	return d.s.watch(ctx, func(tx *goredis.Tx) error {
		cur, ok, err := getJSON[domain.User](ctx, tx, key)
		if err != nil {
			return err
		}
		if u.Status == "" {
			u.Status = cur.Status
			if !ok {
				u.Status = domain.StatusUnregistered
			}
		}
		if err := store.CheckTransition(cur.Status, u.Status); err != nil {
			return err
		}
		now := time.Now().UTC()
		u.CreatedAt = now
		if ok {
			u.CreatedAt = cur.CreatedAt
		}
		u.UpdatedAt = now
		raw, err := mustJSON(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
}

func (d directory) SetStatus(ctx context.Context, id int64, status domain.Status) error {
	key := d.s.userKey(id)
	return d.s.watch(ctx, func(tx *goredis.Tx) error {
		u, ok, err := getJSON[domain.User](ctx, tx, key)
		if err != nil {
			return err
		}
		if !ok {
			u = domain.User{ID: id, Status: domain.StatusUnregistered, CreatedAt: time.Now().UTC()}
		}
		if err := store.CheckTransition(u.Status, status); err != nil {
			return err
		}
		u.Status = status
		u.UpdatedAt = time.Now().UTC()
		raw, err := mustJSON(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}, key)
}

func (d directory) all(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := d.s.scan(ctx, "user:*", func(key string) error {
		u, ok, err := getJSON[domain.User](ctx, d.s.rdb, key)
		if err != nil || !ok {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

func (d directory) ListApproved(ctx context.Context, cohort domain.Cohort) ([]domain.User, error) {
	users, err := d.all(ctx)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.Status == domain.StatusApproved && cohort.Matches(u.Profile.Semester) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d directory) Stats(ctx context.Context) (domain.Stats, error) {
	users, err := d.all(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	st := domain.Stats{BySemester: make(map[domain.Semester]int)}
	for _, u := range users {
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
	err = d.s.scan(ctx, "review:*", func(string) error {
		st.AwaitingReview++
		return nil
	})
	return st, err
}

type reviews struct{ s *Store }

func (r reviews) Put(ctx context.Context, sub domain.Submission) error {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	raw, err := mustJSON(sub)
	if err != nil {
		return err
	}
	return r.s.rdb.Set(ctx, r.s.reviewKey(sub.UserID), raw, 0).Err()
}

func (r reviews) Get(ctx context.Context, userID int64) (domain.Submission, error) {
	sub, ok, err := getJSON[domain.Submission](ctx, r.s.rdb, r.s.reviewKey(userID))
	if err != nil {
		return domain.Submission{}, err
	}
	if !ok {
		return domain.Submission{}, store.ErrNotFound
	}
	return sub, nil
}

func (r reviews) Pop(ctx context.Context, userID int64) (domain.Submission, error) {
	sub, ok, err := getDelJSON[domain.Submission](ctx, r.s.rdb, r.s.reviewKey(userID))
	if err != nil {
		return domain.Submission{}, err
	}
	if !ok {
		return domain.Submission{}, store.ErrAlreadyProcessed
	}
	return sub, nil
}

func (r reviews) collect(ctx context.Context, take bool) ([]domain.Submission, error) {
	var out []domain.Submission
	err := r.s.scan(ctx, "review:*", func(key string) error {
		read := getJSON[domain.Submission]
		if take {
			read = getDelJSON[domain.Submission]
		}
		sub, ok, err := read(ctx, r.s.rdb, key)
		if err != nil || !ok {
			return err
		}
		out = append(out, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (r reviews) List(ctx context.Context) ([]domain.Submission, error) {
	return r.collect(ctx, false)
}

func (r reviews) Clear(ctx context.Context) ([]domain.Submission, error) {
	return r.collect(ctx, true)
}

type comments struct{ s *Store }

func (c comments) Put(ctx context.Context, cm domain.Comment) error {
	if cm.AskedAt.IsZero() {
		cm.AskedAt = time.Now().UTC()
	}
	raw, err := mustJSON(cm)
	if err != nil {
		return err
	}
	return c.s.rdb.Set(ctx, c.s.commentKey(cm.ID), raw, 0).Err()
}

func (c comments) Get(ctx context.Context, id string) (domain.Comment, error) {
	cm, ok, err := getJSON[domain.Comment](ctx, c.s.rdb, c.s.commentKey(id))
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, store.ErrNotFound
	}
	return cm, nil
}

func (c comments) Pop(ctx context.Context, id string) (domain.Comment, error) {
	cm, ok, err := getDelJSON[domain.Comment](ctx, c.s.rdb, c.s.commentKey(id))
	if err != nil {
		return domain.Comment{}, err
	}
	if !ok {
		return domain.Comment{}, store.ErrAlreadyProcessed
	}
	return cm, nil
}

func (c comments) all(ctx context.Context) ([]domain.Comment, error) {
	var out []domain.Comment
	err := c.s.scan(ctx, "comment:*", func(key string) error {
		cm, ok, err := getJSON[domain.Comment](ctx, c.s.rdb, key)
		if err != nil || !ok {
			return err
		}
		out = append(out, cm)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AskedAt.Equal(out[j].AskedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AskedAt.Before(out[j].AskedAt)
	})
	return out, nil
}

func (c comments) List(ctx context.Context, limit int) ([]domain.Comment, error) {
	out, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c comments) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.s.scan(ctx, "comment:*", func(string) error {
		n++
		return nil
	})
	return n, err
}

func (c comments) Expire(ctx context.Context, cutoff time.Time) ([]domain.Comment, error) {
	all, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Comment
	for _, cm := range all {
		if !cm.AskedAt.Before(cutoff) {
			continue
		}
		popped, ok, err := getDelJSON[domain.Comment](ctx, c.s.rdb, c.s.commentKey(cm.ID))
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, popped)
		}
	}
	return out, nil
}

type invites struct{ s *Store }

func (i invites) Record(ctx context.Context, inv domain.Invite) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	raw, err := mustJSON(inv)
	if err != nil {
		return err
	}
	return i.s.rdb.Set(ctx, i.s.inviteKey(inv.Link), raw, 0).Err()
}

func (i invites) Lookup(ctx context.Context, link string) (domain.Invite, error) {
	inv, ok, err := getJSON[domain.Invite](ctx, i.s.rdb, i.s.inviteKey(link))
	if err != nil {
		return domain.Invite{}, err
	}
	if !ok {
		return domain.Invite{}, store.ErrNotFound
	}
	return inv, nil
}

type audit struct{ s *Store }

func (a audit) Append(ctx context.Context, ev domain.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := mustJSON(ev)
	if err != nil {
		return err
	}
	_, err = a.s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, a.s.auditKey(), raw)
		p.LTrim(ctx, a.s.auditKey(), 0, auditCap-1)
		return nil
	})
	return err
}

func (a audit) Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := a.s.rdb.LRange(ctx, a.s.auditKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange audit: %w", err)
	}
	out := make([]domain.AuditEvent, 0, len(raws))
	for _, raw := range raws {
		var ev domain.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode audit: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
