package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
	"github.com/abjtutorial/tutorbot/core/telegram/sender"
)

// Outcome values.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Options tunes delivery.
type Options struct {
	// Timeout bounds each recipient, retries included.
	Timeout      time.Duration `yaml:"timeout" envconfig:"NOTIFY_TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" envconfig:"NOTIFY_MAX_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"NOTIFY_RETRY_BACKOFF"`
	Concurrency  int           `yaml:"concurrency" envconfig:"NOTIFY_CONCURRENCY"`
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
}

// Outcome is the result for one recipient.
type Outcome struct {
	Recipient int64
	Status    string
	Kind      string
	Ref       MessageRef
	Err       error
}

// OK reports whether the message was delivered.
func (o Outcome) OK() bool { return o.Status == OutcomeSent }

// Report aggregates a fan-out. Sent + Failed equals the number of distinct recipients.
type Report struct {
	Outcomes []Outcome
	Sent     int
	Failed   int
}

// Target is the number of distinct recipients.
func (r Report) Target() int { return len(r.Outcomes) }

// Dispatcher fans payloads out through a Messenger.
type Dispatcher struct {
	m        Messenger
	opts     Options
	runner   *sender.Dispatcher
	metrics  *metrics.Metrics
	classify func(error) string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records delivery counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClassifier overrides the error kind classifier.
func WithClassifier(fn func(error) string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.classify = fn
		}
	}
}

// New builds a dispatcher. Close releases its retry runner.
func New(m Messenger, opts Options, options ...Option) *Dispatcher {
	opts.normalize()
	d := &Dispatcher{
		m:    m,
		opts: opts,
		runner: sender.NewRunner(sender.Options{
			MaxRetries:   opts.MaxRetries,
			RetryBackoff: opts.RetryBackoff,
			MaxDuration:  opts.Timeout,
		}),
		classify: sender.DeliveryKind,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Messenger exposes the underlying port for direct, single message calls.
func (d *Dispatcher) Messenger() Messenger { return d.m }

// Close stops the retry runner.
func (d *Dispatcher) Close() { d.runner.Close() }

// Do runs a single outbound call with the delivery timeout and retry policy.
func (d *Dispatcher) Do(ctx context.Context, action, endpoint string, run sender.RunFunc) error {
	return d.runner.Do(ctx, action, endpoint, run)
}

// Edit replaces the text and markup of a sent message.
func (d *Dispatcher) Edit(ctx context.Context, ref MessageRef, text string, markup *Markup) error {
	return d.runner.Do(ctx, "notify.edit", "editMessageText", func(callCtx context.Context) error {
		return d.m.EditText(callCtx, ref, text, markup)
	})
}

// Delete removes a sent message.
func (d *Dispatcher) Delete(ctx context.Context, ref MessageRef) error {
	return d.runner.Do(ctx, "notify.delete", "deleteMessage", func(callCtx context.Context) error {
		return d.m.Delete(callCtx, ref)
	})
}

// Notify delivers p to every distinct recipient and never returns an error.
func (d *Dispatcher) Notify(ctx context.Context, recipients []int64, p Payload) Report {
	ids := dedupe(recipients)
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = d.NotifyOne(gctx, id, p)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.OK() {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}
	logger.LogEvent(ctx, logger.Notify, slog.LevelInfo, "notify.fanout",
		slog.Int("recipients", len(ids)),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed),
	)
	return rep
}

// NotifyOne delivers p to a single recipient.
func (d *Dispatcher) NotifyOne(ctx context.Context, recipient int64, p Payload) Outcome {
	out := Outcome{Recipient: recipient}
	action, endpoint := "notify.text", "sendMessage"
	if p.PhotoRef != "" {
		action, endpoint = "notify.photo", "sendPhoto"
	}

	err := d.runner.Do(ctx, action, endpoint, func(callCtx context.Context) error {
		var (
			ref MessageRef
			err error
		)
		if p.PhotoRef != "" {
			ref, err = d.m.SendPhoto(callCtx, recipient, p.PhotoRef, p.Text, p.Markup)
		} else {
			ref, err = d.m.SendText(callCtx, recipient, p.Text, p.Markup)
		}
		if err == nil {
			out.Ref = ref
		}
		return err
	})
	if err != nil {
		out.Status = OutcomeFailed
		out.Err = err
		out.Kind = d.classify(err)
		logger.LogEvent(ctx, logger.Notify, slog.LevelWarn, "notify.fail",
			slog.Int64("target_user_id", recipient),
			slog.String("err_kind", out.Kind),
			slog.String("err", sender.SanitizeError(err)),
		)
	} else {
		out.Status = OutcomeSent
	}
	d.metrics.IncDelivery(out.Status, out.Kind)
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
