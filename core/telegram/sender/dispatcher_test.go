package sender

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond, MaxDuration: time.Second})
	t.Cleanup(d.Close)
	return d
}

func TestDoRetriesTransientErrors(t *testing.T) {
	d := newTestDispatcher(t)
	var calls atomic.Int32
	err := d.Do(context.Background(), "send.text", "sendMessage", func(context.Context) error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ErrorCount())
}

func TestDoStopsOnPermanentErrors(t *testing.T) {
	d := newTestDispatcher(t)
	var calls atomic.Int32
	blocked := &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	err := d.Do(context.Background(), "send.text", "sendMessage", func(context.Context) error {
		calls.Add(1)
		return blocked
	})
	require.ErrorIs(t, err, blocked)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDoHonoursDeadline(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 0, MaxDuration: 20 * time.Millisecond})
	t.Cleanup(d.Close)
	err := d.Do(context.Background(), "send.text", "sendMessage", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnqueueRunsAsync(t *testing.T) {
	d := newTestDispatcher(t)
	done := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), "send.text", "sendMessage", func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	d.Close()
	err := d.Enqueue(context.Background(), "a", "b", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestRunnerHasNoQueue(t *testing.T) {
	d := NewRunner(Options{Workers: 8, QueueSize: 64, MaxRetries: 1, RetryBackoff: time.Millisecond})
	assert.Nil(t, d.jobs)
	assert.Zero(t, d.opts.Workers)

	err := d.Enqueue(context.Background(), "a", "b", func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrQueueClosed)

	var calls atomic.Int32
	err = d.Do(context.Background(), "send.text", "sendMessage", func(context.Context) error {
		if calls.Add(1) == 1 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	assert.NotPanics(t, d.Close)
	assert.NotPanics(t, d.Close)
}

func TestDeliveryKind(t *testing.T) {
	cases := map[string]error{
		"blocked":   &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"},
		"not_found": &tele.Error{Code: 400, Description: "Bad Request: chat not found"},
		"timeout":   context.DeadlineExceeded,
		"network":   &net.OpError{Op: "dial", Err: errors.New("refused")},
		"other":     errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, DeliveryKind(err), "error %v", err)
	}
	assert.Empty(t, DeliveryKind(nil))
}

func TestSanitizeError(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AA-bb_cc/sendMessage": EOF`)
	assert.NotContains(t, SanitizeError(err), "123456:AA")
	assert.Contains(t, SanitizeError(err), "bot<redacted>")
}
