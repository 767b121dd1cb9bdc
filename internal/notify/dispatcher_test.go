package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/notify/notifytest"
)

func newDispatcher(t *testing.T, m notify.Messenger) *notify.Dispatcher {
	t.Helper()
	d := notify.New(m, notify.Options{Timeout: time.Second, RetryBackoff: time.Millisecond})
	t.Cleanup(d.Close)
	return d
}

func TestNotifyCountsEveryRecipient(t *testing.T) {
	fake := notifytest.New()
	fake.FailFor(2, &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"})
	fake.FailFor(3, errors.New("boom"))
	d := newDispatcher(t, fake)

	rep := d.Notify(context.Background(), []int64{1, 2, 3, 4, 1}, notify.Payload{Text: "hi"})

	assert.Equal(t, 4, rep.Target())
	assert.Equal(t, 2, rep.Sent)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, rep.Target(), rep.Sent+rep.Failed)

	kinds := map[int64]string{}
	for _, o := range rep.Outcomes {
		kinds[o.Recipient] = o.Kind
	}
	assert.Equal(t, "blocked", kinds[2])
	assert.Equal(t, "other", kinds[3])
	assert.Empty(t, kinds[1])

	assert.Len(t, fake.Sent(), 2)
}

func TestNotifyPhotoUsesCaption(t *testing.T) {
	fake := notifytest.New()
	d := newDispatcher(t, fake)

	out := d.NotifyOne(context.Background(), 9, notify.Payload{Text: "caption", PhotoRef: "file-1"})
	require.True(t, out.OK())
	sent := fake.SentTo(9)
	require.Len(t, sent, 1)
	assert.Equal(t, "file-1", sent[0].PhotoRef)
	assert.Equal(t, "caption", sent[0].Text)
	assert.Equal(t, sent[0].Ref, out.Ref)
}

type slowMessenger struct{ *notifytest.Messenger }

func (s *slowMessenger) SendText(ctx context.Context, chatID int64, text string, m *notify.Markup) (notify.MessageRef, error) {
	<-ctx.Done()
	return notify.MessageRef{}, ctx.Err()
}

func TestNotifyTimesOut(t *testing.T) {
	d := notify.New(&slowMessenger{Messenger: notifytest.New()}, notify.Options{Timeout: 20 * time.Millisecond})
	t.Cleanup(d.Close)

	out := d.NotifyOne(context.Background(), 1, notify.Payload{Text: "x"})
	assert.False(t, out.OK())
	assert.Equal(t, "timeout", out.Kind)
}
