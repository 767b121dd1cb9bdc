package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/abjtutorial/tutorbot/core/metrics"
)

func textUpdate(id int, userID int64) tele.Update {
	return tele.Update{
		ID: id,
		Message: &tele.Message{
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   "hello",
		},
	}
}

func memberUpdate(id int, userID int64) tele.Update {
	return tele.Update{
		ID: id,
		ChatMember: &tele.ChatMemberUpdate{
			Chat:       &tele.Chat{ID: -100, Type: tele.ChatChannel},
			Sender:     &tele.User{ID: userID},
			InviteLink: &tele.ChatInviteLink{InviteLink: "https://t.me/+abc"},
		},
	}
}

func TestUpdateKind(t *testing.T) {
	assert.Equal(t, KindMessage, UpdateKind(textUpdate(1, 1)))
	assert.Equal(t, KindChatMember, UpdateKind(memberUpdate(1, 1)))
	assert.Equal(t, KindCallback, UpdateKind(tele.Update{Callback: &tele.Callback{}}))
	assert.Equal(t, KindOther, UpdateKind(tele.Update{}))
}

func TestAdminOnlyMiddleware(t *testing.T) {
	var rejected, served int
	mw := AdminOnlyMiddleware(AdminOptions{
		IsAdmin:  func(id int64) bool { return id == 7 },
		OnReject: func(tele.Context) error { rejected++; return nil },
	})
	h := mw(func(tele.Context) error { served++; return nil })

	require.NoError(t, h(tele.NewContext(nil, textUpdate(1, 7))))
	require.NoError(t, h(tele.NewContext(nil, textUpdate(2, 8))))
	assert.Equal(t, 1, served)
	assert.Equal(t, 1, rejected)
}

func TestRateLimitSkipsMembershipUpdates(t *testing.T) {
	var served, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { served++; return nil })

	require.NoError(t, h(tele.NewContext(nil, textUpdate(1, 5))))
	require.NoError(t, h(tele.NewContext(nil, textUpdate(2, 5))))
	require.NoError(t, h(tele.NewContext(nil, memberUpdate(3, 5))))
	require.NoError(t, h(tele.NewContext(nil, memberUpdate(4, 5))))

	assert.Equal(t, 3, served)
	assert.Equal(t, 1, limited)
}

func TestRateLimitHonoursExclusions(t *testing.T) {
	var served int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{KindMessage: {}},
	})
	h := mw(func(tele.Context) error { served++; return nil })
	for i := 0; i < 3; i++ {
		require.NoError(t, h(tele.NewContext(nil, textUpdate(i, 5))))
	}
	assert.Equal(t, 3, served)
}

func TestRecoverMiddlewareReturnsError(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(tele.NewContext(nil, textUpdate(1, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestUpdateMetricsCountsOutcome(t *testing.T) {
	m := metrics.New()
	ok := UpdateMetrics(m)(func(tele.Context) error { return nil })
	fail := UpdateMetrics(m)(func(tele.Context) error { return errors.New("x") })

	require.NoError(t, ok(tele.NewContext(nil, textUpdate(1, 1))))
	require.Error(t, fail(tele.NewContext(nil, textUpdate(2, 1))))

	n, err := testutil.GatherAndCount(m.Registry(), "tutorbot_updates_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoggerMiddlewareStoresRID(t *testing.T) {
	var rid string
	h := LoggerMiddleware(func(c tele.Context) error {
		rid, _ = c.Get("rid").(string)
		return nil
	})
	require.NoError(t, h(tele.NewContext(nil, textUpdate(9, 3))))
	assert.NotEmpty(t, rid)
}
