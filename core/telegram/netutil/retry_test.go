package netutil

import (
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

func TestShouldRetry(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	assert.False(t, ShouldRetry(nil))
	assert.True(t, ShouldRetry(dial))
	assert.True(t, ShouldRetry(&url.Error{Op: "Post", URL: "https://api.telegram.org", Err: dial}))
	assert.False(t, ShouldRetry(errors.New("bad request")))
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	d, ok := Backoff(tele.FloodError{RetryAfter: 3}, base, 1)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = Backoff(tele.FloodError{RetryAfter: 600}, base, 1)
	assert.True(t, ok)
	assert.Equal(t, maxFloodWait, d)

	d, ok = Backoff(&tele.Error{Code: 502, Description: "Bad Gateway"}, base, 2)
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d)

	_, ok = Backoff(&tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, base, 1)
	assert.False(t, ok)

	_, ok = Backoff(&net.OpError{Op: "dial", Err: errors.New("refused")}, base, 1)
	assert.True(t, ok)

	_, ok = Backoff(nil, base, 1)
	assert.False(t, ok)
}
