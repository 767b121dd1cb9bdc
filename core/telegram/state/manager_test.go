package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestSetGetClear(t *testing.T) {
	m := NewManager()
	assert.Equal(t, Idle, m.GetState(1))
	assert.False(t, m.InProgress(1))

	m.Set(1, "awaiting_name", 42)
	sess, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, State("awaiting_name"), sess.State)
	assert.Equal(t, 42, sess.Data)
	assert.Equal(t, 1, m.Len())

	m.Clear(1)
	assert.False(t, m.InProgress(1))
	assert.Zero(t, m.Len())
}

func TestLockSerializesSameUser(t *testing.T) {
	m := NewManager()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(7)
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	m.mu.Lock()
	assert.Empty(t, m.slots)
	m.mu.Unlock()
}

func TestLockDoesNotBlockOtherUsers(t *testing.T) {
	m := NewManager()
	unlock := m.Lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := m.Lock(2)
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for user 2 blocked on user 1")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	m := NewManager()
	unlock := m.Lock(3)
	unlock()
	unlock()
	release := m.Lock(3)
	release()
}

func TestSweep(t *testing.T) {
	m := NewManager()
	now := time.Now()
	m.now = func() time.Time { return now.Add(-time.Hour) }
	m.Set(1, "old", nil)
	m.now = func() time.Time { return now }
	m.Set(2, "new", nil)

	assert.Equal(t, 1, m.Sweep(30*time.Minute))
	assert.False(t, m.InProgress(1))
	assert.True(t, m.InProgress(2))
}

func TestWithSessionRecordsStateOnArrival(t *testing.T) {
	m := NewManager()
	m.Set(4, "full_name", nil)

	var seen State
	h := WithSession(m)(func(c tele.Context) error {
		m.Clear(4)
		seen = From(c)
		return nil
	})
	c := tele.NewContext(nil, tele.Update{Message: &tele.Message{Sender: &tele.User{ID: 4}}})
	require.NoError(t, h(c))
	assert.Equal(t, State("full_name"), seen)
	assert.Equal(t, Idle, m.GetState(4))
}
