package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stalledClient returns a socketless client whose teardown blocks until the
// returned func is called, like a close frame waiting on a busy writer.
func stalledClient(h *Hub, userID string) (*Client, func()) {
	c := NewClient(nil, h, userID, userID)
	release := make(chan struct{})
	var once sync.Once
	c.teardown = func() { <-release }
	return c, func() { once.Do(func() { close(release) }) }
}

func nextRoster(t *testing.T, c *Client) []string {
	t.Helper()
	select {
	case frame := <-c.GetSendChan():
		ev, err := Decode(frame)
		require.NoError(t, err)
		require.Equal(t, EventGetOnlineUsers, ev.Type)
		var users []string
		require.NoError(t, json.Unmarshal(ev.Payload, &users))
		return users
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for roster")
		return nil
	}
}

func TestDetachDoesNotWaitForSocketTeardown(t *testing.T) {
	h := New(Config{}, nil, nil)
	go h.Run()

	stuck, release := stalledClient(h, "alice")
	defer release()
	bob := NewClient(nil, h, "bob", "bob")

	require.True(t, h.Register(stuck))
	require.True(t, h.Register(bob))
	nextRoster(t, bob)

	start := time.Now()
	h.Unregister(stuck)
	assert.Equal(t, []string{"bob"}, nextRoster(t, bob))
	assert.Less(t, time.Since(start), closeGrace)

	select {
	case <-stuck.Done():
	default:
		t.Fatal("detached client must be cancelled before its socket is torn down")
	}

	// The loop keeps serving while the teardown is still pending.
	carol := NewClient(nil, h, "carol", "carol")
	require.True(t, h.Register(carol))
	assert.Equal(t, []string{"bob", "carol"}, nextRoster(t, carol))

	release()
	require.NoError(t, h.Shutdown(time.Second))
}

func TestShutdownDoesNotWaitForEachTeardown(t *testing.T) {
	h := New(Config{}, nil, nil)
	go h.Run()

	var releases []func()
	for _, id := range []string{"a", "b", "c", "d"} {
		c, release := stalledClient(h, id)
		releases = append(releases, release)
		require.True(t, h.Register(c))
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	start := time.Now()
	require.NoError(t, h.Shutdown(time.Second))
	assert.Less(t, time.Since(start), closeGrace)
}
