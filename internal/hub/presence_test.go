package hub_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatpro/internal/hub"
)

type captureBroadcaster struct {
	frames [][]byte
}

func (b *captureBroadcaster) Broadcast(frame []byte) int {
	b.frames = append(b.frames, frame)
	return 3
}

func TestPresenceAnnounceSendsOneSnapshot(t *testing.T) {
	r := hub.NewRegistry()
	r.Register("bob", hub.NewHandle())
	r.Register("alice", hub.NewHandle())
	out := &captureBroadcaster{}

	p := hub.NewPresence(r, out, nil)
	sent := p.Announce()

	assert.Equal(t, []string{"alice", "bob"}, sent)
	require.Len(t, out.frames, 1)

	ev, err := hub.Decode(out.frames[0])
	require.NoError(t, err)
	assert.Equal(t, hub.EventGetOnlineUsers, ev.Type)

	var users []string
	require.NoError(t, json.Unmarshal(ev.Payload, &users))
	assert.Equal(t, sent, users)
}

func TestPresenceAnnounceEmptyRoster(t *testing.T) {
	out := &captureBroadcaster{}
	p := hub.NewPresence(hub.NewRegistry(), out, nil)

	assert.Empty(t, p.Announce())
	require.Len(t, out.frames, 1)
	assert.JSONEq(t, `{"type":"GetOnlineUsers","payload":[]}`, string(out.frames[0]))
}

func TestPresenceProfileUpdated(t *testing.T) {
	out := &captureBroadcaster{}
	p := hub.NewPresence(hub.NewRegistry(), out, nil)

	assert.Equal(t, 3, p.ProfileUpdated("alice", "/uploads/a.png"))
	require.Len(t, out.frames, 1)
	assert.JSONEq(t,
		`{"type":"UserProfileUpdated","payload":{"userId":"alice","profilePictureUrl":"/uploads/a.png"}}`,
		string(out.frames[0]))
}
