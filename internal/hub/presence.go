package hub

import (
	"go.uber.org/zap"
)

// Snapshotter reports the set of online users at one instant.
type Snapshotter interface {
	Snapshot() []string
}

// Broadcaster queues a frame on every live connection and returns how many
// connections accepted it.
type Broadcaster interface {
	Broadcast(frame []byte) int
}

// Presence publishes the online roster and profile notices to all
// connections.
type Presence struct {
	snap   Snapshotter
	out    Broadcaster
	logger *zap.Logger
}

// NewPresence creates a Presence over the given registry view and fan-out.
func NewPresence(snap Snapshotter, out Broadcaster, logger *zap.Logger) *Presence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presence{
		snap:   snap,
		out:    out,
		logger: logger.With(zap.String("component", "presence")),
	}
}

// Announce takes one snapshot of the registry and broadcasts it as a
// GetOnlineUsers event. Callers invoke it after a connect or disconnect has
// been fully applied. The snapshot that was sent is returned.
func (p *Presence) Announce() []string {
	users := p.snap.Snapshot()
	frame, err := Encode(EventGetOnlineUsers, users)
	if err != nil {
		p.logger.Error("cannot encode presence event", zap.Error(err))
		return users
	}
	n := p.out.Broadcast(frame)
	p.logger.Debug("presence broadcast", zap.Int("online", len(users)), zap.Int("recipients", n))
	return users
}

// ProfileUpdated tells every connection that userID has a new profile picture.
func (p *Presence) ProfileUpdated(userID, pictureURL string) int {
	frame, err := Encode(EventUserProfileUpdated, ProfilePayload{
		UserID:            userID,
		ProfilePictureURL: pictureURL,
	})
	if err != nil {
		p.logger.Error("cannot encode profile event", zap.String("userID", userID), zap.Error(err))
		return 0
	}
	return p.out.Broadcast(frame)
}
