package hub

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Push event types understood by connected clients.
const (
	EventReceiveMessage     = "ReceiveMessage"
	EventGetOnlineUsers     = "GetOnlineUsers"
	EventUserProfileUpdated = "UserProfileUpdated"
	EventError              = "Error"
)

// Frame types accepted from connected clients.
const (
	FrameSendMessage = "SendMessage"
)

// Event is the envelope for every frame written to or read from a client.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessagePayload is the projection of a persisted message pushed to clients.
type MessagePayload struct {
	ID         string    `json:"id,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       *string   `json:"text"`
	ImageURL   *string   `json:"imageUrl"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProfilePayload announces a changed profile picture.
type ProfilePayload struct {
	UserID            string `json:"userId"`
	ProfilePictureURL string `json:"profilePictureUrl"`
}

// ErrorPayload is sent back to a client whose frame was rejected.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SendMessageRequest is the payload of a SendMessage frame.
type SendMessageRequest struct {
	ReceiverID string  `json:"receiverId"`
	Text       *string `json:"text"`
	ImageURL   *string `json:"imageUrl"`
}

// Encode wraps payload in an Event envelope of the given type.
func Encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	frame, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s event", eventType)
	}
	return frame, nil
}

// Decode parses a raw client frame.
func Decode(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, errors.Wrap(err, "decode frame")
	}
	if ev.Type == "" {
		return Event{}, errors.New("frame has no type")
	}
	return ev, nil
}
