package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Tyrowin/chatpro/internal/hub"
	"github.com/Tyrowin/chatpro/internal/store"
)

var errUnknownReceiver = errors.New("receiver does not exist")

// messageService saves messages for both send paths. It is the hub's
// Persister for frames arriving over a socket.
type messageService struct {
	store store.Store
}

func (m *messageService) Persist(ctx context.Context, senderID string, req hub.SendMessageRequest) (hub.MessagePayload, error) {
	if _, err := m.store.GetUser(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return hub.MessagePayload{}, errUnknownReceiver
		}
		return hub.MessagePayload{}, errors.WithMessage(err, "look up receiver")
	}

	msg := store.Message{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		ImageURL:   req.ImageURL,
	}
	if err := m.store.SaveMessage(ctx, &msg); err != nil {
		return hub.MessagePayload{}, err
	}
	return toPayload(msg), nil
}
