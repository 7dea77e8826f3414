package hub

import (
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mock/mock_router.go -package=mock . Directory,Deliverer

// Directory resolves an online user to its connection handle.
type Directory interface {
	LookupHandle(userID string) (Handle, bool)
}

// Deliverer pushes an encoded frame to one connection. It reports whether the
// frame was queued; it must never block.
type Deliverer interface {
	Deliver(handle Handle, frame []byte) bool
}

// Router pushes freshly persisted messages to whichever participants are
// online. Delivery is at most once: a frame that cannot be queued is dropped
// and the message stays available through history.
type Router struct {
	dir    Directory
	out    Deliverer
	logger *zap.Logger
}

// NewRouter creates a Router reading handles from dir and writing through out.
func NewRouter(dir Directory, out Deliverer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		dir:    dir,
		out:    out,
		logger: logger.With(zap.String("component", "router")),
	}
}

// RoutePush delivers msg to the receiver only. This is the path used after a
// message is created over HTTP. It returns the number of delivery attempts.
func (r *Router) RoutePush(msg MessagePayload) int {
	frame, ok := r.encode(msg)
	if !ok {
		return 0
	}
	return r.push(msg.ReceiverID, frame)
}

// RouteEcho delivers msg to the receiver and echoes it to the sender's own
// connection. This is the path used for messages sent over the socket.
func (r *Router) RouteEcho(msg MessagePayload) int {
	frame, ok := r.encode(msg)
	if !ok {
		return 0
	}
	return r.push(msg.ReceiverID, frame) + r.push(msg.SenderID, frame)
}

func (r *Router) encode(msg MessagePayload) ([]byte, bool) {
	frame, err := Encode(EventReceiveMessage, msg)
	if err != nil {
		r.logger.Error("cannot encode message event", zap.String("messageID", msg.ID), zap.Error(err))
		return nil, false
	}
	return frame, true
}

func (r *Router) push(userID string, frame []byte) int {
	handle, ok := r.dir.LookupHandle(userID)
	if !ok {
		r.logger.Debug("user offline, skipping push", zap.String("userID", userID))
		return 0
	}
	if !r.out.Deliver(handle, frame) {
		r.logger.Debug("push not delivered",
			zap.String("userID", userID),
			zap.String("handle", handle.String()))
	}
	return 1
}
