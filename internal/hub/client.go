package hub

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	closeGrace = 250 * time.Millisecond
)

// State is the lifecycle position of a client connection.
type State int32

// Client lifecycle states. Closed is terminal.
const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one WebSocket connection. userID is fixed at creation; an empty
// userID leaves the client Unbound, which still receives broadcasts.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	handle Handle
	userID string
	addr   string
	send   chan []byte
	state  atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	teardown  func()

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         *zap.Logger
}

// NewClient creates a client for conn owned by h. conn may be nil, which
// yields a client that only buffers frames.
func NewClient(conn *websocket.Conn, h *Hub, addr, userID string) *Client {
	cfg := h.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	ctx, cancel := context.WithCancel(h.ctx)
	handle := NewHandle()

	c := &Client{
		conn:           conn,
		hub:            h,
		handle:         handle,
		userID:         strings.TrimSpace(userID),
		addr:           addr,
		send:           make(chan []byte, cfg.SendBuffer),
		ctx:            ctx,
		cancel:         cancel,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger:         h.logger.With(zap.String("handle", handle.String()), zap.String("addr", addr)),
	}
	c.teardown = c.closeSocket
	return c
}

// Handle returns the connection handle.
func (c *Client) Handle() Handle { return c.handle }

// UserID returns the user this connection was opened for, or "".
func (c *Client) UserID() string { return c.userID }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// GetSendChan returns the client's outgoing frame queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) setState(s State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Close stops the pumps, sends a close frame and closes the socket. It is
// safe to call any number of times from any goroutine. It can block for up
// to the close grace period while another write holds the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.teardown()
	})
}

// closeAsync stops the pumps at once and finishes Close on its own goroutine.
func (c *Client) closeAsync() {
	c.cancel()
	go c.Close()
}

func (c *Client) closeSocket() {
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error closing connection", zap.Error(err))
	}
}

// enqueue queues frame without blocking.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) reject(reason string) {
	frame, err := Encode(EventError, ErrorPayload{Message: reason})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Debug("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) checkRateLimit() bool {
	if !c.rateLimiter.allow() {
		c.logger.Info("rate limit exceeded; discarding frame",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

func (c *Client) processFrame(raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		c.logger.Debug("invalid frame", zap.Error(err))
		c.reject("invalid frame")
		return
	}

	switch ev.Type {
	case FrameSendMessage:
		c.hub.handleSend(c, ev.Payload)
	default:
		c.logger.Debug("unsupported frame type", zap.String("type", ev.Type))
		c.reject("unsupported frame type " + ev.Type)
	}
}

// readPump owns the connection's exit path: however it ends, the client is
// unregistered.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered from panic in read pump", zap.Any("panic", r))
		}
		c.hub.Unregister(c)
		c.Close()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

func decodeSendMessage(raw []byte) (SendMessageRequest, error) {
	var req SendMessageRequest
	if len(raw) == 0 {
		return req, errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, errors.New("invalid payload")
	}
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		return req, errors.New("receiverId is required")
	}
	if isBlank(req.Text) && isBlank(req.ImageURL) {
		return req, errors.New("text or imageUrl is required")
	}
	return req, nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
