package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persister stores a message sent over a socket before it is routed.
type Persister interface {
	Persist(ctx context.Context, senderID string, req SendMessageRequest) (MessagePayload, error)
}

// Hub owns the connection registry and every live client. Connects and
// disconnects are applied one at a time on the Run goroutine, each followed
// by a presence broadcast, so roster broadcasts go out in the order the
// lifecycle events were applied. Frame delivery never blocks: a client whose
// send buffer is full is closed and goes through the normal disconnect path.
type Hub struct {
	cfg       Config
	registry  *Registry
	presence  *Presence
	router    *Router
	persister Persister

	clients    map[Handle]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	logger *zap.Logger
}

// New creates a Hub. persister may be nil, in which case SendMessage frames
// are rejected.
func New(cfg Config, persister Persister, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg.sanitize(),
		registry:   NewRegistry(),
		persister:  persister,
		clients:    make(map[Handle]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "hub")),
	}
	h.presence = NewPresence(h.registry, h, logger)
	h.router = NewRouter(h.registry, h, logger)
	return h
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Presence returns the hub's presence broadcaster.
func (h *Hub) Presence() *Presence { return h.presence }

// Router returns the hub's message router.
func (h *Hub) Router() *Router { return h.router }

// Register hands a new client to the Run loop, which binds it and starts its
// pumps. It returns false if the hub has already shut down, and blocks until
// Run is started otherwise. server.New starts Run itself.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister hands a finished client to the Run loop. After shutdown the
// client is detached directly so cleanup still happens.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.detach(c)
	}
}

// Run applies registrations and unregistrations until Shutdown is called.
// It should be started in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.attach(client)

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.detach(client)
		}
	}
}

func (h *Hub) attach(c *Client) {
	h.mutex.Lock()
	h.clients[c.handle] = c
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if c.userID != "" {
		if prev, replaced := h.registry.Register(c.userID, c.handle); replaced {
			h.logger.Info("user reconnected; previous connection superseded",
				zap.String("userID", c.userID),
				zap.String("previous", prev.String()),
				zap.String("handle", c.handle.String()))
		}
		c.setState(StateBound)
	}

	h.logger.Info("client registered",
		zap.String("addr", c.addr),
		zap.String("handle", c.handle.String()),
		zap.String("userID", c.userID),
		zap.Int("clients", clientCount))

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	h.presence.Announce()
}

func (h *Hub) detach(c *Client) {
	h.mutex.Lock()
	_, ok := h.clients[c.handle]
	if ok {
		delete(h.clients, c.handle)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	c.setState(StateClosed)
	c.closeAsync()
	if !ok {
		return
	}

	// Superseded handles are a no-op here and leave the newer entry alone.
	userID, removed := h.registry.Unregister(c.handle)
	h.logger.Info("client unregistered",
		zap.String("addr", c.addr),
		zap.String("handle", c.handle.String()),
		zap.String("userID", userID),
		zap.Bool("wasBound", removed),
		zap.Int("clients", clientCount))

	h.presence.Announce()
}

// Deliver queues frame on the connection identified by handle.
func (h *Hub) Deliver(handle Handle, frame []byte) bool {
	h.mutex.RLock()
	c, ok := h.clients[handle]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	return h.enqueue(c, frame)
}

// Broadcast queues frame on every live connection, bound or not.
func (h *Hub) Broadcast(frame []byte) int {
	delivered := 0
	for _, c := range h.getClientSnapshot() {
		if h.enqueue(c, frame) {
			delivered++
		}
	}
	return delivered
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(c *Client, frame []byte) bool {
	if c.enqueue(frame) {
		return true
	}
	select {
	case <-c.Done():
		return false
	default:
	}
	h.logger.Warn("client send buffer full; closing connection",
		zap.String("addr", c.addr),
		zap.String("handle", c.handle.String()))
	c.closeAsync()
	return false
}

// getClientSnapshot returns a copy of the current client set.
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every live connection. Their read pumps then
// unregister them through the post-shutdown path.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		client.closeAsync()
	}

	h.logger.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the Run loop, closes all connections and waits for client
// goroutines to finish or for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func (h *Hub) handleSend(c *Client, raw []byte) {
	if c.userID == "" {
		c.reject("connection is not bound to a user")
		return
	}
	if h.persister == nil {
		c.reject("messages cannot be sent over this connection")
		return
	}

	req, err := decodeSendMessage(raw)
	if err != nil {
		c.reject(err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, h.cfg.PersistTimeout)
	defer cancel()

	msg, err := h.persister.Persist(ctx, c.userID, req)
	if err != nil {
		h.logger.Warn("cannot persist socket message",
			zap.String("userID", c.userID),
			zap.String("receiverID", req.ReceiverID),
			zap.Error(err))
		c.reject("message could not be saved")
		return
	}

	h.router.RouteEcho(msg)
}
