// Package hub tracks which user owns which live WebSocket and pushes events
// to those connections.
//
// A Hub owns one Registry (user id to connection handle, last connection
// wins), a Presence broadcaster that publishes the online roster after every
// connect and disconnect, and a Router that pushes freshly persisted
// messages. Pushes are at most once: nothing is retried or acknowledged, and
// a message that could not be pushed is still available from history.
package hub
