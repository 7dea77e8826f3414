package hub

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one live push channel. A new Handle is minted for every
// WebSocket the server accepts and is never reused.
type Handle = uuid.UUID

// NewHandle returns a fresh connection handle.
func NewHandle() Handle {
	return uuid.New()
}

// Registry maps each online user to the handle of the connection that last
// registered for it. A reverse index from handle to user makes Unregister a
// point operation; both maps are only ever changed together under mu.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[string]Handle
	byHandle map[Handle]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[string]Handle),
		byHandle: make(map[Handle]string),
	}
}

// Register binds userID to handle, replacing any earlier binding for the same
// user. The replaced handle stays open but is no longer reachable by lookup.
// It reports the superseded handle, if there was one.
func (r *Registry) Register(userID string, handle Handle) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.byUser[userID]
	if replaced {
		delete(r.byHandle, prev)
	}
	// A handle belongs to exactly one user.
	if owner, ok := r.byHandle[handle]; ok && owner != userID {
		delete(r.byUser, owner)
	}

	r.byUser[userID] = handle
	r.byHandle[handle] = userID
	return prev, replaced && prev != handle
}

// Unregister removes the entry owned by handle and returns the user it
// belonged to. Unknown or superseded handles are a no-op.
func (r *Registry) Unregister(handle Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byHandle[handle]
	if !ok {
		return "", false
	}
	delete(r.byHandle, handle)
	if r.byUser[userID] == handle {
		delete(r.byUser, userID)
	}
	return userID, true
}

// LookupHandle returns the handle currently registered for userID.
func (r *Registry) LookupHandle(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byUser[userID]
	return h, ok
}

// Snapshot returns the online user ids, sorted, as of a single instant.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
