package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// PresenceRegistry maps each online user to its single live connection.
// The last registration wins. Presence and active context change together, under
// one lock, and the online/offline broadcast happens before the lock is released
// so that every peer sees registrations in the same order.
type PresenceRegistry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	sessions map[string]contract.Connection // user -> connection
	owners   map[string]string              // connection ID -> user
	contexts *ActiveContextTracker
}

func NewPresenceRegistry(log *slog.Logger) *PresenceRegistry {
	return &PresenceRegistry{
		log:      log,
		sessions: make(map[string]contract.Connection),
		owners:   make(map[string]string),
		contexts: NewActiveContextTracker(),
	}
}

// Register overwrites any previous connection of the user and announces it online.
// A context left by a replaced connection is cleared.
func (p *PresenceRegistry) Register(userID string, conn contract.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if previous, ok := p.sessions[userID]; ok && previous.ID() != conn.ID() {
		delete(p.owners, previous.ID())
		p.log.Debug("Connection replaced", "user_id", userID, "previous", previous.ID(), "current", conn.ID())
	}
	if owner, ok := p.owners[conn.ID()]; ok && owner != userID {
		// The same connection joins under another identity
		delete(p.sessions, owner)
		p.contexts.Leave(owner)
	}
	p.sessions[userID] = conn
	p.owners[conn.ID()] = userID
	p.contexts.Leave(userID)
	observability.ConnectedUsers.Set(float64(len(p.sessions)))

	p.broadcast(event.NewFrame(event.UserOnline, event.UserStatus{UserID: userID}))
}

// Unregister removes the user owning the connection. A handle that was already
// replaced by a newer registration is ignored.
func (p *PresenceRegistry) Unregister(conn contract.Connection) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.owners[conn.ID()]
	if !ok {
		return "", false
	}
	delete(p.owners, conn.ID())
	if current, ok := p.sessions[userID]; !ok || current.ID() != conn.ID() {
		return "", false
	}
	delete(p.sessions, userID)
	p.contexts.Leave(userID)
	observability.ConnectedUsers.Set(float64(len(p.sessions)))

	p.broadcast(event.NewFrame(event.UserOffline, event.UserStatus{UserID: userID}))
	return userID, true
}

func (p *PresenceRegistry) Lookup(userID string) (contract.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.sessions[userID]
	return conn, ok
}

// Owner returns the user a connection joined as.
func (p *PresenceRegistry) Owner(conn contract.Connection) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	userID, ok := p.owners[conn.ID()]
	return userID, ok
}

// OnlineUsers returns the sorted ids of connected users.
func (p *PresenceRegistry) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := lo.Keys(p.sessions)
	slices.Sort(users)
	return users
}

func (p *PresenceRegistry) Connections() []contract.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return lo.Values(p.sessions)
}

// Enter records the active conversation of a connected user. Offline users are ignored.
func (p *PresenceRegistry) Enter(userID, conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[userID]; !ok {
		return false
	}
	p.contexts.Enter(userID, conversationID)
	return true
}

func (p *PresenceRegistry) Leave(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts.Leave(userID)
}

func (p *PresenceRegistry) IsViewing(userID, conversationID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contexts.IsViewing(userID, conversationID)
}

// Push sends a frame to a user if present. An absent user is not an error.
func (p *PresenceRegistry) Push(userID string, frame event.Frame) bool {
	conn, ok := p.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(frame); err != nil {
		p.log.Warn("Failed to push frame", "user_id", userID, "event", frame.Event, "error", err)
		return false
	}
	return true
}

// broadcast must be called with the lock held.
func (p *PresenceRegistry) broadcast(frame event.Frame) {
	for userID, conn := range p.sessions {
		if err := conn.Send(frame); err != nil {
			p.log.Warn("Failed to broadcast frame", "user_id", userID, "event", frame.Event, "error", err)
		}
	}
}
