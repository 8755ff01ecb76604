package runtime

import "sync"

// ActiveContextTracker remembers the conversation each user currently has open.
// Its entries live and die with the user's presence.
type ActiveContextTracker struct {
	mu       sync.RWMutex
	contexts map[string]string
}

func NewActiveContextTracker() *ActiveContextTracker {
	return &ActiveContextTracker{contexts: make(map[string]string)}
}

func (a *ActiveContextTracker) Enter(userID, conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contexts[userID] = conversationID
}

func (a *ActiveContextTracker) Leave(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.contexts, userID)
}

func (a *ActiveContextTracker) Current(userID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conversationID, ok := a.contexts[userID]
	return conversationID, ok
}

func (a *ActiveContextTracker) IsViewing(userID, conversationID string) bool {
	current, ok := a.Current(userID)
	return ok && current == conversationID
}
