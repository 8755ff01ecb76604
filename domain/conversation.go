package domain

// Conversation is a two-party conversation. The relay only checks membership.
type Conversation struct {
	ID           string            `json:"id"`
	Participants [2]string         `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func NewConversation(id, first, second string) Conversation {
	return Conversation{ID: id, Participants: [2]string{first, second}}
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Counterpart returns the other participant of the conversation.
func (c Conversation) Counterpart(userID string) (string, bool) {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	default:
		return "", false
	}
}
