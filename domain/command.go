package domain

// SendCommand carries a message:send request once decoded from the transport.
type SendCommand struct {
	Content        string           `validate:"required"`
	FromID         string           `validate:"required"`
	ToID           string           `validate:"required,nefield=FromID"`
	ConversationID string           `validate:"required"`
	Contact        *ContactMetadata `validate:"omitempty"`
}

// HistoryQuery pages backwards through a conversation, newest first.
type HistoryQuery struct {
	ConversationID string  `validate:"required"`
	RequesterID    string  `validate:"required"`
	Cursor         *string `validate:"omitempty"`
	Limit          int     `validate:"gte=0"`
}
