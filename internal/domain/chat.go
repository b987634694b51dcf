package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServerSender is the sender name used for notices produced by the server.
const ServerSender = "Server"

// GroupChat is a named chat whose administrative rights belong to Creator.
type GroupChat struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsCreator reports whether username holds administrative rights over the chat.
func (c GroupChat) IsCreator(username string) bool {
	return c.Creator == username
}

// StoredMessage is a global chat message as kept by the persistence layer.
type StoredMessage struct {
	ID      uuid.UUID `json:"id"`
	Sender  string    `json:"sender"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// NewStoredMessage stamps a message with a fresh id and the current time.
func NewStoredMessage(sender, content string) StoredMessage {
	return StoredMessage{
		ID:      uuid.New(),
		Sender:  sender,
		Content: content,
		SentAt:  time.Now().UTC(),
	}
}

// User is a registered account. PasswordHash is never sent over the wire.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
