// ABOUTME: JSON wire representations shared by the realtime and REST surfaces
// ABOUTME: Snowflake IDs travel as decimal strings so JavaScript clients keep precision

package wire

import (
	"strconv"
	"time"

	"github.com/2389/loom-chat/internal/store"
)

// User is the public profile shape sent to clients.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Conversation is the conversation shape sent to clients.
type Conversation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []User    `json:"members,omitempty"`
}

// Message is the message shape sent to clients. Body is null for tombstones.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	ParentID       string         `json:"parentId,omitempty"`
	Body           *string        `json:"body"`
	Kind           string         `json:"kind"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
	Sender         *User          `json:"sender,omitempty"`
}

// FormatID renders a snowflake as its wire form.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseID parses a wire-form snowflake.
func ParseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// FromUser converts a stored user profile to its wire form.
func FromUser(u *store.User) User {
	return User{
		ID:          FormatID(u.ID),
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
	}
}

// FromConversation converts a stored conversation to its wire form.
// Members may be nil when the caller doesn't hydrate them.
func FromConversation(c *store.Conversation, members []*store.User) Conversation {
	conv := Conversation{
		ID:        FormatID(c.ID),
		Kind:      c.Kind,
		Name:      c.Name,
		CreatedBy: FormatID(c.CreatedBy),
		CreatedAt: c.CreatedAt,
	}
	for _, m := range members {
		conv.Members = append(conv.Members, FromUser(m))
	}
	return conv
}

// FromMessage converts a stored message to its wire form.
func FromMessage(m *store.Message) Message {
	msg := Message{
		ID:             FormatID(m.ID),
		ConversationID: FormatID(m.ConversationID),
		SenderID:       FormatID(m.SenderID),
		Body:           m.Body,
		Kind:           m.Kind,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.ParentID != nil {
		msg.ParentID = FormatID(*m.ParentID)
	}
	if m.Sender != nil {
		sender := FromUser(m.Sender)
		msg.Sender = &sender
	}
	return msg
}

// FromMessages converts a slice of stored messages.
func FromMessages(msgs []*store.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = FromMessage(m)
	}
	return out
}
