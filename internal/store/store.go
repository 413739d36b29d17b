// ABOUTME: Store interface and data types for loom-chat persistence
// ABOUTME: Defines User, Conversation, Membership, Message and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when creating a user whose username is taken
var ErrDuplicateUser = errors.New("user already exists")

// Conversation kinds
const (
	ConversationDirect    = "direct"
	ConversationGroup     = "group"
	ConversationAssistant = "assistant"
)

// Message kinds
const (
	MessageKindText   = "text"
	MessageKindImage  = "image"
	MessageKindFile   = "file"
	MessageKindSystem = "system"
)

// Metadata keys written by this layer. Metadata is an open map but these
// keys have fixed meanings across the system.
const (
	MetaDeleted   = "deleted"   // bool, set on tombstoned messages
	MetaDeletedAt = "deletedAt" // RFC3339 string, set on tombstoned messages
	MetaAssistant = "assistant" // bool, set on assistant-authored messages
	MetaError     = "error"     // bool, set on assistant apology messages
)

// User is the public profile of a participant. Account credentials live
// outside this system; only profile fields are read here.
type User struct {
	ID          uint64
	Username    string
	DisplayName string
	Avatar      string
	CreatedAt   time.Time
}

// Conversation is a channel of fixed kind with a member set.
type Conversation struct {
	ID        uint64
	Kind      string // "direct", "group", "assistant"
	Name      string // optional; "" when unnamed
	CreatedBy uint64
	CreatedAt time.Time
}

// Membership records a participant's durable belonging to a conversation.
// Its existence implies read/write authorization for that conversation.
type Membership struct {
	ConversationID uint64
	UserID         uint64
	JoinedAt       time.Time
}

// Message is one unit of content from one participant in one conversation.
// A nil Body means the message has been tombstoned.
type Message struct {
	ID             uint64
	ConversationID uint64
	SenderID       uint64
	ParentID       *uint64
	Body           *string
	Kind           string
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      *time.Time

	// Sender is the hydrated public profile, populated on reads that join
	// against the users table. Never persisted from here.
	Sender *User
}

// Deleted reports whether the message is a tombstone.
func (m *Message) Deleted() bool {
	return m.Body == nil
}

// Store defines the persistence operations the chat layer depends on.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uint64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CountUsers(ctx context.Context, ids []uint64) (int, error)

	// Conversations + memberships. CreateConversation persists the
	// conversation and all membership rows in one transaction: no reader
	// observes the conversation before its memberships.
	CreateConversation(ctx context.Context, conv *Conversation, memberIDs []uint64) error
	GetConversation(ctx context.Context, id uint64) (*Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB uint64) (*Conversation, error)
	ListUserConversations(ctx context.Context, userID uint64) ([]*Conversation, error)
	ListMembers(ctx context.Context, conversationID uint64) ([]*User, error)
	IsMember(ctx context.Context, conversationID, userID uint64) (bool, error)

	// Messages
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id uint64) (*Message, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID uint64, limit, offset int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
