// ABOUTME: Coordinator is the single mutation path for messages
// ABOUTME: Enforces sender ownership, tombstone deletes, and per-conversation event order

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

// MessageStore defines what the coordinator needs from storage
type MessageStore interface {
	GetConversation(ctx context.Context, id uint64) (*store.Conversation, error)
	InsertMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id uint64) (*store.Message, error)
	UpdateMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID uint64, limit, offset int) ([]*store.Message, error)
}

// Broadcaster delivers events to a conversation's joined connections.
// Implemented by realtime.Rooms.
type Broadcaster interface {
	EmitToGroup(conversationID uint64, event realtime.Event)
}

// Bridge receives messages created in assistant conversations. Invoked on
// its own goroutine; its outcome never reaches the triggering caller.
// Implemented by assistant.Bridge.
type Bridge interface {
	DeliverReply(conversation *store.Conversation, prompt *store.Message)
}

// Coordinator creates, edits, and tombstone-deletes messages. It is the
// only writer for a conversation within the process, so events reach each
// joined connection in issuance order.
type Coordinator struct {
	store  MessageStore
	ids    *snowflake.Generator
	rooms  Broadcaster
	bridge Bridge
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator. Pass nil logger for default.
func NewCoordinator(messageStore MessageStore, ids *snowflake.Generator, rooms Broadcaster, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  messageStore,
		ids:    ids,
		rooms:  rooms,
		logger: logger.With("component", "coordinator"),
	}
}

// SetBridge attaches the assistant bridge. Wired after construction because
// the bridge itself writes replies through stores shared with this layer.
func (c *Coordinator) SetBridge(bridge Bridge) {
	c.bridge = bridge
}

// CreateRequest carries the fields of a new message. The caller has already
// verified the sender's membership at the boundary.
type CreateRequest struct {
	ConversationID uint64
	Body           string
	Kind           string
	ParentID       *uint64
	Metadata       map[string]any
}

// Create persists a new message, broadcasts message-created to the
// conversation's room, and returns the row hydrated with the sender's
// profile. For assistant conversations the bridge is kicked off on its own
// goroutine; its outcome never affects this call.
//
// Duplicate submissions are not deduplicated: a double-submit yields two
// distinct messages.
func (c *Coordinator) Create(ctx context.Context, senderID uint64, req CreateRequest) (*store.Message, error) {
	conv, err := c.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	kind := req.Kind
	if kind == "" {
		kind = store.MessageKindText
	}

	body := req.Body
	msg := &store.Message{
		ID:             c.ids.Next(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		ParentID:       req.ParentID,
		Body:           &body,
		Kind:           kind,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now(),
	}

	if err := c.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}

	hydrated, err := c.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("loading created message: %w", err)
	}

	c.rooms.EmitToGroup(conv.ID, realtime.MessageEvent(realtime.KindMessageCreated, wire.FromMessage(hydrated)))

	c.logger.Debug("message created",
		"message_id", hydrated.ID,
		"conversation_id", conv.ID,
		"sender_id", senderID)

	if conv.Kind == store.ConversationAssistant && c.bridge != nil {
		go c.bridge.DeliverReply(conv, hydrated)
	}

	return hydrated, nil
}

// Edit updates body and metadata of an existing message. Only the original
// sender may edit; anyone else gets ErrNotSender and the row is untouched.
func (c *Coordinator) Edit(ctx context.Context, senderID, messageID uint64, body string, metadata map[string]any) (*store.Message, error) {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}
	if msg.SenderID != senderID {
		return nil, ErrNotSender
	}

	now := time.Now()
	msg.Body = &body
	if metadata != nil {
		msg.Metadata = metadata
	}
	msg.UpdatedAt = &now

	if err := c.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}

	hydrated, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading edited message: %w", err)
	}

	c.rooms.EmitToGroup(msg.ConversationID, realtime.MessageEvent(realtime.KindMessageEdited, wire.FromMessage(hydrated)))

	c.logger.Debug("message edited", "message_id", messageID, "sender_id", senderID)
	return hydrated, nil
}

// Delete tombstones a message: the body is cleared, metadata gains a
// deleted marker, and the row is retained with its id, sender, and
// timestamps. Only the original sender may delete. A repeated delete of an
// already-tombstoned message is a no-op.
func (c *Coordinator) Delete(ctx context.Context, senderID, messageID uint64) error {
	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("loading message: %w", err)
	}
	if msg.SenderID != senderID {
		return ErrNotSender
	}

	if !msg.Deleted() {
		now := time.Now()
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		msg.Metadata[store.MetaDeleted] = true
		msg.Metadata[store.MetaDeletedAt] = now.UTC().Format(time.RFC3339)
		msg.Body = nil
		msg.UpdatedAt = &now

		if err := c.store.UpdateMessage(ctx, msg); err != nil {
			return fmt.Errorf("tombstoning message: %w", err)
		}
	}

	c.rooms.EmitToGroup(msg.ConversationID, realtime.Event{
		Kind: realtime.KindMessageDeleted,
		Payload: realtime.MessageDeletedPayload{
			MessageID: wire.FormatID(messageID),
			Deleted:   true,
		},
	})

	c.logger.Debug("message deleted", "message_id", messageID, "sender_id", senderID)
	return nil
}

// History returns a page of a conversation's messages in chronological
// order. Offset pages walk backwards from the newest message.
func (c *Coordinator) History(ctx context.Context, conversationID uint64, limit, offset int) ([]*store.Message, error) {
	return c.store.ListMessages(ctx, conversationID, limit, offset)
}

// IsNotFound reports whether the error means the target entity is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
