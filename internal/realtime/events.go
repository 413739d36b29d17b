// ABOUTME: Closed enumeration of realtime event kinds with typed payloads
// ABOUTME: Every kind has exactly one wire name; dispatch is exhaustive by construction

package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/2389/loom-chat/internal/wire"
)

// EventKind identifies a server-to-client event. The set is closed: adding
// a kind requires extending wireName, which the compiler and tests enforce.
type EventKind int

const (
	KindMessageCreated EventKind = iota
	KindMessageEdited
	KindMessageDeleted
	KindConversationCreated
	KindStreamChunk
	KindStreamEnd
)

// wireName maps each kind to its frame name.
func (k EventKind) wireName() string {
	switch k {
	case KindMessageCreated:
		return "message-created"
	case KindMessageEdited:
		return "message-edited"
	case KindMessageDeleted:
		return "message-deleted"
	case KindConversationCreated:
		return "conversation-created"
	case KindStreamChunk:
		return "stream-chunk"
	case KindStreamEnd:
		return "stream-end"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// String returns the wire name of the kind.
func (k EventKind) String() string { return k.wireName() }

// Event is one server-to-client notification. Payload is the JSON body
// delivered under "data".
type Event struct {
	Kind    EventKind
	Payload any
}

// MessageDeletedPayload is the body of a message-deleted event. Only the ID
// and the deletion flag travel; the tombstoned row stays server-side.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	Deleted   bool   `json:"deleted"`
}

// ConversationCreatedPayload is the body of a conversation-created event.
type ConversationCreatedPayload struct {
	Conversation wire.Conversation `json:"conversation"`
}

// StreamChunkPayload is the body of one assistant stream fragment. Chunks
// are transient: they are never persisted; the concatenation arrives later
// in a stream-end event.
type StreamChunkPayload struct {
	Chunk          string `json:"chunk"`
	SenderID       string `json:"senderId"`
	ConversationID string `json:"conversationId"`
}

// StreamEndPayload is the body of a stream-end event, carrying the persisted
// message whose body is the concatenation of all chunks.
type StreamEndPayload struct {
	Message wire.Message `json:"message"`
}

// MessageEvent builds a message-created or message-edited event.
func MessageEvent(kind EventKind, msg wire.Message) Event {
	return Event{Kind: kind, Payload: msg}
}

// frame is the serialized form of an event on the websocket.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Marshal renders the event as a wire frame.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(frame{Event: e.Kind.wireName(), Data: e.Payload})
}
