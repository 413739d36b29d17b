// ABOUTME: Client-to-server frame shapes and per-request acknowledgements
// ABOUTME: Every request carries a client-chosen id echoed back in the ack

package gateway

import (
	"encoding/json"

	"github.com/2389/loom-chat/internal/wire"
)

// Client-to-server actions.
const (
	actionJoin          = "join"
	actionMessageCreate = "message-create"
	actionMessageEdit   = "message-edit"
	actionMessageDelete = "message-delete"
)

// request is one client frame. Data is decoded per action.
type request struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// joinData lists conversations the client wants live events for.
type joinData struct {
	ConversationIDs []string `json:"conversationIds"`
}

type messageCreateData struct {
	ConversationID string         `json:"conversationId"`
	Body           string         `json:"body"`
	Kind           string         `json:"kind,omitempty"`
	ParentID       string         `json:"parentId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type messageEditData struct {
	MessageID string         `json:"messageId"`
	Body      string         `json:"body"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type messageDeleteData struct {
	MessageID string `json:"messageId"`
}

// ack is the per-request response frame. On success the message ops carry
// either the hydrated message or, for deletes, the tombstone marker pair.
type ack struct {
	ID        string        `json:"id"`
	Success   bool          `json:"success"`
	Message   *wire.Message `json:"message,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Deleted   bool          `json:"deleted,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func okAck(id string, msg *wire.Message) ack {
	return ack{ID: id, Success: true, Message: msg}
}

func errAck(id, message string) ack {
	return ack{ID: id, Success: false, Error: message}
}
