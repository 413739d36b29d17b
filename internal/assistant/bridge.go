// ABOUTME: Bridge turns a user message in an assistant conversation into a model reply
// ABOUTME: Fire-and-forget: failures surface as an apology message, never to the sender

package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

const (
	defaultReplyDelay    = time.Second
	defaultHistoryWindow = 10
	replyTimeout         = 90 * time.Second

	apologyBody = "I'm sorry, I encountered an error while processing your message. Please try again."
)

// BridgeStore defines what the bridge needs from storage.
type BridgeStore interface {
	ListMessages(ctx context.Context, conversationID uint64, limit, offset int) ([]*store.Message, error)
	InsertMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id uint64) (*store.Message, error)
}

// Broadcaster delivers events to a conversation's joined connections.
type Broadcaster interface {
	EmitToGroup(conversationID uint64, event realtime.Event)
}

// Options tune the bridge. Zero values select the defaults.
type Options struct {
	// Streaming switches the reply from a single message-created event to
	// stream-chunk events followed by stream-end.
	Streaming bool
	// ReplyDelay is waited before the reply is persisted and emitted, so
	// the assistant does not answer faster than a human can read.
	ReplyDelay time.Duration
	// HistoryWindow is how many recent messages are handed to the engine.
	HistoryWindow int
}

// Bridge generates assistant replies for messages in assistant
// conversations. DeliverReply runs on its own goroutine per message; the
// triggering sender never observes its outcome.
type Bridge struct {
	store       BridgeStore
	ids         *snowflake.Generator
	rooms       Broadcaster
	engine      Engine
	assistantID uint64
	opts        Options
	logger      *slog.Logger
}

// NewBridge creates a Bridge. assistantID is the seeded assistant
// participant; replies are persisted under that sender.
func NewBridge(bridgeStore BridgeStore, ids *snowflake.Generator, rooms Broadcaster, engine Engine, assistantID uint64, opts Options, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReplyDelay == 0 {
		opts.ReplyDelay = defaultReplyDelay
	}
	if opts.HistoryWindow == 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	return &Bridge{
		store:       bridgeStore,
		ids:         ids,
		rooms:       rooms,
		engine:      engine,
		assistantID: assistantID,
		opts:        opts,
		logger:      logger.With("component", "bridge"),
	}
}

// DeliverReply generates and delivers one reply to the prompt message. The
// assistant's own messages are ignored, which also keeps the bridge from
// answering itself.
func (b *Bridge) DeliverReply(conv *store.Conversation, prompt *store.Message) {
	if conv.Kind != store.ConversationAssistant || prompt.SenderID == b.assistantID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	turns, err := b.historyTurns(ctx, conv.ID)
	if err != nil {
		b.logger.Error("loading history", "conversation_id", conv.ID, "error", err)
		b.deliverApology(ctx, conv.ID)
		return
	}

	if b.opts.Streaming {
		b.deliverStreaming(ctx, conv.ID, turns)
		return
	}
	b.deliverWhole(ctx, conv.ID, turns)
}

func (b *Bridge) deliverWhole(ctx context.Context, conversationID uint64, turns []Turn) {
	text, err := b.engine.Complete(ctx, turns)
	if err != nil {
		b.logger.Error("generating reply", "conversation_id", conversationID, "error", err)
		b.deliverApology(ctx, conversationID)
		return
	}

	b.wait(ctx)

	msg, err := b.persistReply(ctx, conversationID, text, false)
	if err != nil {
		b.logger.Error("persisting reply", "conversation_id", conversationID, "error", err)
		return
	}

	b.rooms.EmitToGroup(conversationID, realtime.MessageEvent(realtime.KindMessageCreated, wire.FromMessage(msg)))
	b.logger.Debug("reply delivered", "conversation_id", conversationID, "message_id", msg.ID)
}

// deliverStreaming emits transient stream-chunk events as text arrives,
// then persists the concatenation and closes the stream with a stream-end
// event carrying the stored message. Chunks themselves are never persisted.
func (b *Bridge) deliverStreaming(ctx context.Context, conversationID uint64, turns []Turn) {
	text, err := b.engine.Stream(ctx, turns, func(chunk string) {
		b.rooms.EmitToGroup(conversationID, realtime.Event{
			Kind: realtime.KindStreamChunk,
			Payload: realtime.StreamChunkPayload{
				Chunk:          chunk,
				SenderID:       wire.FormatID(b.assistantID),
				ConversationID: wire.FormatID(conversationID),
			},
		})
	})
	if err != nil {
		b.logger.Error("streaming reply", "conversation_id", conversationID, "error", err)
		b.deliverApologyStreamEnd(ctx, conversationID)
		return
	}

	msg, err := b.persistReply(ctx, conversationID, text, false)
	if err != nil {
		b.logger.Error("persisting streamed reply", "conversation_id", conversationID, "error", err)
		return
	}

	b.rooms.EmitToGroup(conversationID, realtime.Event{
		Kind:    realtime.KindStreamEnd,
		Payload: realtime.StreamEndPayload{Message: wire.FromMessage(msg)},
	})
	b.logger.Debug("streamed reply delivered", "conversation_id", conversationID, "message_id", msg.ID)
}

// deliverApology persists the fallback reply and broadcasts it as a
// regular message. Called when the engine or history load fails.
func (b *Bridge) deliverApology(ctx context.Context, conversationID uint64) {
	msg, err := b.persistReply(ctx, conversationID, apologyBody, true)
	if err != nil {
		b.logger.Error("persisting apology", "conversation_id", conversationID, "error", err)
		return
	}
	b.rooms.EmitToGroup(conversationID, realtime.MessageEvent(realtime.KindMessageCreated, wire.FromMessage(msg)))
}

// deliverApologyStreamEnd persists the fallback reply and ends the stream
// with it, so clients that rendered chunks can settle on a final message.
func (b *Bridge) deliverApologyStreamEnd(ctx context.Context, conversationID uint64) {
	msg, err := b.persistReply(ctx, conversationID, apologyBody, true)
	if err != nil {
		b.logger.Error("persisting apology", "conversation_id", conversationID, "error", err)
		return
	}
	b.rooms.EmitToGroup(conversationID, realtime.Event{
		Kind:    realtime.KindStreamEnd,
		Payload: realtime.StreamEndPayload{Message: wire.FromMessage(msg)},
	})
}

func (b *Bridge) persistReply(ctx context.Context, conversationID uint64, body string, isError bool) (*store.Message, error) {
	metadata := map[string]any{store.MetaAssistant: true}
	if isError {
		metadata[store.MetaError] = true
	}

	msg := &store.Message{
		ID:             b.ids.Next(),
		ConversationID: conversationID,
		SenderID:       b.assistantID,
		Body:           &body,
		Kind:           store.MessageKindText,
		Metadata:       metadata,
		CreatedAt:      time.Now(),
	}
	if err := b.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	return b.store.GetMessage(ctx, msg.ID)
}

// historyTurns loads the recent window of the conversation, newest last,
// and tags each entry by who sent it. Tombstoned messages are skipped.
func (b *Bridge) historyTurns(ctx context.Context, conversationID uint64) ([]Turn, error) {
	msgs, err := b.store.ListMessages(ctx, conversationID, b.opts.HistoryWindow, 0)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Deleted() {
			continue
		}
		role := "user"
		if msg.SenderID == b.assistantID {
			role = "assistant"
		}
		turns = append(turns, Turn{Role: role, Content: *msg.Body})
	}
	return turns, nil
}

// wait sleeps the reply delay, cut short by ctx cancellation.
func (b *Bridge) wait(ctx context.Context) {
	select {
	case <-time.After(b.opts.ReplyDelay):
	case <-ctx.Done():
	}
}
