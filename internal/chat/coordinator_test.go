// ABOUTME: Tests for message create/edit/delete through the coordinator
// ABOUTME: Uses a real SQLite store with recording broadcaster and bridge fakes

package chat

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
)

type recordingRooms struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recordingRooms) EmitToGroup(conversationID uint64, event realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingRooms) kinds() []realtime.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type recordingBridge struct {
	mu      sync.Mutex
	prompts []*store.Message
	fired   chan struct{}
}

func newRecordingBridge() *recordingBridge {
	return &recordingBridge{fired: make(chan struct{}, 8)}
}

func (b *recordingBridge) DeliverReply(conv *store.Conversation, prompt *store.Message) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	b.fired <- struct{}{}
}

func (b *recordingBridge) waitFired(t *testing.T) {
	t.Helper()
	select {
	case <-b.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge was never invoked")
	}
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *store.SQLiteStore, id uint64, username string) *store.User {
	t.Helper()
	user := &store.User{
		ID:          id,
		Username:    username,
		DisplayName: username,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func createTestConversation(t *testing.T, s *store.SQLiteStore, id uint64, kind string, memberIDs []uint64) *store.Conversation {
	t.Helper()
	conv := &store.Conversation{
		ID:        id,
		Kind:      kind,
		CreatedBy: memberIDs[0],
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv, memberIDs))
	return conv
}

func TestCoordinator_Create(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	rooms := &recordingRooms{}
	coord := NewCoordinator(s, snowflake.New(), rooms, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{
		ConversationID: conv.ID,
		Body:           "hello bob",
	})
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, alice.ID, msg.SenderID)
	require.NotNil(t, msg.Body)
	assert.Equal(t, "hello bob", *msg.Body)
	assert.Equal(t, store.MessageKindText, msg.Kind)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)

	require.Len(t, rooms.kinds(), 1)
	assert.Equal(t, realtime.KindMessageCreated, rooms.kinds()[0])
}

func TestCoordinator_CreateUnknownConversation(t *testing.T) {
	s := createTestStore(t)
	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)

	_, err := coord.Create(context.Background(), 1, CreateRequest{ConversationID: 999, Body: "hi"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestCoordinator_CreateDoubleSubmitYieldsTwoMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)

	req := CreateRequest{ConversationID: conv.ID, Body: "same body"}
	first, err := coord.Create(ctx, alice.ID, req)
	require.NoError(t, err)
	second, err := coord.Create(ctx, alice.ID, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)

	msgs, err := coord.History(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestCoordinator_CreateFiresBridgeForAssistantConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	helper := createTestUser(t, s, 2, AssistantUsername)
	conv := createTestConversation(t, s, 100, store.ConversationAssistant, []uint64{alice.ID, helper.ID})

	bridge := newRecordingBridge()
	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)
	coord.SetBridge(bridge)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "help me"})
	require.NoError(t, err)

	bridge.waitFired(t)
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	require.Len(t, bridge.prompts, 1)
	assert.Equal(t, msg.ID, bridge.prompts[0].ID)
}

func TestCoordinator_CreateSkipsBridgeForDirectConversation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	bridge := newRecordingBridge()
	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)
	coord.SetBridge(bridge)

	_, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "hi"})
	require.NoError(t, err)

	select {
	case <-bridge.fired:
		t.Fatal("bridge should not fire for a direct conversation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_Edit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	rooms := &recordingRooms{}
	coord := NewCoordinator(s, snowflake.New(), rooms, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "typoed"})
	require.NoError(t, err)

	edited, err := coord.Edit(ctx, alice.ID, msg.ID, "fixed", nil)
	require.NoError(t, err)
	require.NotNil(t, edited.Body)
	assert.Equal(t, "fixed", *edited.Body)
	require.NotNil(t, edited.UpdatedAt)
	assert.Equal(t, msg.CreatedAt.UTC(), edited.CreatedAt.UTC())

	kinds := rooms.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, realtime.KindMessageEdited, kinds[1])
}

func TestCoordinator_EditByNonSenderLeavesRowUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	rooms := &recordingRooms{}
	coord := NewCoordinator(s, snowflake.New(), rooms, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "mine"})
	require.NoError(t, err)

	_, err = coord.Edit(ctx, bob.ID, msg.ID, "hijacked", nil)
	assert.ErrorIs(t, err, ErrNotSender)

	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Body)
	assert.Equal(t, "mine", *stored.Body)
	assert.Nil(t, stored.UpdatedAt)

	// only the create event was broadcast
	assert.Len(t, rooms.kinds(), 1)
}

func TestCoordinator_DeleteTombstones(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	rooms := &recordingRooms{}
	coord := NewCoordinator(s, snowflake.New(), rooms, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "ephemeral"})
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, alice.ID, msg.ID))

	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted())
	assert.Nil(t, stored.Body)
	assert.Equal(t, msg.ID, stored.ID)
	assert.Equal(t, alice.ID, stored.SenderID)
	assert.Equal(t, msg.CreatedAt.UTC(), stored.CreatedAt.UTC())
	assert.Equal(t, true, stored.Metadata[store.MetaDeleted])
	assert.NotEmpty(t, stored.Metadata[store.MetaDeletedAt])

	// tombstone keeps the row visible in history
	msgs, err := coord.History(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted())

	kinds := rooms.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, realtime.KindMessageDeleted, kinds[1])
}

func TestCoordinator_DeleteRepeatedIsNoOp(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "gone"})
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, alice.ID, msg.ID))
	first, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, alice.ID, msg.ID))
	second, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Metadata[store.MetaDeletedAt], second.Metadata[store.MetaDeletedAt])
	assert.Equal(t, first.UpdatedAt.UTC(), second.UpdatedAt.UTC())
}

func TestCoordinator_DeleteByNonSender(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, s, 1, "alice")
	bob := createTestUser(t, s, 2, "bob")
	conv := createTestConversation(t, s, 100, store.ConversationDirect, []uint64{alice.ID, bob.ID})

	coord := NewCoordinator(s, snowflake.New(), &recordingRooms{}, nil)

	msg, err := coord.Create(ctx, alice.ID, CreateRequest{ConversationID: conv.ID, Body: "safe"})
	require.NoError(t, err)

	err = coord.Delete(ctx, bob.ID, msg.ID)
	assert.ErrorIs(t, err, ErrNotSender)

	stored, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Deleted())
}
