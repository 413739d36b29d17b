// ABOUTME: Tests for the REST surface over a real store and full middleware stack
// ABOUTME: Covers auth, conversation create/dedup, message CRUD, and status mapping

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-chat/internal/auth"
	"github.com/2389/loom-chat/internal/chat"
	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

var testSecret = []byte("test-secret-for-httpapi")

type testAPI struct {
	srv      *httptest.Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	verifier := auth.NewJWTVerifier(testSecret)
	ids := snowflake.New()
	rooms := realtime.NewRooms(nil)
	registry := realtime.NewRegistry(nil)
	coordinator := chat.NewCoordinator(s, ids, rooms, nil)
	resolver := chat.NewResolver(s, ids, registry, nil)

	mux := http.NewServeMux()
	NewAPI(resolver, coordinator, nil).Register(mux, verifier)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv, store: s, verifier: verifier}
}

func (ta *testAPI) createUser(t *testing.T, id uint64, username string) *store.User {
	t.Helper()
	user := &store.User{ID: id, Username: username, DisplayName: username, CreatedAt: time.Now()}
	require.NoError(t, ta.store.CreateUser(context.Background(), user))
	return user
}

// do issues an authenticated request and decodes the JSON response.
func (ta *testAPI) do(t *testing.T, userID uint64, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ta.srv.URL+path, reader)
	require.NoError(t, err)

	token, err := ta.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestAPI_RequiresAuth(t *testing.T) {
	ta := newTestAPI(t)

	resp, err := http.Get(ta.srv.URL + "/api/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_CreateConversation(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")
	carol := ta.createUser(t, 3, "carol")

	status, body := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind":      "group",
		"name":      "plans",
		"memberIds": []string{wire.FormatID(bob.ID), wire.FormatID(carol.ID)},
	})
	require.Equal(t, http.StatusCreated, status)

	conv := body["conversation"].(map[string]any)
	assert.Equal(t, "group", conv["kind"])
	assert.Equal(t, "plans", conv["name"])
	assert.Len(t, conv["members"], 3)
	assert.Equal(t, false, body["existing"])
}

func TestAPI_CreateDirectTwiceReturnsExisting(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")

	payload := map[string]any{"kind": "direct", "memberIds": []string{wire.FormatID(bob.ID)}}
	status, first := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", payload)
	require.Equal(t, http.StatusCreated, status)

	status, second := ta.do(t, bob.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(alice.ID)},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, second["existing"])

	firstConv := first["conversation"].(map[string]any)
	secondConv := second["conversation"].(map[string]any)
	assert.Equal(t, firstConv["id"], secondConv["id"])
}

func TestAPI_CreateConversationValidation(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")

	status, body := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "broadcast",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])
}

func TestAPI_ListConversations(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")
	carol := ta.createUser(t, 3, "carol")

	_, _ = ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(bob.ID)},
	})
	_, _ = ta.do(t, bob.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(carol.ID)},
	})

	status, body := ta.do(t, alice.ID, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, status)

	convs := body["conversations"].([]any)
	require.Len(t, convs, 1)
	members := convs[0].(map[string]any)["members"].([]any)
	assert.Len(t, members, 2)
}

func TestAPI_MessageLifecycle(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")

	_, created := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(bob.ID)},
	})
	convID := created["conversation"].(map[string]any)["id"].(string)

	status, body := ta.do(t, alice.ID, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{
		"body": "hello bob",
	})
	require.Equal(t, http.StatusCreated, status)
	msgID := body["message"].(map[string]any)["id"].(string)

	status, body = ta.do(t, alice.ID, http.MethodPatch, "/api/messages/"+msgID, map[string]any{
		"body": "hello again",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello again", body["message"].(map[string]any)["body"])

	status, body = ta.do(t, alice.ID, http.MethodDelete, "/api/messages/"+msgID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["deleted"])

	// the tombstone survives in history with a null body
	status, body = ta.do(t, bob.ID, http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	require.Equal(t, http.StatusOK, status)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].(map[string]any)["body"])
}

func TestAPI_MessagesRequireMembership(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")
	carol := ta.createUser(t, 3, "carol")

	_, created := ta.do(t, bob.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(carol.ID)},
	})
	convID := created["conversation"].(map[string]any)["id"].(string)

	status, _ := ta.do(t, alice.ID, http.MethodGet, "/api/conversations/"+convID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ta.do(t, alice.ID, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{
		"body": "intruding",
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_EditByNonSenderForbidden(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")

	_, created := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(bob.ID)},
	})
	convID := created["conversation"].(map[string]any)["id"].(string)

	_, posted := ta.do(t, alice.ID, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{
		"body": "mine",
	})
	msgID := posted["message"].(map[string]any)["id"].(string)

	status, _ := ta.do(t, bob.ID, http.MethodPatch, "/api/messages/"+msgID, map[string]any{
		"body": "hijacked",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ta.do(t, bob.ID, http.MethodDelete, "/api/messages/"+msgID, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_EditMissingMessage(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")

	status, _ := ta.do(t, alice.ID, http.MethodPatch, "/api/messages/424242", map[string]any{
		"body": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_HistoryPagination(t *testing.T) {
	ta := newTestAPI(t)
	alice := ta.createUser(t, 1, "alice")
	bob := ta.createUser(t, 2, "bob")

	_, created := ta.do(t, alice.ID, http.MethodPost, "/api/conversations", map[string]any{
		"kind": "direct", "memberIds": []string{wire.FormatID(bob.ID)},
	})
	convID := created["conversation"].(map[string]any)["id"].(string)

	for _, body := range []string{"one", "two", "three"} {
		status, _ := ta.do(t, alice.ID, http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]any{
			"body": body,
		})
		require.Equal(t, http.StatusCreated, status)
	}

	status, page := ta.do(t, alice.ID, http.MethodGet, "/api/conversations/"+convID+"/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	msgs := page["messages"].([]any)
	require.Len(t, msgs, 2)
	// newest page, chronological order
	assert.Equal(t, "two", msgs[0].(map[string]any)["body"])
	assert.Equal(t, "three", msgs[1].(map[string]any)["body"])
}
