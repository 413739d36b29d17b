// ABOUTME: REST surface for conversations and messages behind the auth middleware
// ABOUTME: Same Coordinator and Resolver as the websocket path, so outcomes match

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/loom-chat/internal/auth"
	"github.com/2389/loom-chat/internal/chat"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

// API serves the JSON endpoints under /api.
type API struct {
	resolver    *chat.Resolver
	coordinator *chat.Coordinator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewAPI creates the REST handler set.
func NewAPI(resolver *chat.Resolver, coordinator *chat.Coordinator, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		resolver:    resolver,
		coordinator: coordinator,
		validate:    validator.New(),
		logger:      logger.With("component", "httpapi"),
	}
}

// Register mounts the API routes on the mux behind the auth middleware.
func (a *API) Register(mux *http.ServeMux, verifier auth.TokenVerifier) {
	mw := auth.Middleware(verifier)
	mux.Handle("/api/conversations", mw(http.HandlerFunc(a.handleConversations)))
	mux.Handle("/api/conversations/", mw(http.HandlerFunc(a.handleConversationMessages)))
	mux.Handle("/api/messages/", mw(http.HandlerFunc(a.handleMessage)))
}

// createConversationRequest is the JSON request body for POST /api/conversations.
type createConversationRequest struct {
	Kind      string   `json:"kind" validate:"required,oneof=direct group assistant"`
	Name      string   `json:"name" validate:"max=120"`
	MemberIDs []string `json:"memberIds" validate:"dive,numeric"`
}

// conversationResponse is the JSON response for conversation operations.
type conversationResponse struct {
	Conversation wire.Conversation `json:"conversation"`
	Existing     bool              `json:"existing"`
}

// createMessageRequest is the JSON request body for POST .../messages.
type createMessageRequest struct {
	Body     string         `json:"body" validate:"required,max=4000"`
	Kind     string         `json:"kind" validate:"omitempty,oneof=text image file system"`
	ParentID string         `json:"parentId" validate:"omitempty,numeric"`
	Metadata map[string]any `json:"metadata"`
}

// editMessageRequest is the JSON request body for PATCH /api/messages/{id}.
type editMessageRequest struct {
	Body     string         `json:"body" validate:"required,max=4000"`
	Metadata map[string]any `json:"metadata"`
}

func (a *API) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleCreateConversation(w, r)
	case http.MethodGet:
		a.handleListConversations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	memberIDs := make([]uint64, 0, len(req.MemberIDs))
	for _, raw := range req.MemberIDs {
		id, err := wire.ParseID(raw)
		if err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid member id")
			return
		}
		memberIDs = append(memberIDs, id)
	}

	res, err := a.resolver.Create(r.Context(), userID, req.Kind, req.Name, memberIDs)
	if err != nil {
		a.sendError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	a.writeJSON(w, status, conversationResponse{
		Conversation: wire.FromConversation(res.Conversation, res.Members),
		Existing:     res.Existing,
	})
}

func (a *API) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.FromContext(r.Context())

	resolutions, err := a.resolver.ListForUser(r.Context(), userID)
	if err != nil {
		a.sendError(w, err)
		return
	}

	out := make([]wire.Conversation, 0, len(resolutions))
	for _, res := range resolutions {
		out = append(out, wire.FromConversation(res.Conversation, res.Members))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleConversationMessages serves /api/conversations/{id}/messages for
// GET (history page) and POST (create).
func (a *API) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "messages" {
		http.NotFound(w, r)
		return
	}
	convID, err := wire.ParseID(parts[0])
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	userID, _ := auth.FromContext(r.Context())
	member, err := a.resolver.IsMember(r.Context(), convID, userID)
	if err != nil {
		a.sendError(w, err)
		return
	}
	if !member {
		a.sendJSONError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.handleListMessages(w, r, convID)
	case http.MethodPost:
		a.handleCreateMessage(w, r, userID, convID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request, convID uint64) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	msgs, err := a.coordinator.History(r.Context(), convID, limit, offset)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"messages": wire.FromMessages(msgs)})
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request, userID, convID uint64) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	createReq := chat.CreateRequest{
		ConversationID: convID,
		Body:           req.Body,
		Kind:           req.Kind,
		Metadata:       req.Metadata,
	}
	if req.ParentID != "" {
		parentID, err := wire.ParseID(req.ParentID)
		if err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid parent id")
			return
		}
		createReq.ParentID = &parentID
	}

	msg, err := a.coordinator.Create(r.Context(), userID, createReq)
	if err != nil {
		a.sendError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"message": wire.FromMessage(msg)})
}

// handleMessage serves PATCH and DELETE on /api/messages/{id}.
func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	msgID, err := wire.ParseID(raw)
	if err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	userID, _ := auth.FromContext(r.Context())

	switch r.Method {
	case http.MethodPatch:
		var req editMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := a.validate.Struct(&req); err != nil {
			a.sendJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}

		msg, err := a.coordinator.Edit(r.Context(), userID, msgID, req.Body, req.Metadata)
		if err != nil {
			a.sendError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"message": wire.FromMessage(msg)})

	case http.MethodDelete:
		if err := a.coordinator.Delete(r.Context(), userID, msgID); err != nil {
			a.sendError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendError maps chat layer errors onto HTTP statuses.
func (a *API) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotMember), errors.Is(err, chat.ErrNotSender):
		a.sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		a.sendJSONError(w, http.StatusNotFound, "not found")
	default:
		a.logger.Error("request failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
