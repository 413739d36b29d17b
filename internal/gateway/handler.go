// ABOUTME: Websocket endpoint: authenticates, registers the connection, dispatches frames
// ABOUTME: Every client request is acknowledged; events flow through registry and rooms

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/loom-chat/internal/auth"
	"github.com/2389/loom-chat/internal/chat"
	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

const requestTimeout = 30 * time.Second

// Handler upgrades authenticated requests to websocket sessions. One
// session per participant; a new connection supersedes the old one.
type Handler struct {
	verifier    *auth.JWTVerifier
	registry    *realtime.Registry
	rooms       *realtime.Rooms
	coordinator *chat.Coordinator
	resolver    *chat.Resolver
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(verifier *auth.JWTVerifier, registry *realtime.Registry, rooms *realtime.Rooms, coordinator *chat.Coordinator, resolver *chat.Resolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:    verifier,
		registry:    registry,
		rooms:       rooms,
		coordinator: coordinator,
		resolver:    resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "gateway"),
	}
}

// ServeHTTP authenticates the request, then hands the socket to a session.
// Auth happens before the upgrade so failures stay plain HTTP 401s.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(auth.RequestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := realtime.NewConn(userID, sock, h.logger)
	h.registry.Register(conn)
	go conn.WritePump()

	h.logger.Info("connection opened", "user_id", userID, "conn_id", conn.ID())
	h.readLoop(conn)
}

// readLoop dispatches client frames until the connection dies, then tears
// the session down. The stale-connection guard in Unregister keeps a
// superseded session from evicting its replacement.
func (h *Handler) readLoop(conn *realtime.Conn) {
	defer func() {
		h.registry.Unregister(conn)
		h.rooms.Remove(conn)
		conn.Close()
		h.logger.Info("connection closed", "user_id", conn.UserID(), "conn_id", conn.ID())
	}()

	conn.PrepareRead()
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			conn.Send(errAck("", "malformed frame"))
			continue
		}
		h.dispatch(conn, req)
	}
}

func (h *Handler) dispatch(conn *realtime.Conn, req request) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch req.Action {
	case actionJoin:
		h.handleJoin(ctx, conn, req)
	case actionMessageCreate:
		h.handleMessageCreate(ctx, conn, req)
	case actionMessageEdit:
		h.handleMessageEdit(ctx, conn, req)
	case actionMessageDelete:
		h.handleMessageDelete(ctx, conn, req)
	default:
		conn.Send(errAck(req.ID, "unknown action"))
	}
}

// handleJoin subscribes the connection to each conversation's room.
// Non-members are skipped silently; joining twice is harmless.
func (h *Handler) handleJoin(ctx context.Context, conn *realtime.Conn, req request) {
	var data joinData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		conn.Send(errAck(req.ID, "malformed frame"))
		return
	}

	for _, raw := range data.ConversationIDs {
		convID, err := wire.ParseID(raw)
		if err != nil {
			continue
		}
		member, err := h.resolver.IsMember(ctx, convID, conn.UserID())
		if err != nil {
			conn.Send(errAck(req.ID, "internal error"))
			return
		}
		if member {
			h.rooms.Join(convID, conn)
		}
	}
	conn.Send(ack{ID: req.ID, Success: true})
}

func (h *Handler) handleMessageCreate(ctx context.Context, conn *realtime.Conn, req request) {
	var data messageCreateData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		conn.Send(errAck(req.ID, "malformed frame"))
		return
	}

	convID, err := wire.ParseID(data.ConversationID)
	if err != nil {
		conn.Send(errAck(req.ID, "invalid conversation id"))
		return
	}
	if data.Body == "" {
		conn.Send(errAck(req.ID, "body is required"))
		return
	}

	member, err := h.resolver.IsMember(ctx, convID, conn.UserID())
	if err != nil {
		conn.Send(errAck(req.ID, "internal error"))
		return
	}
	if !member {
		conn.Send(errAck(req.ID, errorText(chat.ErrNotMember)))
		return
	}

	createReq := chat.CreateRequest{
		ConversationID: convID,
		Body:           data.Body,
		Kind:           data.Kind,
		Metadata:       data.Metadata,
	}
	if data.ParentID != "" {
		parentID, err := wire.ParseID(data.ParentID)
		if err != nil {
			conn.Send(errAck(req.ID, "invalid parent id"))
			return
		}
		createReq.ParentID = &parentID
	}

	msg, err := h.coordinator.Create(ctx, conn.UserID(), createReq)
	if err != nil {
		conn.Send(errAck(req.ID, errorText(err)))
		return
	}

	out := wire.FromMessage(msg)
	conn.Send(okAck(req.ID, &out))
}

func (h *Handler) handleMessageEdit(ctx context.Context, conn *realtime.Conn, req request) {
	var data messageEditData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		conn.Send(errAck(req.ID, "malformed frame"))
		return
	}

	msgID, err := wire.ParseID(data.MessageID)
	if err != nil {
		conn.Send(errAck(req.ID, "invalid message id"))
		return
	}
	if data.Body == "" {
		conn.Send(errAck(req.ID, "body is required"))
		return
	}

	msg, err := h.coordinator.Edit(ctx, conn.UserID(), msgID, data.Body, data.Metadata)
	if err != nil {
		conn.Send(errAck(req.ID, errorText(err)))
		return
	}

	out := wire.FromMessage(msg)
	conn.Send(okAck(req.ID, &out))
}

func (h *Handler) handleMessageDelete(ctx context.Context, conn *realtime.Conn, req request) {
	var data messageDeleteData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		conn.Send(errAck(req.ID, "malformed frame"))
		return
	}

	msgID, err := wire.ParseID(data.MessageID)
	if err != nil {
		conn.Send(errAck(req.ID, "invalid message id"))
		return
	}

	if err := h.coordinator.Delete(ctx, conn.UserID(), msgID); err != nil {
		conn.Send(errAck(req.ID, errorText(err)))
		return
	}
	conn.Send(ack{ID: req.ID, Success: true, MessageID: data.MessageID, Deleted: true})
}

// errorText maps chat layer errors to client-safe strings.
func errorText(err error) string {
	switch {
	case errors.Is(err, chat.ErrNotMember):
		return "not a member of this conversation"
	case errors.Is(err, chat.ErrNotSender):
		return "only the sender may modify a message"
	case errors.Is(err, chat.ErrValidation):
		return err.Error()
	case errors.Is(err, store.ErrNotFound):
		return "not found"
	default:
		return "internal error"
	}
}
