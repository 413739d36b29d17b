// ABOUTME: Server wires store, realtime, chat, assistant, and HTTP surfaces together
// ABOUTME: Owns startup ordering, assistant seeding, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/loom-chat/internal/assistant"
	"github.com/2389/loom-chat/internal/auth"
	"github.com/2389/loom-chat/internal/chat"
	"github.com/2389/loom-chat/internal/config"
	"github.com/2389/loom-chat/internal/httpapi"
	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
)

const shutdownGrace = 10 * time.Second

// Server is the composed loom-chat process.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	registry *realtime.Registry
	rooms    *realtime.Rooms
	httpSrv  *http.Server
}

// New builds the full server from configuration. The assistant participant
// is seeded on first start so assistant conversations can always resolve.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ids := snowflake.New()
	assistantID, err := ensureAssistantUser(context.Background(), sqlStore, ids)
	if err != nil {
		sqlStore.Close()
		return nil, fmt.Errorf("seeding assistant user: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	registry := realtime.NewRegistry(logger)
	rooms := realtime.NewRooms(logger)
	coordinator := chat.NewCoordinator(sqlStore, ids, rooms, logger)
	resolver := chat.NewResolver(sqlStore, ids, registry, logger)

	if cfg.Assistant.APIKey != "" {
		engine := assistant.NewAnthropicEngine(cfg.Assistant.APIKey, cfg.Assistant.Model)
		bridge := assistant.NewBridge(sqlStore, ids, rooms, engine, assistantID, assistant.Options{
			Streaming:     cfg.Assistant.Streaming,
			ReplyDelay:    cfg.Assistant.ReplyDelay,
			HistoryWindow: cfg.Assistant.HistoryWindow,
		}, logger)
		coordinator.SetBridge(bridge)
	} else {
		logger.Warn("assistant api key not configured, assistant conversations get no replies")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/ws", NewHandler(verifier, registry, rooms, coordinator, resolver, logger))
	httpapi.NewAPI(resolver, coordinator, logger).Register(mux, verifier)

	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "server"),
		store:    sqlStore,
		registry: registry,
		rooms:    rooms,
		httpSrv:  &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	err := s.httpSrv.Shutdown(shutdownCtx)
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// ensureAssistantUser creates the well-known assistant participant row if
// it does not exist yet, and returns its id either way.
func ensureAssistantUser(ctx context.Context, s *store.SQLiteStore, ids *snowflake.Generator) (uint64, error) {
	existing, err := s.GetUserByUsername(ctx, chat.AssistantUsername)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	user := &store.User{
		ID:          ids.Next(),
		Username:    chat.AssistantUsername,
		DisplayName: "Assistant",
		CreatedAt:   time.Now(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return 0, err
	}
	return user.ID, nil
}
