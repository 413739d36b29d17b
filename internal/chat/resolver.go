// ABOUTME: Resolver creates conversations with deduplication and downgrade rules
// ABOUTME: Direct pairs resolve to one conversation; assistant chats pin the assistant member

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/loom-chat/internal/realtime"
	"github.com/2389/loom-chat/internal/snowflake"
	"github.com/2389/loom-chat/internal/store"
	"github.com/2389/loom-chat/internal/wire"
)

// AssistantUsername is the well-known username of the automated reply
// engine's participant row, seeded at startup.
const AssistantUsername = "assistant"

// ResolverStore defines what the resolver needs from storage
type ResolverStore interface {
	CountUsers(ctx context.Context, ids []uint64) (int, error)
	GetUser(ctx context.Context, id uint64) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	CreateConversation(ctx context.Context, conv *store.Conversation, memberIDs []uint64) error
	GetConversation(ctx context.Context, id uint64) (*store.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB uint64) (*store.Conversation, error)
	ListUserConversations(ctx context.Context, userID uint64) ([]*store.Conversation, error)
	ListMembers(ctx context.Context, conversationID uint64) ([]*store.User, error)
	IsMember(ctx context.Context, conversationID, userID uint64) (bool, error)
}

// Notifier delivers events directly to participants, joined or not.
// Implemented by realtime.Registry.
type Notifier interface {
	EmitToUsers(userIDs []uint64, event realtime.Event)
}

// Resolver creates and deduplicates conversations together with their
// memberships.
type Resolver struct {
	store    ResolverStore
	ids      *snowflake.Generator
	notifier Notifier
	logger   *slog.Logger

	assistantMu sync.Mutex
	assistantID uint64 // cached after first successful lookup
}

// NewResolver creates a Resolver. Pass nil logger for default.
func NewResolver(resolverStore ResolverStore, ids *snowflake.Generator, notifier Notifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    resolverStore,
		ids:      ids,
		notifier: notifier,
		logger:   logger.With("component", "resolver"),
	}
}

// Resolution is the outcome of a create call. Existing is true when a
// direct conversation for the requested pair already existed and was
// returned instead of a duplicate.
type Resolution struct {
	Conversation *store.Conversation
	Members      []*store.User
	Existing     bool
}

// Create resolves or creates a conversation.
//
// Rules, in order: member IDs are deduplicated and must all reference
// existing participants; a group of exactly two is silently downgraded to
// direct; a direct pair resolves to its existing conversation when one
// exists; an unnamed direct conversation is named once, at creation, as the
// sorted comma-joined display names of its two members (the snapshot does
// not track later renames); an assistant conversation's member set is
// forced to the creator plus the well-known assistant participant.
//
// The conversation and its memberships are persisted as one unit, and
// online members other than the creator are notified directly — they have
// not joined the new conversation's room yet.
func (r *Resolver) Create(ctx context.Context, creatorID uint64, kind, name string, memberIDs []uint64) (*Resolution, error) {
	var members []uint64
	switch kind {
	case store.ConversationAssistant:
		assistantID, err := r.AssistantID(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving assistant participant: %w", err)
		}
		members = dedupIDs(append([]uint64{creatorID}, assistantID))
	case store.ConversationDirect, store.ConversationGroup:
		members = dedupIDs(append([]uint64{creatorID}, memberIDs...))
	default:
		return nil, fmt.Errorf("%w: unknown conversation kind %q", ErrValidation, kind)
	}

	count, err := r.store.CountUsers(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("validating members: %w", err)
	}
	if count != len(members) {
		return nil, fmt.Errorf("%w: member ids reference unknown participants", ErrValidation)
	}

	// A two-party group is just a direct conversation
	if kind == store.ConversationGroup && len(members) == 2 {
		kind = store.ConversationDirect
	}

	if kind == store.ConversationDirect {
		if len(members) != 2 {
			return nil, fmt.Errorf("%w: a direct conversation needs exactly two distinct members", ErrValidation)
		}

		existing, err := r.store.FindDirectConversation(ctx, members[0], members[1])
		if err == nil {
			existingMembers, err := r.store.ListMembers(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("loading members: %w", err)
			}
			r.logger.Debug("returning existing direct conversation", "conversation_id", existing.ID)
			return &Resolution{Conversation: existing, Members: existingMembers, Existing: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up direct conversation: %w", err)
		}

		if name == "" {
			name, err = r.directName(ctx, members)
			if err != nil {
				return nil, err
			}
		}
	}

	conv := &store.Conversation{
		ID:        r.ids.Next(),
		Kind:      kind,
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: time.Now(),
	}

	if err := r.store.CreateConversation(ctx, conv, members); err != nil {
		return nil, fmt.Errorf("persisting conversation: %w", err)
	}

	hydrated, err := r.store.ListMembers(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}

	r.notifyMembers(conv, hydrated, creatorID)

	r.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"kind", conv.Kind,
		"members", len(members))

	return &Resolution{Conversation: conv, Members: hydrated, Existing: false}, nil
}

// ListForUser returns the user's conversations with hydrated member sets.
func (r *Resolver) ListForUser(ctx context.Context, userID uint64) ([]*Resolution, error) {
	convs, err := r.store.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := make([]*Resolution, 0, len(convs))
	for _, conv := range convs {
		members, err := r.store.ListMembers(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("loading members: %w", err)
		}
		out = append(out, &Resolution{Conversation: conv, Members: members, Existing: true})
	}
	return out, nil
}

// IsMember reports whether the user holds a membership in the conversation.
func (r *Resolver) IsMember(ctx context.Context, conversationID, userID uint64) (bool, error) {
	return r.store.IsMember(ctx, conversationID, userID)
}

// AssistantID returns the id of the well-known assistant participant,
// resolved once and cached for the process lifetime.
func (r *Resolver) AssistantID(ctx context.Context) (uint64, error) {
	r.assistantMu.Lock()
	defer r.assistantMu.Unlock()

	if r.assistantID != 0 {
		return r.assistantID, nil
	}

	user, err := r.store.GetUserByUsername(ctx, AssistantUsername)
	if err != nil {
		return 0, fmt.Errorf("assistant participant not seeded: %w", err)
	}
	r.assistantID = user.ID
	return r.assistantID, nil
}

// directName snapshots a direct conversation's display name at creation:
// the two member display names, sorted, comma-joined. Goes stale if a
// member later renames; recomputing on read is a possible future change.
func (r *Resolver) directName(ctx context.Context, members []uint64) (string, error) {
	names := make([]string, 0, len(members))
	for _, id := range members {
		user, err := r.store.GetUser(ctx, id)
		if err != nil {
			return "", fmt.Errorf("loading member %d: %w", id, err)
		}
		names = append(names, user.DisplayName)
	}
	sort.Strings(names)
	return strings.Join(names, ", "), nil
}

// notifyMembers pushes a conversation-created notice to online members
// other than the creator, who already holds the response.
func (r *Resolver) notifyMembers(conv *store.Conversation, members []*store.User, creatorID uint64) {
	var targets []uint64
	for _, m := range members {
		if m.ID != creatorID {
			targets = append(targets, m.ID)
		}
	}
	if len(targets) == 0 {
		return
	}

	r.notifier.EmitToUsers(targets, realtime.Event{
		Kind: realtime.KindConversationCreated,
		Payload: realtime.ConversationCreatedPayload{
			Conversation: wire.FromConversation(conv, members),
		},
	})
}

// dedupIDs removes duplicates preserving first-seen order.
func dedupIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
