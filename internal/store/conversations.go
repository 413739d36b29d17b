// ABOUTME: Conversation and membership persistence for SQLiteStore
// ABOUTME: Conversation + membership rows are written in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts the conversation and all its membership rows
// inside a single transaction. Readers never observe the conversation
// without its memberships.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, name, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		int64(conv.ID),
		conv.Kind,
		conv.Name,
		int64(conv.CreatedBy),
		conv.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	joinedAt := conv.CreatedAt.UTC().Format(time.RFC3339)
	for _, memberID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, int64(conv.ID), int64(memberID), joinedAt)
		if err != nil {
			return fmt.Errorf("inserting membership for user %d: %w", memberID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"kind", conv.Kind,
		"members", len(memberIDs))
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uint64) (*Conversation, error) {
	query := `
		SELECT id, kind, name, created_by, created_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, int64(id)))
}

// FindDirectConversation looks up the direct conversation whose member set
// is exactly the unordered pair {userA, userB}.
// Returns ErrNotFound if the pair has no direct conversation yet.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, userA, userB uint64) (*Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_by, c.created_at
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE c.kind = 'direct' AND m.user_id IN (?, ?)
		GROUP BY c.id
		HAVING COUNT(DISTINCT m.user_id) = 2
		LIMIT 1
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, int64(userA), int64(userB)))
}

// ListUserConversations returns the conversations the user belongs to,
// newest first.
func (s *SQLiteStore) ListUserConversations(ctx context.Context, userID uint64) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.kind, c.name, c.created_by, c.created_at
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("querying user conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ListMembers returns the public profiles of a conversation's members.
func (s *SQLiteStore) ListMembers(ctx context.Context, conversationID uint64) ([]*User, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.avatar, u.created_at
		FROM conversation_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.conversation_id = ?
		ORDER BY m.joined_at, u.id
	`

	rows, err := s.db.QueryContext(ctx, query, int64(conversationID))
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []*User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, user)
	}
	return members, rows.Err()
}

// IsMember reports whether the user holds a membership in the conversation.
func (s *SQLiteStore) IsMember(ctx context.Context, conversationID, userID uint64) (bool, error) {
	query := `
		SELECT 1 FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
	`

	var one int
	err := s.db.QueryRowContext(ctx, query, int64(conversationID), int64(userID)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var id, createdBy int64
	var createdAtStr string

	err := row.Scan(&id, &conv.Kind, &conv.Name, &createdBy, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.ID = uint64(id)
	conv.CreatedBy = uint64(createdBy)
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &conv, nil
}
