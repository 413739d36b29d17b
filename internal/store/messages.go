// ABOUTME: Message persistence for SQLiteStore
// ABOUTME: Reads join against users so messages carry the sender's public profile

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertMessage persists a new message row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	metadataJSON, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	var parentID *int64
	if msg.ParentID != nil {
		v := int64(*msg.ParentID)
		parentID = &v
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, parent_id, body, kind, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`

	_, err = s.db.ExecContext(ctx, query,
		int64(msg.ID),
		int64(msg.ConversationID),
		int64(msg.SenderID),
		parentID,
		msg.Body,
		msg.Kind,
		metadataJSON,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("inserted message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID)
	return nil
}

// GetMessage retrieves a message by ID, hydrated with the sender profile.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	query := messageSelect + ` WHERE m.id = ?`
	return s.scanMessage(s.db.QueryRowContext(ctx, query, int64(id)))
}

// UpdateMessage writes body, metadata and updated_at for an existing row.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *Message) error {
	metadataJSON, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	var updatedAt *string
	if msg.UpdatedAt != nil {
		v := msg.UpdatedAt.UTC().Format(time.RFC3339)
		updatedAt = &v
	}

	query := `
		UPDATE messages
		SET body = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, msg.Body, metadataJSON, updatedAt, int64(msg.ID))
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated message", "id", msg.ID)
	return nil
}

// ListMessages returns a page of a conversation's messages in chronological
// order. Paging walks backwards from the newest message: offset 0 is the
// most recent page. If limit is 0 or negative, a default of 50 is used.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uint64, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := messageSelect + `
		WHERE m.conversation_id = ?
		ORDER BY m.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, int64(conversationID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse the newest-first page into chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.parent_id, m.body, m.kind,
	       m.metadata_json, m.created_at, m.updated_at,
	       u.id, u.username, u.display_name, u.avatar, u.created_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func (s *SQLiteStore) scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var sender User
	var id, conversationID, senderID, senderUID int64
	var parentID *int64
	var metadataJSON, updatedAtStr *string
	var createdAtStr, senderCreatedAtStr string

	err := row.Scan(
		&id, &conversationID, &senderID, &parentID, &msg.Body, &msg.Kind,
		&metadataJSON, &createdAtStr, &updatedAtStr,
		&senderUID, &sender.Username, &sender.DisplayName, &sender.Avatar, &senderCreatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	msg.ID = uint64(id)
	msg.ConversationID = uint64(conversationID)
	msg.SenderID = uint64(senderID)
	if parentID != nil {
		v := uint64(*parentID)
		msg.ParentID = &v
	}

	if metadataJSON != nil && *metadataJSON != "" {
		if err := json.Unmarshal([]byte(*metadataJSON), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if updatedAtStr != nil {
		t, err := time.Parse(time.RFC3339, *updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		msg.UpdatedAt = &t
	}

	sender.ID = uint64(senderUID)
	sender.CreatedAt, err = time.Parse(time.RFC3339, senderCreatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing sender created_at: %w", err)
	}
	msg.Sender = &sender

	return &msg, nil
}

// encodeMetadata marshals the metadata map to JSON, or nil for empty maps.
func encodeMetadata(metadata map[string]any) (*string, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	str := string(data)
	return &str, nil
}
