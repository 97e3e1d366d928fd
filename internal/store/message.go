package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/tlk/internal/chat"
)

// ErrPendingMessage is returned when archiving a message without a server id.
var ErrPendingMessage = errors.New("store: message has no server id")

// UpsertMessage archives a confirmed message (idempotent on its server id).
func (db *DB) UpsertMessage(m *chat.Message) error {
	if m.ID.IsPending() || m.ID.IsZero() {
		return ErrPendingMessage
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, conversation_id, sender_id, sender_name, content, kind, media_url, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			kind = excluded.kind,
			media_url = excluded.media_url`,
		m.ID.ServerID(), m.ConversationID, m.Sender.ID, m.Sender.DisplayName(), m.Content, string(m.Kind),
		m.MediaURL, created.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

// MessageCount returns the number of archived messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
