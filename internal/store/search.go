package store

import (
	"fmt"

	"github.com/matheus3301/tlk/internal/chat"
)

// SearchMessages performs a full-text search over archived message bodies
// and sender names, newest first.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.msg_id, m.conversation_id, m.sender_id, m.sender_name, m.content,
		       m.kind, m.media_url, m.created_at,
		       snippet(messages_fts, '<<', '>>', '...', 0, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r                    SearchResult
			msgID, kind          string
			senderID, senderName string
			created              int64
		)
		if err := rows.Scan(
			&msgID, &r.Message.ConversationID, &senderID, &senderName,
			&r.Message.Content, &kind, &r.Message.MediaURL, &created, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.ID = chat.Confirmed(msgID)
		r.Message.Kind = chat.Kind(kind)
		r.Message.Sender = chat.Profile{ID: senderID, Username: senderName}
		r.Message.CreatedAt = fromMillis(created)
		results = append(results, r)
	}
	return results, rows.Err()
}
