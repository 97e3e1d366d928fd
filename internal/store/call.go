package store

import "fmt"

// RecordCall appends a finished call to the call log. Recording the same
// call id twice keeps the first record.
func (db *DB) RecordCall(r *CallRecord) error {
	res, err := db.Exec(`
		INSERT INTO calls (call_id, peer_id, peer_name, incoming, video, rang_at, started_at, ended_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO NOTHING`,
		r.CallID, r.PeerID, r.PeerName, r.Incoming, r.Video,
		toMillis(r.RangAt), toMillis(r.StartedAt), toMillis(r.EndedAt), r.Outcome)
	if err != nil {
		return fmt.Errorf("record call %s: %w", r.CallID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.ID, _ = res.LastInsertId()
	}
	return nil
}

// ListCalls returns the most recent calls first.
func (db *DB) ListCalls(limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, call_id, peer_id, peer_name, incoming, video, rang_at, started_at, ended_at, outcome
		FROM calls
		ORDER BY rang_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CallRecord
	for rows.Next() {
		var (
			r                       CallRecord
			rang, started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.CallID, &r.PeerID, &r.PeerName, &r.Incoming, &r.Video,
			&rang, &started, &finished, &r.Outcome); err != nil {
			return nil, err
		}
		r.RangAt = fromMillis(rang)
		r.StartedAt = fromMillis(started)
		r.EndedAt = fromMillis(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
