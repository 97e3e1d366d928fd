package store

import (
	"time"

	"github.com/matheus3301/tlk/internal/chat"
)

// SearchResult holds an archived message with a search snippet.
type SearchResult struct {
	Message chat.Message
	Snippet string
}

// CallRecord is one finished call in the call log.
type CallRecord struct {
	ID        int64
	CallID    string
	PeerID    string
	PeerName  string
	Incoming  bool
	Video     bool
	RangAt    time.Time
	StartedAt time.Time // zero if the call never connected
	EndedAt   time.Time
	Outcome   string
}

// Duration is the connected time of the call.
func (r CallRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
