package tlkv1

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/timeline"
)

type Empty struct{}

type StatusResponse struct {
	Session           string `json:"session"`
	Status            string `json:"status"`
	UptimeMs          int64  `json:"uptimeMs"`
	ProfileID         string `json:"profileId,omitempty"`
	ProfileName       string `json:"profileName,omitempty"`
	ConversationCount int    `json:"conversationCount"`
	UnreadCount       int    `json:"unreadCount"`
	MessageCount      int    `json:"messageCount"`
}

// ListConversationsRequest narrows the list to conversations whose other
// participant's name contains Query, ignoring case.
type ListConversationsRequest struct {
	Query string `json:"query,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
	TotalUnread   int                 `json:"totalUnread"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type StartConversationRequest struct {
	RecipientID string `json:"recipientId"`
}

type ConversationResponse struct {
	Conversation chat.Conversation `json:"conversation"`
}

type TimelineResponse struct {
	Timeline timeline.View `json:"timeline"`
}

type SendRequest struct {
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content"`
	Kind           chat.Kind `json:"type,omitempty"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
}

type SendResponse struct {
	Message chat.Message `json:"message"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type SearchResult struct {
	Message chat.Message `json:"message"`
	Snippet string       `json:"snippet"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// WatchEventsRequest selects bus namespaces; empty means all conversation
// namespaces.
type WatchEventsRequest struct {
	Namespaces []string `json:"namespaces,omitempty"`
}

// EventEnvelope carries one bus event.
type EventEnvelope struct {
	EventID          string          `json:"eventId"`
	Session          string          `json:"session"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Kind             string          `json:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

type StartCallRequest struct {
	RecipientID string `json:"recipientId"`
	Name        string `json:"name,omitempty"`
	Video       bool   `json:"video"`
}

type CallResponse struct {
	Call call.Snapshot `json:"call"`
}

type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

type ListCallsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type CallEntry struct {
	CallID     string    `json:"callId"`
	PeerID     string    `json:"peerId"`
	PeerName   string    `json:"peerName"`
	Incoming   bool      `json:"incoming"`
	Video      bool      `json:"video"`
	RangAt     time.Time `json:"rangAt"`
	DurationMs int64     `json:"durationMs"`
	Outcome    string    `json:"outcome"`
}

type ListCallsResponse struct {
	Calls []CallEntry `json:"calls"`
}
