package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("rt.", "message.", ...).
const (
	RealtimeMessage = "rt.message"

	MessagePending   = "message.pending"
	MessageConfirmed = "message.confirmed"
	MessageFailed    = "message.failed"
	MessageReceived  = "message.received"

	TimelineScroll   = "timeline.scroll"
	TimelineReplaced = "timeline.replaced"

	ConversationUpdated  = "conversation.updated"
	ConversationsLoaded  = "conversation.loaded"
	ConversationReadSent = "conversation.read"

	CallStateChanged = "call.state_changed"

	NotifyError   = "notify.error"
	NotifyMessage = "notify.message"

	SessionStatusChanged = "session.status_changed"
)

// Notice is the payload of notify.* events: something a user should see.
type Notice struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// NewEvent returns an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
