package chat

import (
	"strconv"
	"strings"
	"time"
)

// PendingPrefix marks locally generated message ids that the server has not
// confirmed yet.
const PendingPrefix = "temp-"

// MessageID identifies a message either by a local pending id or by the id the
// server assigned. The zero value is invalid.
type MessageID struct {
	local  string
	server string
}

// Pending returns a local, unconfirmed identity.
func Pending(local string) MessageID {
	return MessageID{local: local}
}

// PendingSeq returns the pending identity for the n-th local send.
func PendingSeq(n uint64) MessageID {
	return Pending(PendingPrefix + strconv.FormatUint(n, 10))
}

// Confirmed returns a server-assigned identity.
func Confirmed(server string) MessageID {
	return MessageID{server: server}
}

// ParseID classifies a raw id by its prefix.
func ParseID(raw string) MessageID {
	if strings.HasPrefix(raw, PendingPrefix) {
		return Pending(raw)
	}
	return Confirmed(raw)
}

// IsPending reports whether the id is a local placeholder.
func (id MessageID) IsPending() bool { return id.local != "" }

// IsZero reports whether the id carries no identity at all.
func (id MessageID) IsZero() bool { return id.local == "" && id.server == "" }

// ServerID returns the server id, or "" for pending ids.
func (id MessageID) ServerID() string { return id.server }

func (id MessageID) String() string {
	if id.local != "" {
		return id.local
	}
	return id.server
}

func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MessageID) UnmarshalText(b []byte) error {
	*id = ParseID(string(b))
	return nil
}

// Kind is the content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

// KindForMIME maps an uploaded file's MIME type to a message kind.
func KindForMIME(mime string) Kind {
	switch {
	case strings.HasPrefix(mime, "image"):
		return KindImage
	case strings.HasPrefix(mime, "video"):
		return KindVideo
	case strings.HasPrefix(mime, "audio"):
		return KindAudio
	default:
		return KindFile
	}
}

// Attachment references uploaded media.
type Attachment struct {
	URL  string
	Kind Kind
}

// Message is a single entry of a conversation.
type Message struct {
	ID             MessageID `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Sender         Profile   `json:"sender"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"type"`
	MediaURL       string    `json:"mediaUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Attachment returns the media attached to the message, if any.
func (m *Message) Attachment() (Attachment, bool) {
	if m.Kind == "" || m.Kind == KindText || m.MediaURL == "" {
		return Attachment{}, false
	}
	return Attachment{URL: m.MediaURL, Kind: m.Kind}, true
}

// Preview is the one-line summary shown in notifications.
func (m *Message) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	return "Sent an attachment"
}

// Draft is a message composed locally and not yet sent.
// MediaURL is the uploaded media location; PreviewURL is a local reference
// shown until the server confirms the send.
type Draft struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Kind           Kind   `json:"type"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	PreviewURL     string `json:"previewUrl,omitempty"`
}

// Empty reports whether the draft has nothing to send.
func (d *Draft) Empty() bool {
	return strings.TrimSpace(d.Content) == "" && d.MediaURL == "" && d.PreviewURL == ""
}

// IncomingMessage is the push payload of a "message:new" event.
type IncomingMessage struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}
