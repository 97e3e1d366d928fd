package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/chat"
)

// Channel prefixes the daemon subscribes to, suffixed with the user id.
const (
	UserChannelPrefix = "user:"
	CallChannelPrefix = "calls:"
)

// Event names carried on the user channel.
const (
	frameEvent      = "event"
	eventMessageNew = "message:new"
)

// Frame is one published message: the channel it arrived on, its event name
// and its JSON data.
type Frame struct {
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data"`
}

// UserChannel returns the per-user message channel.
func UserChannel(userID string) string { return UserChannelPrefix + userID }

// CallChannel returns the per-user call signalling channel.
func CallChannel(userID string) string { return CallChannelPrefix + userID }

// DecodeMessage extracts a new-message push from a user channel frame. It
// reports false for frames that are not new-message events.
func DecodeMessage(f Frame) (chat.IncomingMessage, bool, error) {
	var env struct {
		Type           string       `json:"type"`
		ConversationID string       `json:"conversationId"`
		Message        chat.Message `json:"message"`
	}
	switch f.Name {
	case frameEvent, eventMessageNew:
	default:
		return chat.IncomingMessage{}, false, nil
	}
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return chat.IncomingMessage{}, false, fmt.Errorf("decode %s frame: %w", f.Name, err)
	}
	if f.Name == frameEvent && env.Type != eventMessageNew {
		return chat.IncomingMessage{}, false, nil
	}
	if env.ConversationID == "" {
		env.ConversationID = env.Message.ConversationID
	}
	if env.Message.ConversationID == "" {
		env.Message.ConversationID = env.ConversationID
	}
	if env.ConversationID == "" || env.Message.ID.IsZero() {
		return chat.IncomingMessage{}, false, fmt.Errorf("decode %s frame: missing conversation or message id", f.Name)
	}
	return chat.IncomingMessage{ConversationID: env.ConversationID, Message: env.Message}, true, nil
}

// DecodeSignal turns a call channel frame into a call signal.
func DecodeSignal(f Frame) (call.Signal, bool, error) {
	if !strings.HasPrefix(f.Name, "call:") {
		return call.Signal{}, false, nil
	}
	sig := call.Signal{Type: call.SignalType(f.Name)}
	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, &sig.Payload); err != nil {
			return call.Signal{}, false, fmt.Errorf("decode %s frame: %w", f.Name, err)
		}
	}
	return sig, true, nil
}
