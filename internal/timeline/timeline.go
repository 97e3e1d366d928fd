// Package timeline holds the ordered, duplicate-free message list of the open
// conversation. It reconciles three sources: the history fetch, optimistic
// local sends, and push deliveries.
//
// Entries are kept in arrival order. Out-of-order delivery is not reconciled
// by server timestamp.
package timeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/chat"
)

var (
	ErrNotOpen        = errors.New("timeline: no conversation open")
	ErrUnknownPending = errors.New("timeline: unknown pending message")
)

// ScrollRequest asks consumers to reveal the end of the timeline.
// Smooth is false right after a history load.
type ScrollRequest struct {
	ConversationID string `json:"conversationId"`
	Smooth         bool   `json:"smooth"`
}

// View is a snapshot of the timeline.
type View struct {
	ConversationID string         `json:"conversationId"`
	Messages       []chat.Message `json:"messages"`
	Loading        bool           `json:"loading"`
	LoadFailed     bool           `json:"loadFailed"`
}

// Timeline is the message list of the single open conversation.
type Timeline struct {
	mu             sync.RWMutex
	conversationID string
	entries        []chat.Message
	loading        bool
	loadFailed     bool
	gen            uint64

	seq atomic.Uint64
	bus *bus.Bus
	now func() time.Time
}

// New creates an empty timeline with nothing open.
func New(b *bus.Bus) *Timeline {
	return &Timeline{bus: b, now: time.Now}
}

// Open clears any prior timeline and points it at conversationID. The returned
// generation must be presented by the history load that follows; a load for
// an older generation is discarded.
func (t *Timeline) Open(conversationID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.conversationID = conversationID
	t.entries = nil
	t.loading = true
	t.loadFailed = false
	return t.gen
}

// Close detaches the timeline. Late results for the closed conversation are ignored.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	t.conversationID = ""
	t.entries = nil
	t.loading = false
	t.loadFailed = false
}

// OpenConversation returns the id of the open conversation, or "".
func (t *Timeline) OpenConversation() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conversationID
}

// Replace installs fetched history wholesale. Entries added since Open (pushes
// and pending sends) are merged back after the history in arrival order. It
// returns false if gen is stale.
func (t *Timeline) Replace(gen uint64, msgs []chat.Message) bool {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}
	entries := dedupe(msgs)
	for _, m := range t.entries {
		entries, _ = Merge(entries, m)
	}
	t.entries = entries
	t.loading = false
	id := t.conversationID
	t.mu.Unlock()

	t.bus.Emit(bus.TimelineReplaced, id)
	t.bus.Emit(bus.TimelineScroll, ScrollRequest{ConversationID: id})
	return true
}

// MarkLoadFailed records that the history fetch for gen failed. The timeline
// stays empty until the conversation is opened again.
func (t *Timeline) MarkLoadFailed(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		return false
	}
	t.loading = false
	t.loadFailed = true
	return true
}

// SendLocal appends an optimistic entry for draft before any network
// confirmation and returns it. The entry carries a fresh pending id, the local
// sender profile and, for media, the local preview reference.
func (t *Timeline) SendLocal(d chat.Draft, sender chat.Profile) (chat.Message, error) {
	t.mu.Lock()
	if t.conversationID == "" {
		t.mu.Unlock()
		return chat.Message{}, ErrNotOpen
	}
	if d.ConversationID != "" && d.ConversationID != t.conversationID {
		open := t.conversationID
		t.mu.Unlock()
		return chat.Message{}, fmt.Errorf("%w: draft for %s while %s is open", ErrNotOpen, d.ConversationID, open)
	}

	msg := chat.Message{
		ID:             chat.PendingSeq(t.seq.Add(1)),
		ConversationID: t.conversationID,
		Sender:         sender,
		Content:        d.Content,
		Kind:           d.Kind,
		MediaURL:       d.PreviewURL,
		CreatedAt:      t.now(),
	}
	if msg.MediaURL == "" {
		msg.MediaURL = d.MediaURL
	}
	if msg.Kind == "" {
		msg.Kind = chat.KindText
	}
	t.entries, _ = Merge(t.entries, msg)
	t.mu.Unlock()

	t.bus.Emit(bus.TimelineScroll, ScrollRequest{ConversationID: msg.ConversationID, Smooth: true})
	return msg, nil
}

// ConfirmSend settles the pending entry tempID with the server's copy. If a
// push delivery already added real.ID the pending entry is dropped instead.
// ErrUnknownPending means the entry is gone, e.g. because another conversation
// was opened in the meantime.
func (t *Timeline) ConfirmSend(tempID chat.MessageID, real chat.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, err := Confirm(t.entries, tempID, real)
	if err != nil {
		return err
	}
	t.entries = entries
	return nil
}

// FailSend removes the pending entry. The caller surfaces the failure.
func (t *Timeline) FailSend(tempID chat.MessageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := Remove(t.entries, tempID)
	if !ok {
		return ErrUnknownPending
	}
	t.entries = entries
	return nil
}

// ApplyPush appends a pushed message if it belongs to the open conversation
// and is not present yet. It reports whether the message was appended.
func (t *Timeline) ApplyPush(m chat.Message) bool {
	t.mu.Lock()
	if t.conversationID == "" || m.ConversationID != t.conversationID {
		t.mu.Unlock()
		return false
	}
	var added bool
	t.entries, added = Merge(t.entries, m)
	t.mu.Unlock()

	if added {
		t.bus.Emit(bus.TimelineScroll, ScrollRequest{ConversationID: m.ConversationID, Smooth: true})
	}
	return added
}

// View returns a copy of the current state.
func (t *Timeline) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msgs := make([]chat.Message, len(t.entries))
	copy(msgs, t.entries)
	return View{
		ConversationID: t.conversationID,
		Messages:       msgs,
		Loading:        t.loading,
		LoadFailed:     t.loadFailed,
	}
}

func dedupe(msgs []chat.Message) []chat.Message {
	seen := make(map[chat.MessageID]struct{}, len(msgs))
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
