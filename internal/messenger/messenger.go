// Package messenger ties the conversation list, the open timeline and the
// backend together: opening a conversation, sending with optimistic
// display, and folding pushed messages into both views.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/timeline"
	"go.uber.org/zap"
)

var ErrEmptyDraft = errors.New("messenger: nothing to send")

// Backend is the part of the REST API the messenger needs.
type Backend interface {
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error)
}

// Archive stores confirmed messages for search.
type Archive interface {
	UpsertMessage(m *chat.Message) error
}

// Confirmation is the payload of message.confirmed.
type Confirmation struct {
	TempID  chat.MessageID `json:"tempId"`
	Message chat.Message   `json:"message"`
}

// Messenger coordinates the message flows. It is safe for concurrent use.
type Messenger struct {
	backend  Backend
	inbox    *inbox.Store
	timeline *timeline.Timeline
	archive  Archive
	bus      *bus.Bus
	logger   *zap.Logger

	mu     sync.RWMutex
	self   chat.Profile
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a messenger. archive may be nil.
func New(backend Backend, in *inbox.Store, tl *timeline.Timeline, archive Archive, b *bus.Bus, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		backend:  backend,
		inbox:    in,
		timeline: tl,
		archive:  archive,
		bus:      b,
		logger:   logger,
	}
}

// SetSelf sets the local user's profile, used as the sender of optimistic
// entries.
func (m *Messenger) SetSelf(p chat.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = p
}

// Self returns the local user's profile.
func (m *Messenger) Self() chat.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Open makes conversationID the open conversation: the timeline is cleared,
// history is fetched and installed, and the conversation is marked read.
// If another conversation is opened before the fetch returns, the result is
// dropped.
func (m *Messenger) Open(ctx context.Context, conversationID string) error {
	gen := m.timeline.Open(conversationID)

	msgs, err := m.backend.Messages(ctx, conversationID)
	if err != nil {
		m.timeline.MarkLoadFailed(gen)
		m.notifyError("Failed to load messages", err)
		return fmt.Errorf("load messages of %s: %w", conversationID, err)
	}
	if !m.timeline.Replace(gen, msgs) {
		m.logger.Debug("stale history dropped", zap.String("conversation", conversationID))
		return nil
	}
	for i := range msgs {
		m.store(&msgs[i])
	}

	if err := m.inbox.MarkRead(ctx, conversationID); err != nil && !errors.Is(err, inbox.ErrNotFound) {
		m.logger.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
	}
	return nil
}

// Close closes the open conversation.
func (m *Messenger) Close() {
	m.timeline.Close()
}

// Send displays the draft immediately, posts it, and then settles the
// optimistic entry with the stored message or removes it on failure.
func (m *Messenger) Send(ctx context.Context, d chat.Draft) (chat.Message, error) {
	if d.Empty() {
		return chat.Message{}, ErrEmptyDraft
	}
	if d.ConversationID == "" {
		d.ConversationID = m.timeline.OpenConversation()
	}

	pending, err := m.timeline.SendLocal(d, m.Self())
	if err != nil {
		return chat.Message{}, err
	}
	m.bus.Emit(bus.MessagePending, pending)

	real, err := m.backend.SendMessage(ctx, d)
	if err != nil {
		if ferr := m.timeline.FailSend(pending.ID); ferr != nil {
			m.logger.Debug("pending entry already gone", zap.String("temp_id", pending.ID.String()))
		}
		m.bus.Emit(bus.MessageFailed, pending)
		m.notifyError("Failed to send message", err)
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}

	if err := m.timeline.ConfirmSend(pending.ID, real); err != nil {
		// The conversation was closed or switched while the send was in flight.
		m.logger.Debug("confirmation for closed timeline", zap.String("temp_id", pending.ID.String()), zap.Error(err))
	}
	m.bus.Emit(bus.MessageConfirmed, Confirmation{TempID: pending.ID, Message: real})
	m.store(&real)
	return real, nil
}

// HandleIncoming folds a pushed message into the open timeline and the
// conversation list. A message for a conversation that is not open raises
// a notification.
func (m *Messenger) HandleIncoming(ctx context.Context, in chat.IncomingMessage) {
	if in.ConversationID == "" {
		in.ConversationID = in.Message.ConversationID
	}
	if in.Message.ConversationID == "" {
		in.Message.ConversationID = in.ConversationID
	}
	open := m.timeline.OpenConversation() == in.ConversationID

	if open {
		m.timeline.ApplyPush(in.Message)
	}
	if err := m.inbox.ApplyIncomingMessage(ctx, in); err != nil {
		m.logger.Warn("conversation update failed", zap.String("conversation", in.ConversationID), zap.Error(err))
	}
	if open {
		if err := m.inbox.MarkRead(ctx, in.ConversationID); err != nil && !errors.Is(err, inbox.ErrNotFound) {
			m.logger.Warn("mark read failed", zap.String("conversation", in.ConversationID), zap.Error(err))
		}
	} else if in.Message.Sender.ID != m.Self().ID {
		m.bus.Emit(bus.NotifyMessage, bus.Notice{
			Title: "New message from " + in.Message.Sender.DisplayName(),
			Body:  in.Message.Preview(),
		})
	}

	m.bus.Emit(bus.MessageReceived, in)
	m.store(&in.Message)
}

// Start consumes rt.message events from the bus until Stop.
func (m *Messenger) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	ch, unsub := m.bus.Subscribe(256, bus.RealtimeMessage)

	go func() {
		defer close(m.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				in, ok := evt.Payload.(chat.IncomingMessage)
				if !ok {
					continue
				}
				m.HandleIncoming(ctx, in)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops consuming events and waits for the consumer to exit.
func (m *Messenger) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Messenger) store(msg *chat.Message) {
	if m.archive == nil || msg.ID.IsPending() {
		return
	}
	if err := m.archive.UpsertMessage(msg); err != nil {
		m.logger.Warn("archive message failed", zap.String("msg_id", msg.ID.String()), zap.Error(err))
	}
}

func (m *Messenger) notifyError(title string, err error) {
	m.logger.Error(title, zap.Error(err))
	m.bus.Emit(bus.NotifyError, bus.Notice{Title: title, Body: err.Error()})
}
