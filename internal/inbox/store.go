// Package inbox keeps the in-memory list of the user's conversations, ordered
// by most recent activity, with per-conversation unread counters.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/chat"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("inbox: conversation not found")

const (
	// DefaultAckTimeout bounds a fire-and-forget read acknowledgement.
	DefaultAckTimeout = 10 * time.Second
	// DefaultLoadTimeout bounds a shared list request.
	DefaultLoadTimeout = 30 * time.Second
)

// Backend is the part of the REST API the store needs.
type Backend interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// OpenRef reports which conversation is currently open, if any. The store
// consults it but does not own it.
type OpenRef interface {
	OpenConversation() string
}

// Store is the conversation list. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	convs  []*chat.Conversation
	loaded bool

	backend    Backend
	open       OpenRef
	bus        *bus.Bus
	logger     *zap.Logger
	ackTimeout  time.Duration
	loadTimeout time.Duration

	group singleflight.Group
	acks  sync.WaitGroup
}

// New creates an empty store. open may be nil when nothing can be open.
func New(backend Backend, open OpenRef, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:     backend,
		open:        open,
		bus:         b,
		logger:      logger,
		ackTimeout:  DefaultAckTimeout,
		loadTimeout: DefaultLoadTimeout,
	}
}

// Load replaces the whole list with the backend's. Concurrent calls share one
// request, which is detached from the first caller's cancellation and bounded
// by its own timeout. A caller whose ctx ends stops waiting without failing
// the others. Errors are returned as is; there is no retry.
//
// A load whose response predates a push applied meanwhile overwrites that
// push's last message and unread count; the next load or push corrects it.
func (s *Store) Load(ctx context.Context) error {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan("load", func() (any, error) {
		ctx, cancel := context.WithTimeout(shared, s.loadTimeout)
		defer cancel()
		convs, err := s.backend.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		list := make([]*chat.Conversation, 0, len(convs))
		for i := range convs {
			c := clone(&convs[i])
			if c.UnreadCount < 0 {
				c.UnreadCount = 0
			}
			list = append(list, c)
		}

		s.mu.Lock()
		s.convs = list
		s.loaded = true
		s.mu.Unlock()

		s.logger.Info("conversations loaded", zap.Int("count", len(list)))
		s.bus.Emit(bus.ConversationsLoaded, len(list))
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loaded reports whether at least one Load succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// ApplyIncomingMessage folds a pushed message into the list. A message for a
// conversation the store does not know triggers a full reload instead.
// Otherwise the conversation moves to the front, its last message and
// activity time are replaced, and its unread counter grows by one unless it
// is the open conversation.
func (s *Store) ApplyIncomingMessage(ctx context.Context, in chat.IncomingMessage) error {
	id := in.ConversationID
	if id == "" {
		id = in.Message.ConversationID
	}
	if id == "" {
		return fmt.Errorf("incoming message %s: missing conversation id", in.Message.ID)
	}
	open := s.openID()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Debug("message for unknown conversation, reloading", zap.String("conversation", id))
		return s.Load(ctx)
	}

	c := s.convs[idx]
	msg := in.Message
	if msg.ConversationID == "" {
		msg.ConversationID = id
	}
	c.LastMessage = &msg
	c.LastMessageAt = msg.CreatedAt
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = time.Now()
	}
	if id != open {
		c.UnreadCount++
	}
	copy(s.convs[1:idx+1], s.convs[:idx])
	s.convs[0] = c
	snap := *clone(c)
	s.mu.Unlock()

	s.bus.Emit(bus.ConversationUpdated, snap)
	return nil
}

// MarkRead zeroes the unread counter locally and acknowledges the read to
// the backend without waiting. A failed acknowledgement is logged and the
// local counter stays zero.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := s.convs[idx]
	changed := c.UnreadCount != 0
	c.UnreadCount = 0
	snap := *clone(c)
	s.mu.Unlock()

	if changed {
		s.bus.Emit(bus.ConversationUpdated, snap)
	}

	ackCtx := context.WithoutCancel(ctx)
	s.acks.Add(1)
	go func() {
		defer s.acks.Done()
		ctx, cancel := context.WithTimeout(ackCtx, s.ackTimeout)
		defer cancel()
		if err := s.backend.MarkRead(ctx, id); err != nil {
			s.logger.Warn("read acknowledgement failed", zap.String("conversation", id), zap.Error(err))
			return
		}
		s.bus.Emit(bus.ConversationReadSent, id)
	}()
	return nil
}

// Wait blocks until outstanding read acknowledgements have finished.
func (s *Store) Wait() {
	s.acks.Wait()
}

// List returns a snapshot of the conversations, most recent first.
func (s *Store) List() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = *clone(c)
	}
	return out
}

// Filter returns copies of the conversations whose other participant's
// "first last" name contains query, ignoring case. An empty query matches all.
func (s *Store) Filter(query string) []chat.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.List()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		name := strings.ToLower(c.OtherParticipant.FirstName + " " + c.OtherParticipant.LastName)
		if strings.Contains(name, q) {
			out = append(out, *clone(c))
		}
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return chat.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *clone(s.convs[idx]), nil
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// TotalUnread sums the unread counters of all conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.convs {
		n += c.UnreadCount
	}
	return n
}

func (s *Store) openID() string {
	if s.open == nil {
		return ""
	}
	return s.open.OpenConversation()
}

func (s *Store) indexLocked(id string) int {
	for i, c := range s.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func clone(c *chat.Conversation) *chat.Conversation {
	out := *c
	if c.Participants != nil {
		out.Participants = append([]chat.Profile(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return &out
}
