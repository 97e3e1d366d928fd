package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/messenger"
	"github.com/matheus3301/tlk/internal/store"
	"github.com/matheus3301/tlk/internal/timeline"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// DefaultWatchNamespaces are streamed by WatchEvents when the request names
// none.
var DefaultWatchNamespaces = []string{"message.", "timeline.", "notify.", "conversation.", "session."}

// Starter opens a conversation with another user.
type Starter interface {
	StartConversation(ctx context.Context, recipientID string) (chat.Conversation, error)
}

// ConversationService implements the ConversationService gRPC service.
type ConversationService struct {
	sessionName string
	inbox       *inbox.Store
	timeline    *timeline.Timeline
	messenger   *messenger.Messenger
	starter     Starter
	db          *store.DB
	bus         *bus.Bus
}

// NewConversationService creates the service. db may be nil, in which case
// Search is unavailable.
func NewConversationService(sessionName string, in *inbox.Store, tl *timeline.Timeline, m *messenger.Messenger, starter Starter, db *store.DB, b *bus.Bus) *ConversationService {
	return &ConversationService{
		sessionName: sessionName,
		inbox:       in,
		timeline:    tl,
		messenger:   m,
		starter:     starter,
		db:          db,
		bus:         b,
	}
}

func (s *ConversationService) ListConversations(_ context.Context, req *tlkv1.ListConversationsRequest) (*tlkv1.ListConversationsResponse, error) {
	return s.list(req.Query), nil
}

func (s *ConversationService) Reload(ctx context.Context, req *tlkv1.ListConversationsRequest) (*tlkv1.ListConversationsResponse, error) {
	if err := s.inbox.Load(ctx); err != nil {
		return nil, toStatus("reload conversations", err)
	}
	return s.list(req.Query), nil
}

func (s *ConversationService) Start(ctx context.Context, req *tlkv1.StartConversationRequest) (*tlkv1.ConversationResponse, error) {
	if req.RecipientID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "recipient id is required")
	}
	if s.starter == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "backend not configured")
	}
	c, err := s.starter.StartConversation(ctx, req.RecipientID)
	if err != nil {
		return nil, toStatus("start conversation", err)
	}
	if _, err := s.inbox.Get(c.ID); err != nil {
		if err := s.inbox.Load(ctx); err != nil {
			return nil, toStatus("reload conversations", err)
		}
	}
	return &tlkv1.ConversationResponse{Conversation: c}, nil
}

func (s *ConversationService) Open(ctx context.Context, req *tlkv1.ConversationRequest) (*tlkv1.TimelineResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversation id is required")
	}
	if err := s.messenger.Open(ctx, req.ConversationID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return &tlkv1.TimelineResponse{Timeline: s.timeline.View()}, nil
}

func (s *ConversationService) Close(_ context.Context, _ *tlkv1.Empty) (*tlkv1.Empty, error) {
	s.messenger.Close()
	return &tlkv1.Empty{}, nil
}

func (s *ConversationService) GetTimeline(_ context.Context, _ *tlkv1.Empty) (*tlkv1.TimelineResponse, error) {
	return &tlkv1.TimelineResponse{Timeline: s.timeline.View()}, nil
}

func (s *ConversationService) Send(ctx context.Context, req *tlkv1.SendRequest) (*tlkv1.SendResponse, error) {
	kind := req.Kind
	if kind == "" {
		kind = chat.KindText
	}
	m, err := s.messenger.Send(ctx, chat.Draft{
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Kind:           kind,
		MediaURL:       req.MediaURL,
	})
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &tlkv1.SendResponse{Message: m}, nil
}

func (s *ConversationService) MarkRead(ctx context.Context, req *tlkv1.ConversationRequest) (*tlkv1.Empty, error) {
	if err := s.inbox.MarkRead(ctx, req.ConversationID); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &tlkv1.Empty{}, nil
}

func (s *ConversationService) Search(_ context.Context, req *tlkv1.SearchRequest) (*tlkv1.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "archive not available")
	}
	results, err := s.db.SearchMessages(req.Query, req.ConversationID, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}

	resp := &tlkv1.SearchResponse{Results: make([]tlkv1.SearchResult, 0, len(results))}
	for _, r := range results {
		resp.Results = append(resp.Results, tlkv1.SearchResult{Message: r.Message, Snippet: r.Snippet})
	}
	return resp, nil
}

func (s *ConversationService) WatchEvents(req *tlkv1.WatchEventsRequest, stream grpc.ServerStreamingServer[tlkv1.EventEnvelope]) error {
	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		namespaces = DefaultWatchNamespaces
	}
	ch, unsub := s.bus.Subscribe(256, namespaces...)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				payload = nil
			}
			if err := stream.Send(&tlkv1.EventEnvelope{
				EventID:          uuid.New().String(),
				Session:          s.sessionName,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// list filters by query; TotalUnread always covers every conversation.
func (s *ConversationService) list(query string) *tlkv1.ListConversationsResponse {
	return &tlkv1.ListConversationsResponse{
		Conversations: s.inbox.Filter(query),
		TotalUnread:   s.inbox.TotalUnread(),
	}
}
