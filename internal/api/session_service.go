package api

import (
	"context"
	"time"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/status"
	"github.com/matheus3301/tlk/internal/store"
)

// SelfSource returns the signed-in profile once it is known.
type SelfSource interface {
	Self() chat.Profile
}

// SessionService implements the SessionService gRPC service.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	self        SelfSource
	inbox       *inbox.Store
	db          *store.DB
}

// NewSessionService creates a new session service. self, in and db may be
// nil; their counters are then reported as zero.
func NewSessionService(sessionName string, machine *status.Machine, self SelfSource, in *inbox.Store, db *store.DB) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		self:        self,
		inbox:       in,
		db:          db,
	}
}

func (s *SessionService) GetStatus(_ context.Context, _ *tlkv1.Empty) (*tlkv1.StatusResponse, error) {
	resp := &tlkv1.StatusResponse{
		Session:  s.sessionName,
		Status:   string(s.machine.Current()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}

	if s.self != nil {
		p := s.self.Self()
		resp.ProfileID = p.ID
		resp.ProfileName = p.DisplayName()
	}
	if s.inbox != nil {
		resp.ConversationCount = s.inbox.Len()
		resp.UnreadCount = s.inbox.TotalUnread()
	}
	if s.db != nil {
		if n, err := s.db.MessageCount(); err == nil {
			resp.MessageCount = n
		}
	}

	return resp, nil
}
