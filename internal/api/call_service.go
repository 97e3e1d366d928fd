package api

import (
	"context"

	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// CallService implements the CallService gRPC service.
type CallService struct {
	machine *call.Machine
	inbox   *inbox.Store
	db      *store.DB
}

// NewCallService creates the service. in is used to resolve recipient
// profiles and db serves the call log; both may be nil.
func NewCallService(machine *call.Machine, in *inbox.Store, db *store.DB) *CallService {
	return &CallService{machine: machine, inbox: in, db: db}
}

func (s *CallService) GetCall(_ context.Context, _ *tlkv1.Empty) (*tlkv1.CallResponse, error) {
	return &tlkv1.CallResponse{Call: s.machine.Snapshot()}, nil
}

func (s *CallService) StartCall(ctx context.Context, req *tlkv1.StartCallRequest) (*tlkv1.CallResponse, error) {
	if req.RecipientID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "recipient id is required")
	}
	snap, err := s.machine.StartCall(ctx, req.Video, s.recipient(req))
	if err != nil {
		return nil, toStatus("start call", err)
	}
	return &tlkv1.CallResponse{Call: snap}, nil
}

func (s *CallService) AcceptCall(ctx context.Context, _ *tlkv1.Empty) (*tlkv1.CallResponse, error) {
	snap, err := s.machine.AcceptCall(ctx)
	if err != nil {
		return nil, toStatus("accept call", err)
	}
	return &tlkv1.CallResponse{Call: snap}, nil
}

func (s *CallService) RejectCall(ctx context.Context, _ *tlkv1.Empty) (*tlkv1.CallResponse, error) {
	if err := s.machine.RejectCall(ctx); err != nil {
		return nil, toStatus("reject call", err)
	}
	return &tlkv1.CallResponse{Call: s.machine.Snapshot()}, nil
}

func (s *CallService) EndCall(ctx context.Context, _ *tlkv1.Empty) (*tlkv1.CallResponse, error) {
	if err := s.machine.EndCall(ctx); err != nil {
		return nil, toStatus("end call", err)
	}
	return &tlkv1.CallResponse{Call: s.machine.Snapshot()}, nil
}

func (s *CallService) ToggleMic(_ context.Context, _ *tlkv1.Empty) (*tlkv1.ToggleResponse, error) {
	on, err := s.machine.ToggleMic()
	if err != nil {
		return nil, toStatus("toggle microphone", err)
	}
	return &tlkv1.ToggleResponse{Enabled: on}, nil
}

func (s *CallService) ToggleCam(_ context.Context, _ *tlkv1.Empty) (*tlkv1.ToggleResponse, error) {
	on, err := s.machine.ToggleCam()
	if err != nil {
		return nil, toStatus("toggle camera", err)
	}
	return &tlkv1.ToggleResponse{Enabled: on}, nil
}

func (s *CallService) ListCalls(_ context.Context, req *tlkv1.ListCallsRequest) (*tlkv1.ListCallsResponse, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "archive not available")
	}
	recs, err := s.db.ListCalls(req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list calls: %v", err)
	}
	resp := &tlkv1.ListCallsResponse{Calls: make([]tlkv1.CallEntry, 0, len(recs))}
	for _, r := range recs {
		resp.Calls = append(resp.Calls, tlkv1.CallEntry{
			CallID:     r.CallID,
			PeerID:     r.PeerID,
			PeerName:   r.PeerName,
			Incoming:   r.Incoming,
			Video:      r.Video,
			RangAt:     r.RangAt,
			DurationMs: r.Duration().Milliseconds(),
			Outcome:    r.Outcome,
		})
	}
	return resp, nil
}

func (s *CallService) WatchCall(_ *tlkv1.Empty, stream grpc.ServerStreamingServer[tlkv1.CallResponse]) error {
	ch, unsub := s.machine.Subscribe(16)
	defer unsub()

	for {
		select {
		case snap := <-ch:
			if err := stream.Send(&tlkv1.CallResponse{Call: snap}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// recipient fills in the display profile of the callee from the conversation
// list when the request only carries an id.
func (s *CallService) recipient(req *tlkv1.StartCallRequest) call.Party {
	p := call.Party{ID: req.RecipientID, Name: req.Name}
	if p.Name != "" || s.inbox == nil {
		return p
	}
	for _, c := range s.inbox.List() {
		if c.OtherParticipant.ID == req.RecipientID {
			return call.PartyFromProfile(c.OtherParticipant)
		}
		for _, u := range c.Participants {
			if u.ID == req.RecipientID {
				return call.PartyFromProfile(u)
			}
		}
	}
	return p
}
