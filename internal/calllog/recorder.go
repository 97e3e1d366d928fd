// Package calllog persists finished calls.
package calllog

import (
	"context"
	"sync"

	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/store"
	"go.uber.org/zap"
)

// Source publishes call snapshots.
type Source interface {
	Subscribe(bufSize int) (<-chan call.Snapshot, func())
}

// Log stores call records.
type Log interface {
	RecordCall(r *store.CallRecord) error
}

// Recorder writes one record per call that reaches the ended state.
type Recorder struct {
	source Source
	log    Log
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecorder(source Source, log Log, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{source: source, log: log, logger: logger}
}

// Start follows the call machine until Stop or ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	snaps, unsub := r.source.Subscribe(16)

	go func() {
		defer close(r.done)
		defer unsub()
		var last string
		for {
			select {
			case s := <-snaps:
				if s.Status != call.StatusEnded || s.CallID == "" || s.CallID == last {
					continue
				}
				last = s.CallID
				r.record(s)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription and waits for the follower to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Recorder) record(s call.Snapshot) {
	rec := Record(s)
	if err := r.log.RecordCall(&rec); err != nil {
		r.logger.Warn("record call failed", zap.String("call_id", s.CallID), zap.Error(err))
		return
	}
	r.logger.Debug("call recorded", zap.String("call_id", s.CallID), zap.String("outcome", rec.Outcome))
}

// Record converts an ended snapshot into a call log entry.
func Record(s call.Snapshot) store.CallRecord {
	rang := s.RangAt
	if rang.IsZero() {
		rang = s.EndedAt
	}
	return store.CallRecord{
		CallID:    s.CallID,
		PeerID:    s.Remote.ID,
		PeerName:  s.Remote.Name,
		Incoming:  s.Incoming,
		Video:     s.Video,
		RangAt:    rang,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Outcome:   string(s.Reason),
	}
}
