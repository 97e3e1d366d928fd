// Package call implements the single call session of the daemon: a state
// machine driven by local commands and by signals from the remote party.
//
//	idle ──start──▶ ringing(out) ──accept sig──▶ connecting ──▶ connected
//	idle ──invite─▶ ringing(in)  ──accept────▶ connecting ──▶ connected
//	ringing ──reject / busy / timeout──▶ ended ──window──▶ idle
//	any non-idle ──end──▶ ended ──window──▶ idle
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/media"
	"go.uber.org/zap"
)

const signalTimeout = 10 * time.Second

// Signaler delivers a signal to another user.
type Signaler interface {
	SendSignal(ctx context.Context, targetID, signalType string, payload any) error
}

type session struct {
	status      Status
	incoming    bool
	remote      Party
	video       bool
	callID      string
	rangAt      time.Time
	startedAt   time.Time
	endedAt     time.Time
	local       *media.Stream
	remoteMedia *media.Stream
	mic         bool
	cam         bool
	reason      Reason
}

// Machine owns the call session. All methods are safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	cfg      Config
	self     Party
	sess     session
	starting bool
	gen      uint64
	timer    *time.Timer

	devices  media.Devices
	signaler Signaler
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time

	subs    map[int]chan Snapshot
	nextSub int
}

// NewMachine creates an idle machine.
func NewMachine(cfg Config, devices media.Devices, signaler Signaler, b *bus.Bus, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:      cfg,
		sess:     session{status: StatusIdle},
		devices:  devices,
		signaler: signaler,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[int]chan Snapshot),
	}
}

// SetSelf sets the identity announced in outgoing invites.
func (m *Machine) SetSelf(p Party) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = p
}

// Snapshot returns the current session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot on every change,
// starting with the current one, and a function that ends the subscription.
// A subscriber that falls behind misses intermediate snapshots.
func (m *Machine) Subscribe(bufSize int) (<-chan Snapshot, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Snapshot, bufSize)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// StartCall places an outgoing call. Local media is acquired first; if that
// fails the machine stays idle and no invite is sent.
func (m *Machine) StartCall(ctx context.Context, video bool, recipient Party) (Snapshot, error) {
	m.mu.Lock()
	if m.sess.status != StatusIdle || m.starting {
		m.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	m.starting = true
	m.mu.Unlock()

	stream, err := m.devices.Acquire(ctx, media.Constraints{Audio: true, Video: video})

	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("call media unavailable", zap.Bool("video", video), zap.Error(err))
		return Snapshot{}, fmt.Errorf("acquire media: %w", err)
	}
	if m.sess.status != StatusIdle {
		m.mu.Unlock()
		stream.Stop()
		return Snapshot{}, ErrBusy
	}

	now := m.now()
	m.sess = session{
		status: StatusRinging,
		remote: recipient,
		video:  video,
		callID: uuid.NewString(),
		rangAt: now,
		local:  stream,
		mic:    true,
		cam:    video,
	}
	self := m.self
	callID := m.sess.callID
	m.advanceLocked()
	if m.cfg.RingTimeout > 0 {
		m.scheduleLocked(m.cfg.RingTimeout, m.ringTimedOut)
	}
	snap := m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("call started", zap.String("call_id", callID), zap.String("to", recipient.ID), zap.Bool("video", video))
	m.send(ctx, recipient.ID, SignalInvite, Payload{CallID: callID, From: self.ID, Caller: &self, IsVideo: video})
	return snap, nil
}

// AcceptCall answers the ringing incoming call. If local media cannot be
// acquired the call is rejected and the machine returns to idle.
func (m *Machine) AcceptCall(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.sess.status != StatusRinging || !m.sess.incoming {
		m.mu.Unlock()
		return Snapshot{}, ErrNotRinging
	}
	gen := m.gen
	video := m.sess.video
	m.mu.Unlock()

	stream, err := m.devices.Acquire(ctx, media.Constraints{Audio: true, Video: video})

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		return Snapshot{}, ErrNotRinging
	}
	remote, callID, self := m.sess.remote, m.sess.callID, m.self.ID
	if err != nil {
		m.resetLocked()
		m.mu.Unlock()
		m.logger.Warn("call media unavailable, rejecting", zap.String("call_id", callID), zap.Error(err))
		m.send(ctx, remote.ID, SignalReject, Payload{CallID: callID, From: self})
		return Snapshot{}, fmt.Errorf("acquire media: %w", err)
	}

	m.sess.local = stream
	m.sess.mic = true
	m.sess.cam = video
	m.sess.status = StatusConnecting
	m.advanceLocked()
	m.scheduleLocked(m.cfg.AcceptDelay, m.connected)
	snap := m.publishLocked()
	m.mu.Unlock()

	m.send(ctx, remote.ID, SignalAccept, Payload{CallID: callID, From: self})
	return snap, nil
}

// RejectCall declines the ringing call and tells the remote party.
func (m *Machine) RejectCall(ctx context.Context) error {
	m.mu.Lock()
	if m.sess.status != StatusRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	remote, callID, self := m.sess.remote, m.sess.callID, m.self.ID
	m.endLocked(ReasonDeclined)
	m.mu.Unlock()

	m.send(ctx, remote.ID, SignalReject, Payload{CallID: callID, From: self})
	return nil
}

// EndCall hangs up. Local tracks stop immediately and the remote party is
// told. Ending a call that already ended is a no-op.
func (m *Machine) EndCall(ctx context.Context) error {
	m.mu.Lock()
	switch m.sess.status {
	case StatusIdle:
		m.mu.Unlock()
		return ErrIdle
	case StatusEnded:
		m.mu.Unlock()
		return nil
	}
	remote, callID, self := m.sess.remote, m.sess.callID, m.self.ID
	m.endLocked(ReasonHangup)
	m.mu.Unlock()

	m.send(ctx, remote.ID, SignalEnd, Payload{CallID: callID, From: self})
	return nil
}

// ToggleMic flips the microphone and returns the new state.
func (m *Machine) ToggleMic() (bool, error) {
	return m.toggle(media.Audio)
}

// ToggleCam flips the camera and returns the new state.
func (m *Machine) ToggleCam() (bool, error) {
	return m.toggle(media.Video)
}

func (m *Machine) toggle(kind media.TrackKind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.status == StatusIdle {
		return false, ErrIdle
	}
	flag := &m.sess.mic
	if kind == media.Video {
		flag = &m.sess.cam
	}
	*flag = !*flag
	m.sess.local.SetEnabled(kind, *flag)
	m.publishLocked()
	return *flag, nil
}

// AttachRemote records the remote party's media once a transport provides
// it. It is released when the machine returns to idle.
func (m *Machine) AttachRemote(stream *media.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.status != StatusConnecting && m.sess.status != StatusConnected {
		stream.Stop()
		return ErrIdle
	}
	m.sess.remoteMedia.Stop()
	m.sess.remoteMedia = stream
	m.publishLocked()
	return nil
}

// HandleSignal applies a signal from the remote party. Signals that do not
// fit the current state or belong to another call are dropped.
func (m *Machine) HandleSignal(ctx context.Context, sig Signal) {
	m.mu.Lock()
	if sig.Type == SignalInvite {
		m.inviteLocked(ctx, sig)
		return
	}
	if !m.matchesLocked(sig) {
		status := m.sess.status
		m.mu.Unlock()
		m.logger.Debug("call signal ignored", zap.String("type", string(sig.Type)), zap.String("call_id", sig.CallID), zap.String("status", string(status)))
		return
	}

	switch sig.Type {
	case SignalAccept:
		if m.sess.status == StatusRinging && !m.sess.incoming {
			m.sess.status = StatusConnecting
			m.advanceLocked()
			m.scheduleLocked(m.cfg.ConnectDelay, m.connected)
			m.publishLocked()
		}
	case SignalReject:
		if m.sess.status == StatusRinging {
			m.endLocked(ReasonRejected)
		}
	case SignalBusy:
		if m.sess.status == StatusRinging && !m.sess.incoming {
			m.endLocked(ReasonBusy)
		}
	case SignalEnd:
		if m.sess.status != StatusEnded {
			m.endLocked(ReasonRemoteHangup)
		}
	}
	m.mu.Unlock()
}

// inviteLocked handles call:invite and releases the lock.
func (m *Machine) inviteLocked(ctx context.Context, sig Signal) {
	caller := Party{ID: sig.From}
	if sig.Caller != nil {
		caller = *sig.Caller
		if caller.ID == "" {
			caller.ID = sig.From
		}
	}

	if m.sess.status != StatusIdle || m.starting {
		duplicate := sig.CallID != "" && sig.CallID == m.sess.callID
		self := m.self.ID
		signalBusy := m.cfg.SignalBusy
		m.mu.Unlock()
		if duplicate {
			return
		}
		m.logger.Info("invite dropped while busy", zap.String("from", caller.ID), zap.String("call_id", sig.CallID))
		if signalBusy && caller.ID != "" {
			m.send(ctx, caller.ID, SignalBusy, Payload{CallID: sig.CallID, From: self})
		}
		return
	}

	m.sess = session{
		status:   StatusRinging,
		incoming: true,
		remote:   caller,
		video:    sig.IsVideo,
		callID:   sig.CallID,
		rangAt:   m.now(),
	}
	m.advanceLocked()
	if m.cfg.RingTimeout > 0 {
		m.scheduleLocked(m.cfg.RingTimeout, m.ringTimedOut)
	}
	m.publishLocked()
	m.mu.Unlock()
	m.logger.Info("incoming call", zap.String("from", caller.ID), zap.String("call_id", sig.CallID), zap.Bool("video", sig.IsVideo))
}

// Close cancels pending timers and releases media without signalling.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess.status != StatusIdle {
		m.resetLocked()
	}
	m.stopTimerLocked()
}

func (m *Machine) matchesLocked(sig Signal) bool {
	if m.sess.status == StatusIdle {
		return false
	}
	if sig.CallID != "" && m.sess.callID != "" && sig.CallID != m.sess.callID {
		return false
	}
	if from := sig.sender(); from != "" && m.sess.remote.ID != "" && from != m.sess.remote.ID {
		return false
	}
	return true
}

// connected is the timer callback for connecting → connected.
func (m *Machine) connected(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.sess.status != StatusConnecting {
		return
	}
	m.sess.status = StatusConnected
	m.sess.startedAt = m.now()
	m.advanceLocked()
	m.publishLocked()
	m.logger.Info("call connected", zap.String("call_id", m.sess.callID))
}

func (m *Machine) ringTimedOut(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.sess.status != StatusRinging {
		m.mu.Unlock()
		return
	}
	if m.sess.incoming {
		m.endLocked(ReasonMissed)
		m.mu.Unlock()
		return
	}
	remote, callID, self := m.sess.remote, m.sess.callID, m.self.ID
	m.endLocked(ReasonTimeout)
	m.mu.Unlock()

	m.send(context.Background(), remote.ID, SignalEnd, Payload{CallID: callID, From: self})
}

func (m *Machine) endedWindowElapsed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.sess.status != StatusEnded {
		return
	}
	m.resetLocked()
}

// endLocked stops local tracks, enters ended and schedules the return to idle.
func (m *Machine) endLocked(reason Reason) {
	m.sess.local.Stop()
	m.sess.status = StatusEnded
	m.sess.reason = reason
	m.sess.endedAt = m.now()
	m.advanceLocked()
	m.scheduleLocked(m.cfg.EndedWindow, m.endedWindowElapsed)
	m.publishLocked()
	m.logger.Info("call ended", zap.String("call_id", m.sess.callID), zap.String("reason", string(reason)))
}

// resetLocked releases every media handle and returns to idle.
func (m *Machine) resetLocked() {
	m.sess.local.Stop()
	m.sess.remoteMedia.Stop()
	m.sess = session{status: StatusIdle}
	m.advanceLocked()
	m.publishLocked()
}

// advanceLocked starts a new generation, invalidating pending timers.
func (m *Machine) advanceLocked() {
	m.gen++
	m.stopTimerLocked()
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) scheduleLocked(d time.Duration, fn func(gen uint64)) {
	gen := m.gen
	m.timer = time.AfterFunc(d, func() { fn(gen) })
}

func (m *Machine) snapshotLocked() Snapshot {
	s := m.sess
	return Snapshot{
		Status:         s.status,
		Incoming:       s.incoming,
		Remote:         s.remote,
		Video:          s.video,
		CallID:         s.callID,
		RangAt:         s.rangAt,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		MicEnabled:     s.mic,
		CamEnabled:     s.cam,
		HasLocalMedia:  s.local != nil && !s.local.Stopped(),
		HasRemoteMedia: s.remoteMedia != nil && !s.remoteMedia.Stopped(),
		Reason:         s.reason,
	}
}

// publishLocked fans the current snapshot out to subscribers and the bus.
// Sends never block; a full subscriber loses its oldest snapshot so the
// latest one always arrives.
func (m *Machine) publishLocked() Snapshot {
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
	m.bus.Emit(bus.CallStateChanged, snap)
	return snap
}

// send delivers a signal outside the lock. Failures are logged and do not
// roll back the state.
func (m *Machine) send(ctx context.Context, targetID string, typ SignalType, p Payload) {
	if m.signaler == nil || targetID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
	defer cancel()
	if err := m.signaler.SendSignal(ctx, targetID, string(typ), p); err != nil {
		m.logger.Warn("call signal failed", zap.String("type", string(typ)), zap.String("to", targetID), zap.Error(err))
	}
}
