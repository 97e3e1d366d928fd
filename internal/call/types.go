package call

import (
	"errors"
	"time"

	"github.com/matheus3301/tlk/internal/chat"
)

var (
	ErrBusy       = errors.New("call: another call is in progress")
	ErrNotRinging = errors.New("call: no call is ringing")
	ErrIdle       = errors.New("call: no active call")
)

// Status is the phase of the call session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusEnded      Status = "ended"
)

// Reason explains how a call reached the ended state.
type Reason string

const (
	ReasonHangup       Reason = "hangup"
	ReasonRemoteHangup Reason = "remote_hangup"
	ReasonRejected     Reason = "rejected"
	ReasonDeclined     Reason = "declined"
	ReasonBusy         Reason = "busy"
	ReasonTimeout      Reason = "timeout"
	ReasonMissed       Reason = "missed"
)

// Party identifies the other side of a call, or the caller inside an invite.
type Party struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Username string `json:"username,omitempty"`
}

// PartyFromProfile converts a user profile.
func PartyFromProfile(p chat.Profile) Party {
	return Party{ID: p.ID, Name: p.DisplayName(), Avatar: p.Avatar, Username: p.Username}
}

// SignalType names a call signal. The values are the event names used on
// the wire.
type SignalType string

const (
	SignalInvite SignalType = "call:invite"
	SignalAccept SignalType = "call:accept"
	SignalReject SignalType = "call:reject"
	SignalEnd    SignalType = "call:end"
	SignalBusy   SignalType = "call:busy"
)

// Payload is the data carried by a signal. Only invites carry the caller and
// the video flag.
type Payload struct {
	CallID  string `json:"callId,omitempty"`
	From    string `json:"from,omitempty"`
	Caller  *Party `json:"caller,omitempty"`
	IsVideo bool   `json:"isVideo,omitempty"`
}

// Signal is a call control message received from the remote party.
type Signal struct {
	Type SignalType
	Payload
}

// sender returns the id of the party that sent the signal, if known.
func (s Signal) sender() string {
	if s.From != "" {
		return s.From
	}
	if s.Caller != nil {
		return s.Caller.ID
	}
	return ""
}

// Config holds the call timings.
type Config struct {
	// AcceptDelay is the time from accepting an incoming call to connected.
	AcceptDelay time.Duration
	// ConnectDelay is the time from the remote accept to connected.
	ConnectDelay time.Duration
	// EndedWindow is how long the ended state is shown before idle.
	EndedWindow time.Duration
	// RingTimeout ends an unanswered ring. Zero disables it.
	RingTimeout time.Duration
	// SignalBusy answers invites received during a call with call:busy.
	SignalBusy bool
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		AcceptDelay:  1500 * time.Millisecond,
		ConnectDelay: time.Second,
		EndedWindow:  2 * time.Second,
		RingTimeout:  45 * time.Second,
		SignalBusy:   true,
	}
}

// Snapshot is a copy of the call session.
type Snapshot struct {
	Status         Status    `json:"status"`
	Incoming       bool      `json:"incoming"`
	Remote         Party     `json:"remote"`
	Video          bool      `json:"video"`
	CallID         string    `json:"callId,omitempty"`
	RangAt         time.Time `json:"rangAt,omitzero"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
	EndedAt        time.Time `json:"endedAt,omitzero"`
	MicEnabled     bool      `json:"micEnabled"`
	CamEnabled     bool      `json:"camEnabled"`
	HasLocalMedia  bool      `json:"hasLocalMedia"`
	HasRemoteMedia bool      `json:"hasRemoteMedia"`
	Reason         Reason    `json:"reason,omitempty"`
}

// Active reports whether the snapshot describes a call that is not idle.
func (s Snapshot) Active() bool {
	return s.Status != StatusIdle
}

// Duration is the connected time of a call, zero if it never connected.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}
