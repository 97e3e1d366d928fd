// Package media models locally captured audio/video as tracks with an enabled
// flag and a stop lifecycle. No media is transported: a call connects only at
// the signaling layer.
package media

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrNoDevice         = errors.New("media: no capture device")
)

// TrackKind is the kind of a captured track.
type TrackKind string

const (
	Audio TrackKind = "audio"
	Video TrackKind = "video"
)

// Track is a single captured input.
type Track struct {
	mu      sync.Mutex
	kind    TrackKind
	enabled bool
	stopped bool
}

func newTrack(kind TrackKind) *Track {
	return &Track{kind: kind, enabled: true}
}

func (t *Track) Kind() TrackKind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

// Stop releases the device. Stopping twice is harmless.
func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream groups the tracks acquired together.
type Stream struct {
	tracks []*Track
}

// NewStream builds a stream out of tracks; mostly useful for fakes.
func NewStream(tracks ...*Track) *Stream {
	return &Stream{tracks: tracks}
}

// Tracks returns the tracks of the given kind.
func (s *Stream) Tracks(kind TrackKind) []*Track {
	if s == nil {
		return nil
	}
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// All returns every track in the stream.
func (s *Stream) All() []*Track {
	if s == nil {
		return nil
	}
	return s.tracks
}

// SetEnabled flips the enabled flag of all tracks of one kind.
func (s *Stream) SetEnabled(kind TrackKind, v bool) {
	for _, t := range s.Tracks(kind) {
		t.SetEnabled(v)
	}
}

// Stop stops every track. Safe on a nil stream.
func (s *Stream) Stop() {
	for _, t := range s.All() {
		t.Stop()
	}
}

// Stopped reports whether all tracks are stopped.
func (s *Stream) Stopped() bool {
	for _, t := range s.All() {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

// Constraints selects which inputs to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Devices acquires local capture streams.
type Devices interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// StaticDevices grants or denies capture according to fixed availability,
// typically taken from configuration.
type StaticDevices struct {
	Microphone bool
	Camera     bool
}

// Acquire implements Devices.
func (d StaticDevices) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tracks []*Track
	if c.Audio {
		if !d.Microphone {
			return nil, ErrPermissionDenied
		}
		tracks = append(tracks, newTrack(Audio))
	}
	if c.Video {
		if !d.Camera {
			return nil, ErrPermissionDenied
		}
		tracks = append(tracks, newTrack(Video))
	}
	if len(tracks) == 0 {
		return nil, ErrNoDevice
	}
	return NewStream(tracks...), nil
}

// NewTrack returns an enabled, running track.
func NewTrack(kind TrackKind) *Track {
	return newTrack(kind)
}
