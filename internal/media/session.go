// Package media owns local capture: acquiring the camera/microphone session,
// opening display capture and swapping outgoing tracks across live peer
// sessions.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmedia/internal/capture"
)

// Session is the currently open local capture: zero or more live tracks.
// Exactly one Session is live per controller; replacing it stops the previous
// tracks only after the new ones are confirmed open.
type Session struct {
	mu     sync.RWMutex
	tracks []capture.Track
}

func NewSession(tracks []capture.Track) *Session {
	return &Session{tracks: tracks}
}

// Tracks returns the live tracks.
func (s *Session) Tracks() []capture.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]capture.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// TrackOfKind returns the first track of the given kind.
func (s *Session) TrackOfKind(kind webrtc.RTPCodecType) (capture.Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t, true
		}
	}
	return nil, false
}

// SetEnabled flips the enabled flag on every track of the given kind.
func (s *Session) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

// ReplaceTrack swaps the session's track of t's kind for t, returning the
// replaced track if there was one. The caller is responsible for stopping it.
func (s *Session) ReplaceTrack(t capture.Track) (capture.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.tracks {
		if old.Kind() == t.Kind() {
			s.tracks[i] = t
			return old, true
		}
	}
	s.tracks = append(s.tracks, t)
	return nil, false
}

// StopAll stops every track. Stop is idempotent per track, so StopAll is safe
// to call repeatedly.
func (s *Session) StopAll() {
	for _, t := range s.Tracks() {
		_ = t.Stop()
	}
}
