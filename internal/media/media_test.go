package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmedia/internal/capture"
)

// fakeTrack implements capture.Track for tests.
type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	stops   int
	onEnded func(error)
}

func newFakeTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) OnEnded(handler func(error)) {
	t.mu.Lock()
	t.onEnded = handler
	t.mu.Unlock()
}

func (t *fakeTrack) endNow() {
	t.mu.Lock()
	handler := t.onEnded
	t.mu.Unlock()
	if handler != nil {
		handler(errors.New("track ended"))
	}
}

func (t *fakeTrack) NewRTPReader(string, uint32, int) (capture.RTPReadCloser, error) {
	return nil, errors.New("fake track has no packet source")
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

// fakeProvider hands out preconfigured tracks.
type fakeProvider struct {
	mu sync.Mutex

	userErr    error
	displayErr error

	// next tracks returned by the respective open call
	userTracks    func(c capture.StreamConstraints) []capture.Track
	displayTracks func(c capture.StreamConstraints) []capture.Track

	lastUserConstraints capture.StreamConstraints
}

func (f *fakeProvider) EnumerateDevices() ([]capture.Descriptor, error) {
	return nil, nil
}

func (f *fakeProvider) OpenUserMedia(_ context.Context, c capture.StreamConstraints) ([]capture.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUserConstraints = c
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.userTracks == nil {
		return nil, nil
	}
	return f.userTracks(c), nil
}

func (f *fakeProvider) OpenDisplayMedia(_ context.Context, c capture.StreamConstraints) ([]capture.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.displayErr != nil {
		return nil, f.displayErr
	}
	if f.displayTracks == nil {
		return nil, nil
	}
	return f.displayTracks(c), nil
}

func (f *fakeProvider) OnDeviceChange(func()) func() {
	return func() {}
}

// fakeReplacer records ReplaceOutgoingTrack calls.
type fakeReplacer struct {
	mu       sync.Mutex
	err      error
	replaced []capture.Track
}

func (f *fakeReplacer) ReplaceOutgoingTrack(kind webrtc.RTPCodecType, t capture.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replaced = append(f.replaced, t)
	return nil
}

func (f *fakeReplacer) last() capture.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replaced) == 0 {
		return nil
	}
	return f.replaced[len(f.replaced)-1]
}
