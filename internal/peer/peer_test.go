package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmedia/internal/capture"
)

// fakeTrack is a minimal capture.Track for attaching to fake connections.
type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Enabled() bool             { return true }
func (t *fakeTrack) SetEnabled(bool)           {}
func (t *fakeTrack) OnEnded(func(error))       {}
func (t *fakeTrack) Stop() error               { return nil }
func (t *fakeTrack) NewRTPReader(string, uint32, int) (capture.RTPReadCloser, error) {
	return nil, errors.New("no packet source")
}

type fakeSender struct {
	mu    sync.Mutex
	track capture.Track
	err   error
}

func (s *fakeSender) Track() capture.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t capture.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.track = t
	return nil
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeRemoteTrack) ID() string                { return t.id }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakeConn records observers so tests can drive connection callbacks.
type fakeConn struct {
	mu      sync.Mutex
	senders []*fakeSender
	closed  bool

	offerErr error

	onTrack func(RemoteTrack)
	onCand  func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)

	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
}

func (c *fakeConn) AddTrack(t capture.Track) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDescs = append(c.remoteDescs, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) OnTrack(fn func(RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	return webrtc.SignalingStateStable
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) fireState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *fakeConn) fireTrack(rt RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(rt)
	}
}

func (c *fakeConn) fireCandidate(cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCand
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

// fakeFactory hands out fakeConns, optionally failing after a budget.
type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failAll bool
}

func (f *fakeFactory) NewConn() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) setFailAll(fail bool) {
	f.mu.Lock()
	f.failAll = fail
	f.mu.Unlock()
}

// fakeSignal records outbound signaling.
type fakeSignal struct {
	mu      sync.Mutex
	descs   []webrtc.SessionDescription
	cands   []webrtc.ICECandidateInit
	descErr error
}

func (s *fakeSignal) SendDescription(_ context.Context, _ string, desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descErr != nil {
		return s.descErr
	}
	s.descs = append(s.descs, desc)
	return nil
}

func (s *fakeSignal) SendCandidate(_ context.Context, _ string, cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cands = append(s.cands, cand)
	return nil
}

func (s *fakeSignal) descCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.descs)
}

func (s *fakeSignal) candCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cands)
}
