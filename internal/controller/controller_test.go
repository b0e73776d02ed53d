package controller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/config"
	"github.com/classmesh/classmedia/internal/peer"
	"github.com/classmesh/classmedia/internal/recorder"
	"github.com/classmesh/classmedia/internal/roster"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

type blockingReader struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{})}
}

func (r *blockingReader) Read() ([]*rtp.Packet, func(), error) {
	<-r.closed
	return nil, nil, io.EOF
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType

	mu      sync.Mutex
	enabled bool
	stops   int
}

func newTrack(id string, kind webrtc.RTPCodecType) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) OnEnded(func(error))       {}

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

func (t *fakeTrack) NewRTPReader(string, uint32, int) (capture.RTPReadCloser, error) {
	return newBlockingReader(), nil
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

type fakeProvider struct {
	gate chan struct{} // when set, OpenUserMedia blocks until it closes

	mu      sync.Mutex
	userErr error
	opened  [][]capture.Track
}

func (f *fakeProvider) EnumerateDevices() ([]capture.Descriptor, error) {
	return []capture.Descriptor{
		{ID: "cam-1", Label: "Camera", Kind: capture.VideoInput},
		{ID: "mic-1", Label: "Microphone", Kind: capture.AudioInput},
	}, nil
}

func (f *fakeProvider) OpenUserMedia(_ context.Context, c capture.StreamConstraints) ([]capture.Track, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	var tracks []capture.Track
	if c.Video != nil {
		tracks = append(tracks, newTrack("cam", webrtc.RTPCodecTypeVideo))
	}
	if c.Audio != nil {
		tracks = append(tracks, newTrack("mic", webrtc.RTPCodecTypeAudio))
	}
	f.opened = append(f.opened, tracks)
	return tracks, nil
}

func (f *fakeProvider) OpenDisplayMedia(context.Context, capture.StreamConstraints) ([]capture.Track, error) {
	return []capture.Track{newTrack("screen", webrtc.RTPCodecTypeVideo)}, nil
}

func (f *fakeProvider) OnDeviceChange(func()) func() { return func() {} }

func (f *fakeProvider) firstOpened() []capture.Track {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[0]
}

func (f *fakeProvider) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeConn struct {
	mu      sync.Mutex
	onState func(webrtc.PeerConnectionState)
	closed  bool
}

func (c *fakeConn) AddTrack(t capture.Track) (peer.Sender, error) {
	return &fakeSender{track: t}, nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (c *fakeConn) OnTrack(func(peer.RemoteTrack))                       {}
func (c *fakeConn) OnICECandidate(func(webrtc.ICECandidateInit))         {}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) GetStats() webrtc.StatsReport { return webrtc.StatsReport{} }

func (c *fakeConn) SignalingState() webrtc.SignalingState { return webrtc.SignalingStateStable }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) fireState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

type fakeSender struct {
	mu    sync.Mutex
	track capture.Track
}

func (s *fakeSender) Track() capture.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t capture.Track) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConn() (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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

type fakeSignal struct{}

func (fakeSignal) SendDescription(context.Context, string, webrtc.SessionDescription) error {
	return nil
}

func (fakeSignal) SendCandidate(context.Context, string, webrtc.ICECandidateInit) error {
	return nil
}

func newTestController(t *testing.T, provider *fakeProvider) *Controller {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Stats.PollInterval = 10 * time.Millisecond
	cfg.Recorder.SliceDuration = 10 * time.Millisecond
	c := New(cfg, provider, &fakeFactory{}, fakeSignal{}, roster.NewMemoryStore(), zap.NewNop())
	t.Cleanup(c.Cleanup)
	return c
}

func TestInitializeAcquiresLocalSession(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(t, provider)

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Initialize(context.Background())) // idempotent

	require.Len(t, provider.opened, 1)
	assert.True(t, c.AudioEnabled())
	assert.True(t, c.VideoEnabled())

	devices, err := c.Devices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestConcurrentInitializeAcquiresOnce(t *testing.T) {
	provider := &fakeProvider{gate: make(chan struct{})}
	c := newTestController(t, provider)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Initialize(context.Background())
		}(i)
	}
	// both calls are in flight before acquisition completes
	time.Sleep(20 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, provider.openCount())
}

func TestInitializeFailureRecordsLastError(t *testing.T) {
	provider := &fakeProvider{userErr: errors.New("permission denied")}
	c := newTestController(t, provider)

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, rtcerrors.KindPermission, rtcerrors.KindOf(c.LastError()))

	c.ClearLastError()
	assert.Nil(t, c.LastError())
}

func TestTogglesGateTracks(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(t, provider)
	require.NoError(t, c.Initialize(context.Background()))

	tracks := provider.firstOpened()
	require.Len(t, tracks, 2)

	assert.False(t, c.ToggleAudio())
	assert.False(t, c.AudioEnabled())
	assert.False(t, tracks[1].Enabled())
	assert.True(t, tracks[0].Enabled()) // video untouched

	assert.True(t, c.ToggleAudio())
	assert.True(t, tracks[1].Enabled())

	assert.False(t, c.ToggleVideo())
	assert.False(t, tracks[0].Enabled())
}

func TestPeerSessionsDriveStatsActivation(t *testing.T) {
	c := newTestController(t, &fakeProvider{})
	require.NoError(t, c.Initialize(context.Background()))

	assert.False(t, c.aggregator.Active())

	require.NoError(t, c.CreatePeerSession(context.Background(), "alice"))
	assert.True(t, c.aggregator.Active())

	require.NoError(t, c.CreatePeerSession(context.Background(), "bob"))
	c.DestroyPeerSession("alice")
	assert.True(t, c.aggregator.Active())

	c.DestroyPeerSession("bob")
	assert.False(t, c.aggregator.Active())

	require.Eventually(t, func() bool {
		_, ok := c.Stats()
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestTerminalPeerFailureStopsStatsPolling(t *testing.T) {
	provider := &fakeProvider{}
	cfg := config.DefaultConfig()
	cfg.Stats.PollInterval = 5 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 1
	cfg.Reconnect.BaseDelay = time.Millisecond
	cfg.Reconnect.MaxDelay = 2 * time.Millisecond
	factory := &fakeFactory{}
	c := New(cfg, provider, factory, fakeSignal{}, roster.NewMemoryStore(), zap.NewNop())
	t.Cleanup(c.Cleanup)
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.CreatePeerSession(context.Background(), "alice"))
	assert.True(t, c.aggregator.Active())

	// the initial connection and its single retry both fail
	factory.conn(0).fireState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool {
		return factory.count() >= 2
	}, time.Second, time.Millisecond)
	factory.conn(1).fireState(webrtc.PeerConnectionStateFailed)

	// the dead session is dropped and statistics polling stops with it
	require.Eventually(t, func() bool {
		return c.peers.Count() == 0 && !c.aggregator.Active()
	}, time.Second, time.Millisecond)
	for i := 0; i < factory.count(); i++ {
		factory.conn(i).mu.Lock()
		closed := factory.conn(i).closed
		factory.conn(i).mu.Unlock()
		assert.True(t, closed, "conn %d left open", i)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	c := newTestController(t, &fakeProvider{})
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.StartRecording())
	assert.Equal(t, recorder.StateRecording, c.RecordingState())

	err := c.StartRecording()
	require.Error(t, err)
	assert.Equal(t, rtcerrors.CodeRecordingRejected, rtcerrors.CodeOf(err))

	res, ok := c.StopRecording()
	require.True(t, ok)
	assert.Equal(t, recorder.MimeVideoAudio, res.MimeType)
	assert.NotEmpty(t, res.Blob)
}

func TestScreenShareThroughFacade(t *testing.T) {
	c := newTestController(t, &fakeProvider{})
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.StartScreenShare(context.Background()))
	assert.True(t, c.ScreenShareActive())
	c.StopScreenShare()
	assert.False(t, c.ScreenShareActive())
}

func TestSwitchDeviceFailureRecordsError(t *testing.T) {
	provider := &fakeProvider{}
	c := newTestController(t, provider)
	require.NoError(t, c.Initialize(context.Background()))

	provider.mu.Lock()
	provider.userErr = errors.New("no such device")
	provider.mu.Unlock()

	err := c.SwitchDevice(context.Background(), "cam-x", webrtc.RTPCodecTypeVideo)
	require.Error(t, err)
	assert.Equal(t, rtcerrors.CodeDeviceNotFound, rtcerrors.CodeOf(c.LastError()))
}

func TestCleanupIsIdempotentAndOrdered(t *testing.T) {
	provider := &fakeProvider{}
	cfg := config.DefaultConfig()
	cfg.Stats.PollInterval = 10 * time.Millisecond
	c := New(cfg, provider, &fakeFactory{}, fakeSignal{}, roster.NewMemoryStore(), zap.NewNop())

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.CreatePeerSession(context.Background(), "alice"))
	require.NoError(t, c.StartRecording())

	c.Cleanup()
	c.Cleanup() // second call is a no-op

	assert.False(t, c.aggregator.Active())
	assert.Equal(t, recorder.StateComplete, c.RecordingState())
	for _, tr := range provider.firstOpened() {
		assert.True(t, tr.(*fakeTrack).stopped())
	}
	assert.Zero(t, c.peers.Count())

	// the peer manager refuses creates after cleanup
	err := c.CreatePeerSession(context.Background(), "bob")
	assert.Error(t, err)
}
