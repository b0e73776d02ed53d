package peer

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
)

// Factory builds pion-backed connections sharing one API instance, so every
// peer connection negotiates the same codec set the capture pipeline encodes.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log *zap.Logger
}

// NewFactory registers the default codecs plus the capture pipeline's
// selector on a shared MediaEngine.
func NewFactory(iceServers []string, selector *mediadevices.CodecSelector, log *zap.Logger) (*Factory, error) {
	mediaEngine := webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}
	if selector != nil {
		selector.Populate(&mediaEngine)
	}

	settingEngine := webrtc.SettingEngine{}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(&mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, u := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}

	return &Factory{
		api: api,
		cfg: webrtc.Configuration{ICEServers: servers},
		log: log.Named("factory"),
	}, nil
}

func (f *Factory) NewConn() (Conn, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionConn{pc: pc, log: f.log}, nil
}

type pionConn struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger
}

func (c *pionConn) AddTrack(t capture.Track) (Sender, error) {
	local, ok := t.(capture.LocalTrack)
	if !ok {
		return nil, fmt.Errorf("track %s cannot be sent over a peer connection", t.ID())
	}
	sender, err := c.pc.AddTrack(local.Local())
	if err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so interceptors keep processing feedback for this sender.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				if err != io.EOF && err != io.ErrClosedPipe {
					c.log.Debug("rtcp read ended", zap.Error(err))
				}
				return
			}
		}
	}()

	return &pionSender{sender: sender, track: t}, nil
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&pionRemoteTrack{remote: remote})
	})
}

func (c *pionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(cand.ToJSON())
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *pionConn) GetStats() webrtc.StatsReport {
	return c.pc.GetStats()
}

func (c *pionConn) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

type pionSender struct {
	sender *webrtc.RTPSender

	mu    sync.Mutex
	track capture.Track
}

func (s *pionSender) Track() capture.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *pionSender) ReplaceTrack(t capture.Track) error {
	local, ok := t.(capture.LocalTrack)
	if !ok {
		return fmt.Errorf("track %s cannot be sent over a peer connection", t.ID())
	}
	if err := s.sender.ReplaceTrack(local.Local()); err != nil {
		return fmt.Errorf("failed to replace track: %w", err)
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type pionRemoteTrack struct {
	remote *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string {
	return t.remote.ID()
}

func (t *pionRemoteTrack) Kind() webrtc.RTPCodecType {
	return t.remote.Kind()
}
