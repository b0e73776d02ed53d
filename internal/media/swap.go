package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// TrackReplacer swaps the outgoing track of a kind in place on every active
// peer session, without renegotiation. Implemented by the peer session
// manager.
type TrackReplacer interface {
	ReplaceOutgoingTrack(kind webrtc.RTPCodecType, t capture.Track) error
}

// Coordinator owns the live local session and the optional screen-capture
// session, and is the only component besides the Acquirer allowed to replace
// them.
type Coordinator struct {
	acquirer *Acquirer
	peers    TrackReplacer
	flags    func() (audioEnabled, videoEnabled bool)
	log      *zap.Logger

	mu            sync.Mutex
	current       *Session
	screen        *Session
	videoDeviceID string
	audioDeviceID string
}

func NewCoordinator(acquirer *Acquirer, peers TrackReplacer, flags func() (bool, bool), log *zap.Logger) *Coordinator {
	return &Coordinator{
		acquirer: acquirer,
		peers:    peers,
		flags:    flags,
		log:      log.Named("swap"),
	}
}

// Adopt installs the initial local session and remembers the device
// selection it was opened with.
func (c *Coordinator) Adopt(sess *Session, videoDeviceID, audioDeviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = sess
	c.videoDeviceID = videoDeviceID
	c.audioDeviceID = audioDeviceID
}

// Session returns the live local session, or nil before Adopt.
func (c *Coordinator) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ScreenActive reports whether a display capture is live.
func (c *Coordinator) ScreenActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StartScreenShare opens display capture and swaps the outgoing video track
// on every active peer session for the capture's video track. The capture's
// end-of-stream (user hitting the platform "stop sharing" button) triggers
// StopScreenShare automatically.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	if c.screen != nil {
		c.mu.Unlock()
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeConstraints, "screen share already active")
	}
	c.mu.Unlock()

	screen, err := c.acquirer.OpenDisplay(ctx)
	if err != nil {
		return err
	}

	videoTrack, ok := screen.TrackOfKind(webrtc.RTPCodecTypeVideo)
	if !ok {
		screen.StopAll()
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeConstraints, "display capture produced no video track")
	}
	videoTrack.OnEnded(func(error) {
		c.log.Info("display capture ended by platform")
		c.StopScreenShare()
	})

	if err := c.peers.ReplaceOutgoingTrack(webrtc.RTPCodecTypeVideo, videoTrack); err != nil {
		screen.StopAll()
		return err
	}

	c.mu.Lock()
	c.screen = screen
	c.mu.Unlock()
	c.log.Info("screen share started")
	return nil
}

// StopScreenShare stops the capture tracks and restores the camera track on
// every active peer session, provided the camera track still exists. No-op
// when no capture is live.
func (c *Coordinator) StopScreenShare() {
	c.mu.Lock()
	screen := c.screen
	c.screen = nil
	current := c.current
	c.mu.Unlock()

	if screen == nil {
		return
	}
	screen.StopAll()

	if current != nil {
		if cam, ok := current.TrackOfKind(webrtc.RTPCodecTypeVideo); ok {
			if err := c.peers.ReplaceOutgoingTrack(webrtc.RTPCodecTypeVideo, cam); err != nil {
				c.log.Warn("failed to restore camera track", zap.Error(err))
			}
		}
	}
	c.log.Info("screen share stopped")
}

// SwitchDevice re-acquires the given kind with a new device id while keeping
// the other kind's track, swaps the outgoing track everywhere, then stops the
// replaced track. The new track is live and attached before the old one
// stops, so there is no audible or visible gap.
func (c *Coordinator) SwitchDevice(ctx context.Context, deviceID string, kind webrtc.RTPCodecType) error {
	if kind != webrtc.RTPCodecTypeVideo && kind != webrtc.RTPCodecTypeAudio {
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeConstraints, "unsupported device kind")
	}

	audioOn, videoOn := c.flags()
	opts := AcquireOptions{AudioEnabled: audioOn, VideoEnabled: videoOn}
	if kind == webrtc.RTPCodecTypeVideo {
		opts.WantVideo = true
		opts.VideoDeviceID = deviceID
	} else {
		opts.WantAudio = true
		opts.AudioDeviceID = deviceID
	}

	fresh, err := c.acquirer.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	newTrack, ok := fresh.TrackOfKind(kind)
	if !ok {
		fresh.StopAll()
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeDeviceNotFound, "re-acquisition produced no track of requested kind")
	}

	screenSharing := kind == webrtc.RTPCodecTypeVideo && c.ScreenActive()
	if !screenSharing {
		// Under active screen share the outgoing video stays the display
		// capture; only the camera selection for later restore changes.
		if err := c.peers.ReplaceOutgoingTrack(kind, newTrack); err != nil {
			fresh.StopAll()
			return err
		}
	}

	c.mu.Lock()
	old, replaced := capture.Track(nil), false
	if c.current != nil {
		old, replaced = c.current.ReplaceTrack(newTrack)
	} else {
		c.current = fresh
	}
	if kind == webrtc.RTPCodecTypeVideo {
		c.videoDeviceID = deviceID
	} else {
		c.audioDeviceID = deviceID
	}
	c.mu.Unlock()

	if replaced {
		_ = old.Stop()
	}

	c.log.Info("device switched",
		zap.String("device_id", deviceID),
		zap.String("kind", kind.String()))
	return nil
}

// OutgoingTracks returns the tracks that should be attached to a new peer
// session: the local session's tracks, with the video slot taken by the
// display capture while a screen share is live.
func (c *Coordinator) OutgoingTracks() []capture.Track {
	c.mu.Lock()
	current, screen := c.current, c.screen
	c.mu.Unlock()

	if current == nil {
		return nil
	}
	tracks := current.Tracks()
	if screen == nil {
		return tracks
	}
	shared, ok := screen.TrackOfKind(webrtc.RTPCodecTypeVideo)
	if !ok {
		return tracks
	}
	out := make([]capture.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			out = append(out, shared)
			continue
		}
		out = append(out, t)
	}
	return out
}

// DeviceSelection returns the current video and audio device ids.
func (c *Coordinator) DeviceSelection() (videoDeviceID, audioDeviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoDeviceID, c.audioDeviceID
}

// Shutdown stops the screen capture and every local track. Safe to call
// repeatedly.
func (c *Coordinator) Shutdown() {
	c.StopScreenShare()
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current != nil {
		current.StopAll()
	}
}
