// Package controller is the facade the agent binary and UI layer drive. It
// composes the device registry, local media, peer sessions, statistics and
// the recorder, and owns the ordered teardown.
package controller

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/config"
	"github.com/classmesh/classmedia/internal/device"
	"github.com/classmesh/classmedia/internal/media"
	"github.com/classmesh/classmedia/internal/peer"
	"github.com/classmesh/classmedia/internal/recorder"
	"github.com/classmesh/classmedia/internal/roster"
	"github.com/classmesh/classmedia/internal/rtcerrors"
	"github.com/classmesh/classmedia/internal/stats"
)

// Controller is the single entry point for session operations. All methods
// are safe for concurrent use.
type Controller struct {
	cfg *config.Config
	log *zap.Logger

	registry    *device.Registry
	acquirer    *media.Acquirer
	coordinator *media.Coordinator
	peers       *peer.Manager
	aggregator  *stats.Aggregator
	recorder    *recorder.Recorder

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	initialized  bool
	initializing bool
	cleaned      bool
	lastErr      error

	loopStop chan struct{}
	loopDone chan struct{}
}

// New wires the controller. The capture provider, connection factory,
// signaling channel and roster store are injected so the binary and the
// tests choose their own implementations.
func New(cfg *config.Config, provider capture.Provider, factory peer.ConnFactory, sig peer.SignalSender, store roster.Store, log *zap.Logger) *Controller {
	c := &Controller{
		cfg:          cfg,
		log:          log.Named("controller"),
		audioEnabled: true,
		videoEnabled: true,
	}

	c.registry = device.NewRegistry(provider, log)
	c.acquirer = media.NewAcquirer(provider, cfg, log)
	c.peers = peer.NewManager(factory, sig, store, func() []capture.Track {
		return c.coordinator.OutgoingTracks()
	}, peer.ReconnectConfig{
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
	}, log)
	c.coordinator = media.NewCoordinator(c.acquirer, c.peers, c.enabledFlags, log)
	c.aggregator = stats.NewAggregator(c.statsSource, cfg.Stats.PollInterval, log)
	c.recorder = recorder.NewRecorder(recorder.Options{
		SliceDuration: cfg.Recorder.SliceDuration,
		Width:         cfg.Media.Video.IdealWidth,
		Height:        cfg.Media.Video.IdealHeight,
		FrameRate:     int(cfg.Media.Video.IdealFrameRate),
		SampleRate:    cfg.Media.Audio.SampleRate,
		ChannelCount:  cfg.Media.Audio.ChannelCount,
	}, log)

	return c
}

// StatsExporter registers a snapshot observer, typically the Prometheus
// exporter. Must be called before Initialize.
func (c *Controller) StatsExporter(fn func(stats.Snapshot)) {
	c.aggregator.SetObserver(fn)
}

// Initialize enumerates devices, acquires the initial local session and
// starts the event loop. Idempotent.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized || c.initializing {
		c.mu.Unlock()
		return nil
	}
	c.initializing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	if _, err := c.registry.List(); err != nil {
		// Enumeration failure is not fatal; acquisition falls back to the
		// platform defaults.
		c.recordErr(err)
	}

	sess, err := c.acquirer.Acquire(ctx, media.AcquireOptions{
		WantVideo:    true,
		WantAudio:    true,
		VideoEnabled: true,
		AudioEnabled: true,
	})
	if err != nil {
		c.recordErr(err)
		return err
	}
	c.coordinator.Adopt(sess, "", "")

	c.mu.Lock()
	c.loopStop = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.initialized = true
	c.mu.Unlock()
	go c.eventLoop()

	c.log.Info("controller initialized")
	return nil
}

// eventLoop consumes peer lifecycle events to track the last error and keep
// the statistics aggregator running exactly while sessions exist.
func (c *Controller) eventLoop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.loopStop:
			return
		case ev := <-c.peers.Events():
			if ev.Err != nil {
				c.recordErr(ev.Err)
			}
			if ev.Terminal {
				c.log.Warn("participant session terminally failed",
					zap.String("participant_id", ev.ParticipantID))
			}
			if c.peers.Count() == 0 {
				c.aggregator.Deactivate()
			}
		}
	}
}

func (c *Controller) enabledFlags() (audio, video bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled, c.videoEnabled
}

// Devices returns the current device set.
func (c *Controller) Devices() ([]capture.Descriptor, error) {
	return c.registry.List()
}

// ToggleAudio flips the microphone mute state and returns the new state.
// Disabled tracks stay open; only packet flow is gated.
func (c *Controller) ToggleAudio() bool {
	c.mu.Lock()
	c.audioEnabled = !c.audioEnabled
	enabled := c.audioEnabled
	c.mu.Unlock()

	if sess := c.coordinator.Session(); sess != nil {
		sess.SetEnabled(webrtc.RTPCodecTypeAudio, enabled)
	}
	c.log.Info("audio toggled", zap.Bool("enabled", enabled))
	return enabled
}

// ToggleVideo flips the camera mute state and returns the new state.
func (c *Controller) ToggleVideo() bool {
	c.mu.Lock()
	c.videoEnabled = !c.videoEnabled
	enabled := c.videoEnabled
	c.mu.Unlock()

	if sess := c.coordinator.Session(); sess != nil {
		sess.SetEnabled(webrtc.RTPCodecTypeVideo, enabled)
	}
	c.log.Info("video toggled", zap.Bool("enabled", enabled))
	return enabled
}

// AudioEnabled reports the microphone mute state.
func (c *Controller) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

// VideoEnabled reports the camera mute state.
func (c *Controller) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// SwitchDevice re-acquires one kind with the given device and swaps the
// track everywhere, gap-free.
func (c *Controller) SwitchDevice(ctx context.Context, deviceID string, kind webrtc.RTPCodecType) error {
	if err := c.coordinator.SwitchDevice(ctx, deviceID, kind); err != nil {
		c.recordErr(err)
		return err
	}
	return nil
}

// StartScreenShare opens display capture and substitutes the outgoing video.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	if err := c.coordinator.StartScreenShare(ctx); err != nil {
		c.recordErr(err)
		return err
	}
	return nil
}

// StopScreenShare restores the camera video. No-op when not sharing.
func (c *Controller) StopScreenShare() {
	c.coordinator.StopScreenShare()
}

// ScreenShareActive reports whether a screen share is live.
func (c *Controller) ScreenShareActive() bool {
	return c.coordinator.ScreenActive()
}

// StartRecording begins recording the local session.
func (c *Controller) StartRecording() error {
	if err := c.recorder.Start(c.coordinator.Session()); err != nil {
		c.recordErr(err)
		return err
	}
	return nil
}

// StopRecording finalizes the recording and returns the blob. The second
// return is false when nothing was recording.
func (c *Controller) StopRecording() (recorder.Result, bool) {
	return c.recorder.Stop()
}

// RecordingState returns the recorder lifecycle state.
func (c *Controller) RecordingState() recorder.State {
	return c.recorder.State()
}

// CreatePeerSession establishes a session towards a participant and makes
// sure statistics polling is running.
func (c *Controller) CreatePeerSession(ctx context.Context, participantID string) error {
	if _, err := c.peers.Create(ctx, participantID); err != nil {
		c.recordErr(err)
		return err
	}
	c.aggregator.Activate()
	return nil
}

// DestroyPeerSession tears down a participant's session. Statistics polling
// stops when the last session goes away.
func (c *Controller) DestroyPeerSession(participantID string) {
	c.peers.Destroy(participantID)
	if c.peers.Count() == 0 {
		c.aggregator.Deactivate()
	}
}

// SignalHandler exposes the inbound signaling surface, implemented by the
// peer manager.
func (c *Controller) SignalHandler() *peer.Manager {
	return c.peers
}

// Stats returns the latest snapshot.
func (c *Controller) Stats() (stats.Snapshot, bool) {
	return c.aggregator.Latest()
}

func (c *Controller) statsSource() []stats.Peer {
	recs := c.peers.Records()
	peers := make([]stats.Peer, 0, len(recs))
	for _, rec := range recs {
		peers = append(peers, stats.Peer{
			ParticipantID:   rec.ParticipantID,
			Report:          rec.GetStats(),
			ConnectionState: rec.ConnectionState(),
			SignalingState:  rec.SignalingState(),
		})
	}
	return peers
}

// LastError returns the most recent recorded failure.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearLastError resets the recorded failure.
func (c *Controller) ClearLastError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *Controller) recordErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.log.Warn("operation failed",
		zap.String("kind", string(rtcerrors.KindOf(err))),
		zap.String("code", string(rtcerrors.CodeOf(err))),
		zap.Error(err))
}

// Cleanup tears everything down in dependency order: retry timers, the
// statistics loop, the recorder, local and screen capture, then the peer
// connections. Idempotent.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return
	}
	c.cleaned = true
	loopStop, loopDone := c.loopStop, c.loopDone
	c.mu.Unlock()

	c.peers.CancelReconnects()
	c.aggregator.Deactivate()
	if _, stopped := c.recorder.Stop(); stopped {
		c.log.Info("recording stopped during cleanup")
	}
	c.coordinator.Shutdown()
	c.peers.Shutdown()

	if loopStop != nil {
		close(loopStop)
		<-loopDone
	}
	c.registry.Close()
	c.log.Info("controller cleaned up")
}
