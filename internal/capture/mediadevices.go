package capture

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // register camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // register microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // register screen adapter
)

const deviceWatchInterval = 2 * time.Second

// MediaDevicesProvider implements Provider on top of pion/mediadevices.
type MediaDevicesProvider struct {
	selector *mediadevices.CodecSelector
	log      *zap.Logger

	mu        sync.Mutex
	watchers  map[int64]func()
	nextWatch int64
	watching  bool
	stopWatch chan struct{}
	lastSeen  []string
}

// NewMediaDevicesProvider builds a provider with VP8 video and Opus audio
// encoders registered.
func NewMediaDevicesProvider(log *zap.Logger) (*MediaDevicesProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000
	vpxParams.KeyFrameInterval = 15

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &MediaDevicesProvider{
		selector: selector,
		log:      log.Named("capture"),
		watchers: make(map[int64]func()),
	}, nil
}

// CodecSelector exposes the codec selector for registering codecs with a
// media engine.
func (p *MediaDevicesProvider) CodecSelector() *mediadevices.CodecSelector {
	return p.selector
}

func (p *MediaDevicesProvider) EnumerateDevices() ([]Descriptor, error) {
	infos := mediadevices.EnumerateDevices()
	out := make([]Descriptor, 0, len(infos))
	for _, info := range infos {
		var kind DeviceKind
		switch info.Kind {
		case mediadevices.VideoInput:
			kind = VideoInput
		case mediadevices.AudioInput:
			kind = AudioInput
		case mediadevices.AudioOutput:
			kind = AudioOutput
		default:
			continue
		}
		out = append(out, Descriptor{ID: info.DeviceID, Label: info.Label, Kind: kind})
	}
	return out, nil
}

func (p *MediaDevicesProvider) OpenUserMedia(_ context.Context, c StreamConstraints) ([]Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
	if v := c.Video; v != nil {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if v.DeviceID != "" {
				mc.DeviceID = prop.String(v.DeviceID)
			}
			mc.Width = prop.IntRanged{Max: v.MaxWidth, Ideal: v.IdealWidth}
			mc.Height = prop.IntRanged{Max: v.MaxHeight, Ideal: v.IdealHeight}
			mc.FrameRate = prop.FloatRanged{Max: float32(v.MaxFrameRate), Ideal: float32(v.IdealFrameRate)}
		}
	}
	if a := c.Audio; a != nil {
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if a.DeviceID != "" {
				mc.DeviceID = prop.String(a.DeviceID)
			}
			// Echo cancellation, noise suppression and auto gain are
			// handled by the platform audio stack; the capture layer only
			// carries the format constraints.
			mc.SampleRate = prop.Int(a.SampleRate)
			mc.ChannelCount = prop.Int(a.ChannelCount)
			if a.Latency > 0 {
				mc.Latency = prop.Duration(a.Latency)
			}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return p.wrapStream(stream), nil
}

func (p *MediaDevicesProvider) OpenDisplayMedia(_ context.Context, c StreamConstraints) ([]Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
	if v := c.Video; v != nil {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if v.IdealFrameRate > 0 {
				mc.FrameRate = prop.FloatRanged{Max: float32(v.MaxFrameRate), Ideal: float32(v.IdealFrameRate)}
			}
		}
	}

	stream, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, err
	}
	return p.wrapStream(stream), nil
}

func (p *MediaDevicesProvider) wrapStream(stream mediadevices.MediaStream) []Track {
	raw := stream.GetTracks()
	out := make([]Track, 0, len(raw))
	for _, t := range raw {
		out = append(out, newDeviceTrack(t))
	}
	return out
}

// OnDeviceChange polls the device set; mediadevices exposes no push
// notification for hotplug events.
func (p *MediaDevicesProvider) OnDeviceChange(fn func()) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn

	if !p.watching {
		p.watching = true
		p.stopWatch = make(chan struct{})
		p.lastSeen = p.deviceFingerprint()
		go p.watchLoop(p.stopWatch)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
		if len(p.watchers) == 0 && p.watching {
			close(p.stopWatch)
			p.watching = false
		}
	}
}

func (p *MediaDevicesProvider) watchLoop(stop chan struct{}) {
	ticker := time.NewTicker(deviceWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current := p.deviceFingerprint()
			p.mu.Lock()
			changed := strings.Join(current, ",") != strings.Join(p.lastSeen, ",")
			p.lastSeen = current
			var fns []func()
			if changed {
				for _, fn := range p.watchers {
					fns = append(fns, fn)
				}
			}
			p.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		}
	}
}

func (p *MediaDevicesProvider) deviceFingerprint() []string {
	ids := []string{}
	for _, info := range mediadevices.EnumerateDevices() {
		ids = append(ids, info.DeviceID)
	}
	sort.Strings(ids)
	return ids
}

// deviceTrack adapts a mediadevices track to the Track interface, adding the
// enabled gate that mediadevices does not model.
type deviceTrack struct {
	inner   mediadevices.Track
	enabled atomic.Bool

	mu      sync.Mutex
	stopped bool
}

func newDeviceTrack(inner mediadevices.Track) *deviceTrack {
	t := &deviceTrack{inner: inner}
	t.enabled.Store(true)
	return t
}

func (t *deviceTrack) ID() string                  { return t.inner.ID() }
func (t *deviceTrack) Kind() webrtc.RTPCodecType   { return t.inner.Kind() }
func (t *deviceTrack) Enabled() bool               { return t.enabled.Load() }
func (t *deviceTrack) SetEnabled(enabled bool)     { t.enabled.Store(enabled) }
func (t *deviceTrack) OnEnded(handler func(error)) { t.inner.OnEnded(handler) }
func (t *deviceTrack) Local() webrtc.TrackLocal    { return t.inner }

func (t *deviceTrack) NewRTPReader(mimeType string, ssrc uint32, mtu int) (RTPReadCloser, error) {
	r, err := t.inner.NewRTPReader(mimeType, ssrc, mtu)
	if err != nil {
		return nil, err
	}
	return &gatedRTPReader{inner: r, enabled: &t.enabled}, nil
}

func (t *deviceTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	return t.inner.Close()
}

// gatedRTPReader drops packets while the owning track is disabled so a muted
// track stays silent without tearing down the encoder pipeline.
type gatedRTPReader struct {
	inner   mediadevices.RTPReadCloser
	enabled *atomic.Bool
}

func (g *gatedRTPReader) Read() ([]*rtp.Packet, func(), error) {
	pkts, release, err := g.inner.Read()
	if err != nil {
		return nil, release, err
	}
	if !g.enabled.Load() {
		if release != nil {
			release()
		}
		return nil, func() {}, nil
	}
	return pkts, release, nil
}

func (g *gatedRTPReader) Close() error { return g.inner.Close() }
