// Package capture is the boundary to the platform device/capture provider.
// The rest of the module talks to the Provider interface; the production
// implementation sits on top of pion/mediadevices.
package capture

import (
	"context"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// DeviceKind classifies a capture device.
type DeviceKind string

const (
	VideoInput  DeviceKind = "video-input"
	AudioInput  DeviceKind = "audio-input"
	AudioOutput DeviceKind = "audio-output"
)

// Descriptor identifies one capture device in the platform's current set.
type Descriptor struct {
	ID    string
	Label string
	Kind  DeviceKind
}

// VideoConstraints express the desired video capture format. Ideal values are
// targets, Max values are hard caps.
type VideoConstraints struct {
	DeviceID       string
	IdealWidth     int
	IdealHeight    int
	MaxWidth       int
	MaxHeight      int
	IdealFrameRate float64
	MaxFrameRate   float64

	// Display-capture only.
	DisplaySurface string // "monitor" for whole-screen capture
	CursorAlways   bool
}

// AudioConstraints express the desired audio capture format and processing.
type AudioConstraints struct {
	DeviceID         string
	SampleRate       int
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	Latency          time.Duration
}

// StreamConstraints select which kinds to open. A nil member means the kind
// is not requested.
type StreamConstraints struct {
	Video *VideoConstraints
	Audio *AudioConstraints
}

// RTPReadCloser yields packetized media from a live track.
type RTPReadCloser interface {
	Read() (pkts []*rtp.Packet, release func(), err error)
	Close() error
}

// Track is one live audio or video capture unit. Stop is idempotent; Enabled
// gates packet flow without closing the device.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	OnEnded(handler func(error))
	NewRTPReader(mimeType string, ssrc uint32, mtu int) (RTPReadCloser, error)
	Stop() error
}

// LocalTrack is implemented by tracks that can be attached to a peer
// connection directly.
type LocalTrack interface {
	Track
	Local() webrtc.TrackLocal
}

// Provider is the platform capture API surface consumed by this module.
type Provider interface {
	// EnumerateDevices returns the platform's current device set.
	EnumerateDevices() ([]Descriptor, error)

	// OpenUserMedia opens camera/microphone tracks under the given
	// constraints.
	OpenUserMedia(ctx context.Context, c StreamConstraints) ([]Track, error)

	// OpenDisplayMedia opens a display-capture stream.
	OpenDisplayMedia(ctx context.Context, c StreamConstraints) ([]Track, error)

	// OnDeviceChange registers a callback fired when the device set changes.
	// The returned func cancels the subscription.
	OnDeviceChange(fn func()) (cancel func())
}
