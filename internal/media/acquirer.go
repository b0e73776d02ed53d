package media

import (
	"context"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/config"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// AcquireOptions select devices and initial enabled state for a new local
// session. Empty device ids mean the platform default.
type AcquireOptions struct {
	VideoDeviceID string
	AudioDeviceID string

	WantVideo bool
	WantAudio bool

	// Controller mute state at the moment of acquisition; a newly opened
	// device must not silently re-enable a muted stream.
	VideoEnabled bool
	AudioEnabled bool
}

// Acquirer opens local capture sessions. It does not retry; retry policy
// belongs to the caller.
type Acquirer struct {
	provider capture.Provider
	cfg      *config.Config
	log      *zap.Logger
}

func NewAcquirer(provider capture.Provider, cfg *config.Config, log *zap.Logger) *Acquirer {
	return &Acquirer{provider: provider, cfg: cfg, log: log.Named("media")}
}

// Acquire opens a local session by overlaying device selection onto the
// configured default quality constraints. Failures are classified into the
// media error taxonomy.
func (a *Acquirer) Acquire(ctx context.Context, opts AcquireOptions) (*Session, error) {
	constraints := capture.StreamConstraints{}
	if opts.WantVideo {
		v := a.videoDefaults()
		v.DeviceID = opts.VideoDeviceID
		constraints.Video = &v
	}
	if opts.WantAudio {
		au := a.audioDefaults()
		au.DeviceID = opts.AudioDeviceID
		constraints.Audio = &au
	}

	tracks, err := a.provider.OpenUserMedia(ctx, constraints)
	if err != nil {
		cerr := rtcerrors.ClassifyCapture(err)
		a.log.Warn("local media acquisition failed",
			zap.String("kind", string(cerr.Kind)),
			zap.String("code", string(cerr.Code)),
			zap.Error(err))
		return nil, cerr
	}

	sess := NewSession(tracks)
	sess.SetEnabled(webrtc.RTPCodecTypeVideo, opts.VideoEnabled)
	sess.SetEnabled(webrtc.RTPCodecTypeAudio, opts.AudioEnabled)

	a.log.Info("local media acquired",
		zap.Int("tracks", len(tracks)),
		zap.String("video_device", opts.VideoDeviceID),
		zap.String("audio_device", opts.AudioDeviceID))
	return sess, nil
}

// OpenDisplay opens a display-capture session: monitor surface, cursor always
// visible, echo-cancelled audio when the platform offers it.
func (a *Acquirer) OpenDisplay(ctx context.Context) (*Session, error) {
	v := a.videoDefaults()
	v.DisplaySurface = "monitor"
	v.CursorAlways = true
	au := a.audioDefaults()

	tracks, err := a.provider.OpenDisplayMedia(ctx, capture.StreamConstraints{Video: &v, Audio: &au})
	if err != nil {
		cerr := rtcerrors.ClassifyCapture(err)
		a.log.Warn("display capture failed", zap.String("code", string(cerr.Code)), zap.Error(err))
		return nil, cerr
	}

	a.log.Info("display capture opened", zap.Int("tracks", len(tracks)))
	return NewSession(tracks), nil
}

func (a *Acquirer) videoDefaults() capture.VideoConstraints {
	v := a.cfg.Media.Video
	return capture.VideoConstraints{
		IdealWidth:     v.IdealWidth,
		IdealHeight:    v.IdealHeight,
		MaxWidth:       v.MaxWidth,
		MaxHeight:      v.MaxHeight,
		IdealFrameRate: v.IdealFrameRate,
		MaxFrameRate:   v.MaxFrameRate,
	}
}

func (a *Acquirer) audioDefaults() capture.AudioConstraints {
	au := a.cfg.Media.Audio
	return capture.AudioConstraints{
		SampleRate:       au.SampleRate,
		ChannelCount:     au.ChannelCount,
		EchoCancellation: au.EchoCancellation,
		NoiseSuppression: au.NoiseSuppression,
		AutoGainControl:  au.AutoGainControl,
	}
}
