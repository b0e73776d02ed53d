// Package recorder captures the local session into an in-memory WebM blob.
// Encoded output is sealed into roughly one-second chunks while recording and
// concatenated on stop.
package recorder

import (
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/media"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// Supported output types, chosen by which tracks the session carries.
const (
	MimeVideoAudio = "video/webm;codecs=vp8,opus"
	MimeVideoOnly  = "video/webm;codecs=vp8"
	MimeAudioOnly  = "audio/webm;codecs=opus"
)

const readerMTU = 1200

// State is the recorder lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Result is a finished recording.
type Result struct {
	Blob     []byte
	MimeType string
}

// Options shape the container headers and chunking cadence.
type Options struct {
	SliceDuration time.Duration
	Width         int
	Height        int
	FrameRate     int
	SampleRate    int
	ChannelCount  int
}

// Recorder records the live local session. One recording at a time; a
// completed recorder can be started again.
type Recorder struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	state   State
	mime    string
	sink    *chunkSink
	writers []webm.BlockWriteCloser
	readers []capture.RTPReadCloser
	stop    chan struct{}
	wg      sync.WaitGroup
	result  *Result
}

func NewRecorder(opts Options, log *zap.Logger) *Recorder {
	if opts.SliceDuration <= 0 {
		opts.SliceDuration = time.Second
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 30
	}
	return &Recorder{opts: opts, log: log.Named("recorder")}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins recording the session's tracks. Rejected while a recording is
// in progress or when the session carries no media.
func (r *Recorder) Start(sess *media.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording || r.state == StateFinalizing {
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
			"recording already in progress")
	}
	if sess == nil {
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
			"no local media to record")
	}
	video, hasVideo := sess.TrackOfKind(webrtc.RTPCodecTypeVideo)
	audio, hasAudio := sess.TrackOfKind(webrtc.RTPCodecTypeAudio)
	if !hasVideo && !hasAudio {
		return rtcerrors.New(rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
			"no local media to record")
	}

	switch {
	case hasVideo && hasAudio:
		r.mime = MimeVideoAudio
	case hasVideo:
		r.mime = MimeVideoOnly
	default:
		r.mime = MimeAudioOnly
	}

	entries := make([]webm.TrackEntry, 0, 2)
	if hasVideo {
		entries = append(entries, webm.TrackEntry{
			Name:            "Video",
			TrackNumber:     uint64(len(entries) + 1),
			TrackUID:        uint64(uuid.New().ID()),
			CodecID:         "V_VP8",
			TrackType:       1,
			DefaultDuration: uint64(time.Second.Nanoseconds() / int64(r.opts.FrameRate)),
			Video: &webm.Video{
				PixelWidth:  uint64(r.opts.Width),
				PixelHeight: uint64(r.opts.Height),
			},
		})
	}
	if hasAudio {
		entries = append(entries, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: uint64(len(entries) + 1),
			TrackUID:    uint64(uuid.New().ID()),
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(r.opts.SampleRate),
				Channels:          uint64(r.opts.ChannelCount),
			},
		})
	}

	sink := newChunkSink()
	writers, err := webm.NewSimpleBlockWriter(sink, entries)
	if err != nil {
		return rtcerrors.Wrap(err, rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
			"failed to create container writer")
	}

	r.sink = sink
	r.writers = writers
	r.readers = nil
	r.result = nil
	r.stop = make(chan struct{})

	next := 0
	if hasVideo {
		reader, err := video.NewRTPReader(webrtc.MimeTypeVP8, uuid.New().ID(), readerMTU)
		if err != nil {
			r.abortLocked()
			return rtcerrors.Wrap(err, rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
				"failed to open video reader")
		}
		r.readers = append(r.readers, reader)
		r.wg.Add(1)
		go r.videoLoop(reader, writers[next])
		next++
	}
	if hasAudio {
		reader, err := audio.NewRTPReader(webrtc.MimeTypeOpus, uuid.New().ID(), readerMTU)
		if err != nil {
			r.abortLocked()
			return rtcerrors.Wrap(err, rtcerrors.KindMedia, rtcerrors.CodeRecordingRejected,
				"failed to open audio reader")
		}
		r.readers = append(r.readers, reader)
		r.wg.Add(1)
		go r.audioLoop(reader, writers[next])
	}

	r.wg.Add(1)
	go r.sliceLoop(r.stop, sink)

	r.state = StateRecording
	r.log.Info("recording started", zap.String("mime", r.mime))
	return nil
}

// abortLocked unwinds a partially started recording. Callers hold r.mu; the
// lock is dropped while waiting for loops to drain.
func (r *Recorder) abortLocked() {
	for _, reader := range r.readers {
		_ = reader.Close()
	}
	close(r.stop)
	r.mu.Unlock()
	r.wg.Wait()
	r.mu.Lock()
	for _, w := range r.writers {
		_ = w.Close()
	}
	r.readers, r.writers, r.sink, r.stop = nil, nil, nil, nil
}

// Stop finalizes the recording and returns the blob. No-op when nothing is
// recording.
func (r *Recorder) Stop() (Result, bool) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return Result{}, false
	}
	r.state = StateFinalizing
	readers := r.readers
	stop := r.stop
	r.mu.Unlock()

	for _, reader := range readers {
		_ = reader.Close()
	}
	close(stop)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		if err := w.Close(); err != nil {
			r.log.Warn("error finalizing container track", zap.Error(err))
		}
	}
	_ = r.sink.Close()

	res := Result{Blob: r.sink.Blob(), MimeType: r.mime}
	r.result = &res
	r.log.Info("recording complete",
		zap.Int("bytes", len(res.Blob)),
		zap.Int("chunks", r.sink.ChunkCount()),
		zap.String("mime", res.MimeType))
	r.readers, r.writers, r.stop, r.sink = nil, nil, nil, nil
	r.state = StateComplete
	return res, true
}

// Result returns the last completed recording.
func (r *Recorder) Result() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result == nil {
		return Result{}, false
	}
	return *r.result, true
}

// sliceLoop seals the working buffer into a chunk once per slice interval.
func (r *Recorder) sliceLoop(stop chan struct{}, sink *chunkSink) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.SliceDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sink.Cut()
		}
	}
}

// videoLoop reassembles VP8 frames from the packet stream and writes each
// completed frame with its media timestamp.
func (r *Recorder) videoLoop(reader capture.RTPReadCloser, w webm.BlockWriteCloser) {
	defer r.wg.Done()

	var (
		frame    []byte
		keyframe bool
		haveTS   bool
		firstTS  uint32
		frameTS  uint32
	)
	flush := func() {
		if len(frame) == 0 {
			return
		}
		tc := int64(frameTS-firstTS) / 90 // VP8 media clock is 90 kHz
		if _, err := w.Write(keyframe, tc, frame); err != nil {
			r.log.Warn("error writing video frame", zap.Error(err))
		}
		frame = nil
		keyframe = false
	}

	for {
		pkts, release, err := reader.Read()
		if err != nil {
			flush()
			return
		}
		for _, pkt := range pkts {
			payload := pkt.Payload
			ds := vp8DescriptorSize(payload)
			if ds == 0 || len(payload) <= ds {
				continue
			}
			if !haveTS {
				firstTS = pkt.Timestamp
				haveTS = true
			}
			if payload[0]&0x10 != 0 { // start of partition
				flush()
				frameTS = pkt.Timestamp
				keyframe = payload[ds]&0x01 == 0
			}
			frame = append(frame, payload[ds:]...)
		}
		if release != nil {
			release()
		}
	}
}

// audioLoop writes each Opus packet as one block.
func (r *Recorder) audioLoop(reader capture.RTPReadCloser, w webm.BlockWriteCloser) {
	defer r.wg.Done()

	var (
		haveTS  bool
		firstTS uint32
	)
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			if len(pkt.Payload) == 0 {
				continue
			}
			if !haveTS {
				firstTS = pkt.Timestamp
				haveTS = true
			}
			tc := int64(pkt.Timestamp-firstTS) / 48 // Opus media clock is 48 kHz
			if _, err := w.Write(false, tc, pkt.Payload); err != nil {
				r.log.Warn("error writing audio block", zap.Error(err))
			}
		}
		if release != nil {
			release()
		}
	}
}

// vp8DescriptorSize returns the length of the VP8 payload descriptor, or 0
// when the payload is malformed.
func vp8DescriptorSize(p []byte) int {
	if len(p) < 1 {
		return 0
	}
	size := 1
	if p[0]&0x80 == 0 { // no extended control bits
		return size
	}
	if len(p) < 2 {
		return 0
	}
	ext := p[1]
	size++
	if ext&0x80 != 0 { // PictureID present
		if len(p) <= size {
			return 0
		}
		size++
		if p[size-1]&0x80 != 0 { // 15-bit PictureID
			size++
		}
	}
	if ext&0x40 != 0 { // TL0PICIDX present
		size++
	}
	if ext&0x20 != 0 || ext&0x10 != 0 { // TID/KEYIDX present
		size++
	}
	if len(p) < size {
		return 0
	}
	return size
}
