// Package stats polls the per-participant connection statistics and reduces
// the raw reports into one snapshot for the UI and the metrics exporter.
package stats

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Peer is one participant's raw statistics as collected from its connection.
type Peer struct {
	ParticipantID   string
	Report          webrtc.StatsReport
	ConnectionState webrtc.PeerConnectionState
	SignalingState  webrtc.SignalingState
}

// Source produces the current set of peers to poll. Called once per tick.
type Source func() []Peer

// ParticipantStats is the reduced view of one participant's connection.
type ParticipantStats struct {
	ParticipantID   string
	ConnectionState string
	SignalingState  string

	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint32
	PacketsReceived uint32
	PacketsLost     int32
	Jitter          float64
	RoundTripTime   float64
	OutgoingBitrate float64
}

// Snapshot is the result of one poll across all participants.
type Snapshot struct {
	TakenAt      time.Time
	Participants []ParticipantStats
}

// Aggregator runs the poll loop while activated. It is activated whenever at
// least one peer session exists and deactivated when the last one goes away.
type Aggregator struct {
	source   Source
	interval time.Duration
	observer func(Snapshot)
	log      *zap.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	latest *Snapshot
}

func NewAggregator(source Source, interval time.Duration, log *zap.Logger) *Aggregator {
	return &Aggregator{
		source:   source,
		interval: interval,
		log:      log.Named("stats"),
	}
}

// SetObserver registers a callback invoked with every new snapshot. Must be
// called before Activate.
func (a *Aggregator) SetObserver(fn func(Snapshot)) {
	a.observer = fn
}

// Activate starts the poll loop. No-op when already running.
func (a *Aggregator) Activate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.loop(a.stop, a.done)
	a.log.Info("statistics polling started", zap.Duration("interval", a.interval))
}

// Deactivate stops the poll loop and waits for it to exit. The last snapshot
// stays available. No-op when not running.
func (a *Aggregator) Deactivate() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	a.log.Info("statistics polling stopped")
}

// Active reports whether the poll loop is running.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Latest returns the most recent snapshot.
func (a *Aggregator) Latest() (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return Snapshot{}, false
	}
	return *a.latest, true
}

func (a *Aggregator) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.poll()
		}
	}
}

func (a *Aggregator) poll() {
	peers := a.source()
	snap := Snapshot{
		TakenAt:      time.Now(),
		Participants: make([]ParticipantStats, 0, len(peers)),
	}
	for _, p := range peers {
		snap.Participants = append(snap.Participants, reduce(p))
	}

	a.mu.Lock()
	a.latest = &snap
	a.mu.Unlock()

	if a.observer != nil {
		a.observer(snap)
	}
}

// reduce folds a raw stats report into the participant view: stream counters
// are summed across tracks, round-trip time and bitrate come from the
// nominated candidate pair, with the remote-inbound estimate as fallback.
func reduce(p Peer) ParticipantStats {
	out := ParticipantStats{
		ParticipantID:   p.ParticipantID,
		ConnectionState: p.ConnectionState.String(),
		SignalingState:  p.SignalingState.String(),
	}

	var remoteRTT float64
	for _, s := range p.Report {
		switch v := s.(type) {
		case webrtc.InboundRTPStreamStats:
			out.BytesReceived += v.BytesReceived
			out.PacketsReceived += v.PacketsReceived
			out.PacketsLost += v.PacketsLost
			if v.Jitter > out.Jitter {
				out.Jitter = v.Jitter
			}
		case webrtc.OutboundRTPStreamStats:
			out.BytesSent += v.BytesSent
			out.PacketsSent += v.PacketsSent
		case webrtc.RemoteInboundRTPStreamStats:
			if v.RoundTripTime > remoteRTT {
				remoteRTT = v.RoundTripTime
			}
		case webrtc.ICECandidatePairStats:
			if v.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			out.RoundTripTime = v.CurrentRoundTripTime
			out.OutgoingBitrate = v.AvailableOutgoingBitrate
		}
	}
	if out.RoundTripTime == 0 {
		out.RoundTripTime = remoteRTT
	}
	return out
}
