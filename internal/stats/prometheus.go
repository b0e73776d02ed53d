package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exporter publishes the reduced snapshots as Prometheus gauges. Wire its
// Observe method as the aggregator's observer.
type Exporter struct {
	participants prometheus.Gauge

	bytesSent       *prometheus.GaugeVec
	bytesReceived   *prometheus.GaugeVec
	packetsLost     *prometheus.GaugeVec
	jitter          *prometheus.GaugeVec
	roundTripTime   *prometheus.GaugeVec
	outgoingBitrate *prometheus.GaugeVec
}

func NewExporter() *Exporter {
	return &Exporter{
		participants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "classmedia_participants",
			Help: "Number of participants with a peer session",
		}),
		bytesSent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_bytes_sent",
			Help: "Bytes sent to the participant",
		}, []string{"participant_id"}),
		bytesReceived: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_bytes_received",
			Help: "Bytes received from the participant",
		}, []string{"participant_id"}),
		packetsLost: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_packets_lost",
			Help: "Inbound packets lost for the participant",
		}, []string{"participant_id"}),
		jitter: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_jitter_seconds",
			Help: "Worst inbound jitter across the participant's streams",
		}, []string{"participant_id"}),
		roundTripTime: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_rtt_seconds",
			Help: "Round-trip time to the participant",
		}, []string{"participant_id"}),
		outgoingBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "classmedia_peer_outgoing_bitrate_bps",
			Help: "Available outgoing bitrate towards the participant",
		}, []string{"participant_id"}),
	}
}

// Observe replaces the exported values with the given snapshot. Participants
// absent from the snapshot are dropped so departed peers do not linger.
func (e *Exporter) Observe(snap Snapshot) {
	e.participants.Set(float64(len(snap.Participants)))

	e.bytesSent.Reset()
	e.bytesReceived.Reset()
	e.packetsLost.Reset()
	e.jitter.Reset()
	e.roundTripTime.Reset()
	e.outgoingBitrate.Reset()

	for _, p := range snap.Participants {
		e.bytesSent.WithLabelValues(p.ParticipantID).Set(float64(p.BytesSent))
		e.bytesReceived.WithLabelValues(p.ParticipantID).Set(float64(p.BytesReceived))
		e.packetsLost.WithLabelValues(p.ParticipantID).Set(float64(p.PacketsLost))
		e.jitter.WithLabelValues(p.ParticipantID).Set(p.Jitter)
		e.roundTripTime.WithLabelValues(p.ParticipantID).Set(p.RoundTripTime)
		e.outgoingBitrate.WithLabelValues(p.ParticipantID).Set(p.OutgoingBitrate)
	}
}
