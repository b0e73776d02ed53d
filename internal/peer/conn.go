// Package peer owns one media connection per remote participant: creation,
// track attachment, candidate relay, state observation, reconnection and
// teardown.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmedia/internal/capture"
)

// Sender is the outgoing leg of one attached track. ReplaceTrack swaps the
// outgoing media in place, without renegotiation.
type Sender interface {
	Track() capture.Track
	ReplaceTrack(t capture.Track) error
}

// RemoteTrack is an inbound media track received from the participant.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// Conn is the connection handle owned by a peer session record. The
// production implementation wraps a pion PeerConnection.
type Conn interface {
	AddTrack(t capture.Track) (Sender, error)

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error

	OnTrack(fn func(RemoteTrack))
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	GetStats() webrtc.StatsReport
	SignalingState() webrtc.SignalingState

	Close() error
}

// ConnFactory opens fresh connection handles.
type ConnFactory interface {
	NewConn() (Conn, error)
}
