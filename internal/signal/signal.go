// Package signal is the boundary to the classroom signaling channel. The
// core sends session descriptions and negotiation candidates addressed to a
// participant and receives the remote counterparts; framing and transport
// beyond the WebSocket implementation here are out of scope.
package signal

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Handler receives inbound signaling addressed to this client.
type Handler interface {
	HandleRemoteDescription(participantID string, desc webrtc.SessionDescription)
	HandleRemoteCandidate(participantID string, cand webrtc.ICECandidateInit)
}

// Channel delivers outbound signaling.
type Channel interface {
	SendDescription(ctx context.Context, participantID string, desc webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, participantID string, cand webrtc.ICECandidateInit) error
}
