package peer

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/webrtc/v4"
)

// State is the lifecycle state of one peer session.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is the session state for one remote participant. All fields behind
// mu; the conn pointer is set once during creation and then read-only.
type Record struct {
	ParticipantID string

	mu        sync.Mutex
	conn      Conn
	senders   map[webrtc.RTPCodecType]Sender
	remote    []RemoteTrack
	state     State
	connState webrtc.PeerConnectionState

	// reconnection bookkeeping, carried over when the record is recreated
	// after a retry timer fires
	attempts   int
	backoff    *backoff.ExponentialBackOff
	retryTimer *time.Timer
	reported   bool
}

func newRecord(participantID string, bo *backoff.ExponentialBackOff) *Record {
	return &Record{
		ParticipantID: participantID,
		senders:       make(map[webrtc.RTPCodecType]Sender),
		state:         StateNew,
		backoff:       bo,
	}
}

// State returns the current lifecycle state.
func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) setState(s State) {
	r.mu.Lock()
	r.state = s
	if s == StateConnected {
		r.attempts = 0
		r.backoff.Reset()
	}
	r.mu.Unlock()
}

// ConnectionState returns the last transport-level state reported by the
// connection.
func (r *Record) ConnectionState() webrtc.PeerConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connState
}

func (r *Record) setConnectionState(s webrtc.PeerConnectionState) {
	r.mu.Lock()
	r.connState = s
	r.mu.Unlock()
}

// SignalingState returns the negotiation state of the underlying connection.
func (r *Record) SignalingState() webrtc.SignalingState {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return webrtc.SignalingStateClosed
	}
	return conn.SignalingState()
}

// GetStats returns the connection's raw statistics report. Empty when the
// connection is gone.
func (r *Record) GetStats() webrtc.StatsReport {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return webrtc.StatsReport{}
	}
	return conn.GetStats()
}

// RemoteTracks returns the inbound tracks received so far.
func (r *Record) RemoteTracks() []RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RemoteTrack, len(r.remote))
	copy(out, r.remote)
	return out
}

func (r *Record) addRemote(rt RemoteTrack) {
	r.mu.Lock()
	r.remote = append(r.remote, rt)
	r.mu.Unlock()
}

func (r *Record) sender(kind webrtc.RTPCodecType) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.senders[kind]
	return s, ok
}

func (r *Record) setSender(kind webrtc.RTPCodecType, s Sender) {
	r.mu.Lock()
	r.senders[kind] = s
	r.mu.Unlock()
}

// cancelRetry stops a pending reconnect timer, if any.
func (r *Record) cancelRetry() {
	r.mu.Lock()
	t := r.retryTimer
	r.retryTimer = nil
	r.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// closeConn closes the connection handle, if one was ever established.
func (r *Record) closeConn() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
