package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/roster"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// Event is a lifecycle notification emitted by the Manager. Terminal is set
// exactly once per participant, when reconnection attempts are exhausted.
type Event struct {
	ParticipantID string
	State         State
	Terminal      bool
	Err           error
}

// Manager owns one Record per remote participant and keeps the roster and
// reconnection policy in sync with connection state.
type Manager struct {
	factory     ConnFactory
	signal      SignalSender
	roster      roster.Store
	localTracks func() []capture.Track
	recon       *Reconnector
	log         *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	closed  bool

	events chan Event
}

// SignalSender is the outbound signaling surface the manager needs.
type SignalSender interface {
	SendDescription(ctx context.Context, participantID string, desc webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, participantID string, cand webrtc.ICECandidateInit) error
}

func NewManager(factory ConnFactory, sig SignalSender, store roster.Store, localTracks func() []capture.Track, rcfg ReconnectConfig, log *zap.Logger) *Manager {
	m := &Manager{
		factory:     factory,
		signal:      sig,
		roster:      store,
		localTracks: localTracks,
		log:         log.Named("peer"),
		records:     make(map[string]*Record),
		events:      make(chan Event, 64),
	}
	m.recon = newReconnector(m, rcfg, log)
	return m
}

// Events exposes lifecycle notifications. The channel is buffered; events are
// dropped rather than blocking connection callbacks when nobody is reading.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Create establishes a session for the participant, attaching the current
// local tracks and sending the initial offer. An existing session for the
// same participant is torn down first.
func (m *Manager) Create(ctx context.Context, participantID string) (*Record, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, rtcerrors.New(rtcerrors.KindConnection, rtcerrors.CodeUnknown, "peer manager is shut down")
	}
	if old, ok := m.records[participantID]; ok {
		delete(m.records, participantID)
		old.cancelRetry()
		defer func() { _ = old.closeConn() }()
	}
	rec := newRecord(participantID, m.recon.newBackoff())
	m.records[participantID] = rec
	m.mu.Unlock()

	if err := m.establish(ctx, rec); err != nil {
		m.remove(rec)
		return nil, err
	}
	return rec, nil
}

// establish dials a connection for the record, attaches local tracks, wires
// the observers and kicks off negotiation.
func (m *Manager) establish(ctx context.Context, rec *Record) error {
	conn, err := m.factory.NewConn()
	if err != nil {
		return rtcerrors.Wrap(err, rtcerrors.KindConnection, rtcerrors.CodeUnknown, "failed to create peer connection")
	}
	rec.mu.Lock()
	rec.conn = conn
	rec.mu.Unlock()

	for _, t := range m.localTracks() {
		sender, err := conn.AddTrack(t)
		if err != nil {
			_ = rec.closeConn()
			return rtcerrors.Wrap(err, rtcerrors.KindConnection, rtcerrors.CodeUnknown, "failed to attach local track")
		}
		rec.setSender(t.Kind(), sender)
	}

	conn.OnTrack(func(rt RemoteTrack) {
		rec.addRemote(rt)
		m.log.Info("remote track received",
			zap.String("participant_id", rec.ParticipantID),
			zap.String("kind", rt.Kind().String()))
		m.transition(rec, StateConnected, nil)
	})
	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		// Candidate delivery is fire-and-forget; a lost candidate at worst
		// delays connectivity until the next one lands.
		go func() {
			if err := m.signal.SendCandidate(context.Background(), rec.ParticipantID, cand); err != nil {
				m.log.Warn("failed to forward candidate",
					zap.String("participant_id", rec.ParticipantID),
					zap.Error(err))
			}
		}()
	})
	conn.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.handleConnectionState(rec, s)
	})

	offer, err := conn.CreateOffer()
	if err != nil {
		_ = rec.closeConn()
		return rtcerrors.Wrap(err, rtcerrors.KindConnection, rtcerrors.CodeUnknown, "failed to create offer")
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		_ = rec.closeConn()
		return rtcerrors.Wrap(err, rtcerrors.KindConnection, rtcerrors.CodeUnknown, "failed to set local description")
	}
	if err := m.signal.SendDescription(ctx, rec.ParticipantID, offer); err != nil {
		_ = rec.closeConn()
		return err
	}

	m.transition(rec, StateNegotiating, nil)
	return nil
}

func (m *Manager) handleConnectionState(rec *Record, s webrtc.PeerConnectionState) {
	rec.setConnectionState(s)
	m.log.Debug("connection state changed",
		zap.String("participant_id", rec.ParticipantID),
		zap.String("state", s.String()))

	// Late callbacks from a replaced or destroyed record's old connection
	// must not reach the roster or the reconnector.
	if !m.holds(rec) {
		return
	}

	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.transition(rec, StateConnected, nil)
	case webrtc.PeerConnectionStateDisconnected:
		m.transition(rec, StateDisconnected, nil)
		m.recon.onFailure(rec)
	case webrtc.PeerConnectionStateFailed:
		m.transition(rec, StateDisconnected, nil)
		m.recon.onFailure(rec)
	}
}

// transition applies the state, reports it to the roster and emits an event.
func (m *Manager) transition(rec *Record, s State, err error) {
	rec.setState(s)
	m.roster.UpdateParticipant(rec.ParticipantID, rosterStatus(s))
	m.emit(Event{
		ParticipantID: rec.ParticipantID,
		State:         s,
		Terminal:      s == StateFailed,
		Err:           err,
	})
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event dropped, consumer not keeping up",
			zap.String("participant_id", ev.ParticipantID),
			zap.String("state", ev.State.String()))
	}
}

func rosterStatus(s State) roster.ConnectionStatus {
	switch s {
	case StateNew:
		return roster.StatusNew
	case StateNegotiating:
		return roster.StatusNegotiating
	case StateConnected:
		return roster.StatusConnected
	case StateDisconnected:
		return roster.StatusDisconnected
	case StateReconnecting:
		return roster.StatusReconnecting
	default:
		return roster.StatusFailed
	}
}

// Get returns the record for a participant.
func (m *Manager) Get(participantID string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[participantID]
	return rec, ok
}

// Records snapshots all current records.
func (m *Manager) Records() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// Count returns the number of tracked participants.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// holds reports whether rec is still the live record for its participant.
// Recreation replaces the pointer, so identity doubles as a generation check
// against stale retry timers.
func (m *Manager) holds(rec *Record) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[rec.ParticipantID] == rec
}

func (m *Manager) remove(rec *Record) {
	m.mu.Lock()
	if m.records[rec.ParticipantID] == rec {
		delete(m.records, rec.ParticipantID)
	}
	m.mu.Unlock()
}

// Destroy tears down the session for a participant: pending retries are
// cancelled and the connection is closed. No-op for unknown participants.
func (m *Manager) Destroy(participantID string) {
	m.mu.Lock()
	rec, ok := m.records[participantID]
	if ok {
		delete(m.records, participantID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	rec.cancelRetry()
	if err := rec.closeConn(); err != nil {
		m.log.Warn("error closing peer connection",
			zap.String("participant_id", participantID),
			zap.Error(err))
	}
	m.log.Info("peer session destroyed", zap.String("participant_id", participantID))
}

// CancelReconnects stops every pending retry timer without touching the
// connections. Used during teardown so no recreation races the close.
func (m *Manager) CancelReconnects() {
	for _, rec := range m.Records() {
		rec.cancelRetry()
	}
}

// Shutdown destroys every session and refuses further creates. Pending retry
// timers are cancelled first so no recreation races the teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	recs := make([]*Record, 0, len(m.records))
	for id, rec := range m.records {
		recs = append(recs, rec)
		delete(m.records, id)
	}
	m.mu.Unlock()

	for _, rec := range recs {
		rec.cancelRetry()
		_ = rec.closeConn()
	}
}

// ReplaceOutgoingTrack swaps the outgoing track of the given kind on every
// session that carries one. Individual failures do not stop the sweep.
func (m *Manager) ReplaceOutgoingTrack(kind webrtc.RTPCodecType, t capture.Track) error {
	var errs []error
	for _, rec := range m.Records() {
		sender, ok := rec.sender(kind)
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(t); err != nil {
			m.log.Warn("track replacement failed",
				zap.String("participant_id", rec.ParticipantID),
				zap.String("kind", kind.String()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleRemoteDescription applies an answer, or answers an inbound offer.
func (m *Manager) HandleRemoteDescription(participantID string, desc webrtc.SessionDescription) {
	rec, ok := m.Get(participantID)
	if !ok {
		m.log.Warn("description for unknown participant", zap.String("participant_id", participantID))
		return
	}
	rec.mu.Lock()
	conn := rec.conn
	rec.mu.Unlock()
	if conn == nil {
		return
	}

	if err := conn.SetRemoteDescription(desc); err != nil {
		m.log.Warn("failed to apply remote description",
			zap.String("participant_id", participantID),
			zap.Error(err))
		return
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return
	}

	answer, err := conn.CreateAnswer()
	if err != nil {
		m.log.Warn("failed to create answer", zap.String("participant_id", participantID), zap.Error(err))
		return
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		m.log.Warn("failed to set local answer", zap.String("participant_id", participantID), zap.Error(err))
		return
	}
	if err := m.signal.SendDescription(context.Background(), participantID, answer); err != nil {
		m.log.Warn("failed to send answer", zap.String("participant_id", participantID), zap.Error(err))
	}
}

// HandleRemoteCandidate adds a trickled candidate to the participant's
// connection.
func (m *Manager) HandleRemoteCandidate(participantID string, cand webrtc.ICECandidateInit) {
	rec, ok := m.Get(participantID)
	if !ok {
		m.log.Warn("candidate for unknown participant", zap.String("participant_id", participantID))
		return
	}
	rec.mu.Lock()
	conn := rec.conn
	rec.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.AddICECandidate(cand); err != nil {
		m.log.Warn("failed to add remote candidate",
			zap.String("participant_id", participantID),
			zap.Error(err))
	}
}
