// Package roster is the boundary to the classroom participant roster. The
// core only reports connection status transitions into it.
package roster

import "sync"

// ConnectionStatus mirrors the peer session lifecycle as shown to the
// classroom UI.
type ConnectionStatus string

const (
	StatusNew          ConnectionStatus = "new"
	StatusNegotiating  ConnectionStatus = "negotiating"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusFailed       ConnectionStatus = "failed"
)

// Store receives participant status transitions.
type Store interface {
	UpdateParticipant(participantID string, status ConnectionStatus)
}

// MemoryStore is an in-process Store, used standalone and as the default
// when no external roster is wired.
type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]ConnectionStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]ConnectionStatus)}
}

func (s *MemoryStore) UpdateParticipant(participantID string, status ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[participantID] = status
}

// Status returns the last reported status for a participant.
func (s *MemoryStore) Status(participantID string) (ConnectionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[participantID]
	return st, ok
}

// Remove drops a participant from the roster.
func (s *MemoryStore) Remove(participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, participantID)
}
