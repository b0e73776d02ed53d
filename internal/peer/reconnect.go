package peer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// ReconnectConfig bounds the retry schedule. Delays grow by doubling from
// BaseDelay and are capped at MaxDelay.
type ReconnectConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Reconnector schedules session recreation after connection failures. Each
// record carries its own attempt counter and backoff so participants retry
// independently.
type Reconnector struct {
	m   *Manager
	cfg ReconnectConfig
	log *zap.Logger
}

func newReconnector(m *Manager, cfg ReconnectConfig, log *zap.Logger) *Reconnector {
	return &Reconnector{m: m, cfg: cfg, log: log.Named("reconnect")}
}

func (r *Reconnector) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = r.cfg.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// onFailure registers one connection failure for the record and schedules the
// next recreation, or destroys the session and reports it terminally failed
// once the attempt budget is spent. Records that are no longer live in the
// manager's table are ignored.
func (r *Reconnector) onFailure(rec *Record) {
	if !r.m.holds(rec) {
		return
	}
	rec.mu.Lock()
	if rec.state == StateFailed || rec.reported || rec.retryTimer != nil {
		rec.mu.Unlock()
		return
	}
	if rec.attempts >= r.cfg.MaxAttempts {
		rec.reported = true
		rec.mu.Unlock()
		r.m.remove(rec)
		_ = rec.closeConn()
		r.log.Warn("reconnection attempts exhausted",
			zap.String("participant_id", rec.ParticipantID),
			zap.Int("attempts", r.cfg.MaxAttempts))
		r.m.transition(rec, StateFailed, rtcerrors.New(
			rtcerrors.KindConnection, rtcerrors.CodeRetriesExhausted,
			"reconnection attempts exhausted"))
		return
	}
	rec.attempts++
	attempt := rec.attempts
	delay := rec.backoff.NextBackOff()
	rec.retryTimer = time.AfterFunc(delay, func() { r.fire(rec) })
	rec.mu.Unlock()

	r.log.Info("reconnect scheduled",
		zap.String("participant_id", rec.ParticipantID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	r.m.transition(rec, StateReconnecting, nil)
}

// fire runs when a retry timer elapses: the stale record is replaced with a
// fresh one that inherits the retry bookkeeping, and a new connection is
// established. Timers belonging to records that were destroyed or replaced in
// the meantime are ignored.
func (r *Reconnector) fire(rec *Record) {
	rec.mu.Lock()
	rec.retryTimer = nil
	rec.mu.Unlock()

	r.m.mu.Lock()
	if r.m.closed || r.m.records[rec.ParticipantID] != rec {
		r.m.mu.Unlock()
		return
	}
	fresh := newRecord(rec.ParticipantID, rec.backoff)
	fresh.attempts = rec.attempts
	attempt := fresh.attempts
	r.m.records[rec.ParticipantID] = fresh
	r.m.mu.Unlock()

	_ = rec.closeConn()

	if err := r.m.establish(context.Background(), fresh); err != nil {
		r.log.Warn("reconnect attempt failed",
			zap.String("participant_id", fresh.ParticipantID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		r.onFailure(fresh)
		return
	}
	r.log.Info("reconnect attempt established, renegotiating",
		zap.String("participant_id", fresh.ParticipantID),
		zap.Int("attempt", attempt))
}
