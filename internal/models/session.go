package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlaybackState is the clock mode of a session
type PlaybackState string

const (
	PlaybackPaused      PlaybackState = "paused"
	PlaybackPlaying     PlaybackState = "playing"
	PlaybackStepPending PlaybackState = "step_pending"
)

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCanceled  SessionStatus = "canceled"
)

// Session is an isolated simulation universe: its own clock, accounts,
// orders, and positions. simStart <= simNow <= simEnd always holds and
// SimNow never decreases.
type Session struct {
	ID       uuid.UUID     `json:"id"`
	OwnerKey string        `json:"-"`
	Name     string        `json:"name,omitempty"`
	SimStart time.Time     `json:"sim_start"`
	SimEnd   time.Time     `json:"sim_end"`
	SimNow   time.Time     `json:"sim_now"`
	Playback PlaybackState `json:"playback"`
	Speed    decimal.Decimal `json:"speed"`

	InitialCash   decimal.Decimal `json:"initial_cash"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`

	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`

	// Wall-clock reference for playback; maintained in memory by the
	// controller, never persisted.
	LastTickWall time.Time `json:"-"`
}

// AtEnd reports whether the clock has reached the end of the replay window.
func (s *Session) AtEnd() bool {
	return !s.SimNow.Before(s.SimEnd)
}
