// Package clock owns a session's simulated time: stepping, jumping, and
// wall-clock-driven playback. All methods mutate the session in place; the
// caller holds the session's serializer.
package clock

import (
	"time"

	"github.com/shopspring/decimal"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/models"
)

// Clock advances a session's simulated time. It is stateless; the session
// record carries the clock state.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// AdvanceBy moves simulated time forward by d, clamped to sim_end. It returns
// the previous and the new simulated time.
func (c *Clock) AdvanceBy(s *models.Session, d time.Duration) (time.Time, time.Time, error) {
	if d < 0 {
		return time.Time{}, time.Time{}, errs.Field("duration", "duration must not be negative")
	}
	if s.AtEnd() {
		return time.Time{}, time.Time{}, errs.E(errs.KindCompleted, "session has reached sim_end")
	}
	prev := s.SimNow
	next := prev.Add(d)
	if next.After(s.SimEnd) {
		next = s.SimEnd
	}
	s.SimNow = next
	return prev, next, nil
}

// AdvanceTo jumps simulated time to t. Backwards travel is rejected; targets
// past sim_end are clamped.
func (c *Clock) AdvanceTo(s *models.Session, t time.Time) (time.Time, time.Time, error) {
	if t.Before(s.SimStart) {
		return time.Time{}, time.Time{}, errs.Field("target_time", "target is before sim_start")
	}
	if t.Before(s.SimNow) {
		return time.Time{}, time.Time{}, errs.Field("target_time", "cannot move simulated time backwards")
	}
	if s.AtEnd() {
		return time.Time{}, time.Time{}, errs.E(errs.KindCompleted, "session has reached sim_end")
	}
	return c.AdvanceBy(s, t.Sub(s.SimNow))
}

// Tick converts the wall-clock delta since the last tick into simulated time
// via the session's speed and applies it. Used while the session is playing;
// playback is best effort, skew under load is acceptable.
func (c *Clock) Tick(s *models.Session, wallNow time.Time) (time.Time, time.Time, error) {
	if s.Playback != models.PlaybackPlaying {
		return s.SimNow, s.SimNow, nil
	}
	ref := s.LastTickWall
	s.LastTickWall = wallNow
	if ref.IsZero() || !wallNow.After(ref) {
		return s.SimNow, s.SimNow, nil
	}
	elapsed := decimal.NewFromInt(wallNow.Sub(ref).Nanoseconds())
	simNanos := elapsed.Mul(s.Speed).IntPart()
	return c.AdvanceBy(s, time.Duration(simNanos))
}

// Play switches the session to playing mode and snapshots the wall-clock
// reference.
func (c *Clock) Play(s *models.Session, wallNow time.Time) error {
	if s.AtEnd() {
		return errs.E(errs.KindCompleted, "session has reached sim_end")
	}
	s.Playback = models.PlaybackPlaying
	s.LastTickWall = wallNow
	return nil
}

// Pause switches the session back to paused mode.
func (c *Clock) Pause(s *models.Session) {
	s.Playback = models.PlaybackPaused
	s.LastTickWall = time.Time{}
}

// SetSpeed changes the playback speed multiplier. Speed must be positive.
func (c *Clock) SetSpeed(s *models.Session, speed decimal.Decimal) error {
	if !speed.IsPositive() {
		return errs.Field("speed", "speed must be greater than zero")
	}
	s.Speed = speed
	return nil
}
