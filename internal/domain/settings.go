/**
 * @description
 * Raffle math settings. These are the admin-tunable knobs of the draw engine:
 * entry cost, draw interval, winner count, position share table and house
 * edge. They are validated before they can ever reach a draw, persisted so
 * restarts keep admin changes, and snapshot-read at the start of each draw so
 * a mid-cycle change never retroactively alters an in-flight raffle's math.
 */

package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfiguration is returned when raffle settings fail validation.
// It is fatal at load/save time: invalid settings are rejected before they
// can corrupt a future draw.
var ErrInvalidConfiguration = errors.New("invalid raffle configuration")

// shareSumTolerance absorbs float representation noise when checking that
// position shares sum to exactly 1.
const shareSumTolerance = 1e-9

// Settings holds the raffle math configuration.
type Settings struct {
	EntryCost           int64     `json:"entry_cost"`
	DrawIntervalMinutes int       `json:"draw_interval_minutes"`
	WinnerCount         int       `json:"winner_count"`
	PositionShares      []float64 `json:"position_shares"`
	HouseEdge           float64   `json:"house_edge"`
	StartingBalance     int64     `json:"starting_balance"`
}

// DefaultSettings mirrors the live-event defaults: 10 tokens per entry,
// hourly draws, 5 winners splitting 40/25/18/10/7 after a 10% house edge,
// and 100 tokens on every fresh token.
func DefaultSettings() Settings {
	return Settings{
		EntryCost:           10,
		DrawIntervalMinutes: 60,
		WinnerCount:         5,
		PositionShares:      []float64{0.40, 0.25, 0.18, 0.10, 0.07},
		HouseEdge:           0.10,
		StartingBalance:     100,
	}
}

// Interval returns the draw interval as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.DrawIntervalMinutes) * time.Minute
}

// Validate rejects settings that would corrupt a draw. All violations wrap
// ErrInvalidConfiguration so callers can match with errors.Is.
func (s Settings) Validate() error {
	if s.EntryCost <= 0 {
		return fmt.Errorf("%w: entry cost must be positive, got %d", ErrInvalidConfiguration, s.EntryCost)
	}
	if s.StartingBalance < 0 {
		return fmt.Errorf("%w: starting balance must not be negative, got %d", ErrInvalidConfiguration, s.StartingBalance)
	}
	if s.DrawIntervalMinutes <= 0 {
		return fmt.Errorf("%w: draw interval must be positive, got %d minutes", ErrInvalidConfiguration, s.DrawIntervalMinutes)
	}
	if s.WinnerCount <= 0 {
		return fmt.Errorf("%w: winner count must be positive, got %d", ErrInvalidConfiguration, s.WinnerCount)
	}
	if len(s.PositionShares) != s.WinnerCount {
		return fmt.Errorf("%w: %d position shares configured for %d winners", ErrInvalidConfiguration, len(s.PositionShares), s.WinnerCount)
	}
	if s.HouseEdge < 0 || s.HouseEdge >= 1 {
		return fmt.Errorf("%w: house edge must be in [0, 1), got %v", ErrInvalidConfiguration, s.HouseEdge)
	}
	sum := 0.0
	for i, share := range s.PositionShares {
		if share <= 0 {
			return fmt.Errorf("%w: position share %d must be positive, got %v", ErrInvalidConfiguration, i+1, share)
		}
		sum += share
	}
	if math.Abs(sum-1.0) > shareSumTolerance {
		return fmt.Errorf("%w: position shares sum to %v, want 1.0", ErrInvalidConfiguration, sum)
	}
	return nil
}
