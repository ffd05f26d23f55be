package utils

import (
	"time"

	"intraday-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session describes the trading-hours window and the EOD square-off
// cutoff, all as minutes since midnight IST.
type Session struct {
	OpenMinute      int
	CloseMinute     int
	SquareOffMinute int
}

// DefaultSession returns the NSE equity session with a 15:10 square-off.
func DefaultSession() Session {
	return Session{
		OpenMinute:      9*60 + 15,
		CloseMinute:     15*60 + 30,
		SquareOffMinute: 15*60 + 10,
	}
}

// StatusAt returns the market status at the given instant.
func (s Session) StatusAt(t time.Time) models.MarketStatus {
	local := t.In(IndiaLocation)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute < s.OpenMinute:
		return models.MarketPreOpen
	case minute >= s.CloseMinute:
		return models.MarketClosed
	case minute >= s.SquareOffMinute:
		return models.MarketSquareOffDue
	default:
		return models.MarketOpen
	}
}

// InWindow reports whether new entries are permitted at the given
// instant (inside the session and before the square-off cutoff).
func (s Session) InWindow(t time.Time) bool {
	return s.StatusAt(t) == models.MarketOpen
}

// SquareOffDue reports whether the EOD forced-exit cutoff has passed.
func (s Session) SquareOffDue(t time.Time) bool {
	status := s.StatusAt(t)
	return status == models.MarketSquareOffDue || status == models.MarketClosed
}

// CloseTime returns the session close on the day of t.
func (s Session) CloseTime(t time.Time) time.Time {
	local := t.In(IndiaLocation)
	return time.Date(local.Year(), local.Month(), local.Day(),
		s.CloseMinute/60, s.CloseMinute%60, 0, 0, IndiaLocation)
}
