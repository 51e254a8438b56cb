package lending

import "time"

// =============================================================================
// CALENDAR - Buckets timestamps into protocol days
// =============================================================================

// Calendar maps unix timestamps to day indices. Offset shifts the day
// boundary to the protocol time zone (a negative offset moves midnight later
// in UTC terms).
type Calendar struct {
	Offset int64
}

// DefaultCalendar uses DefaultDayBoundaryOffset.
func DefaultCalendar() Calendar {
	return Calendar{Offset: DefaultDayBoundaryOffset}
}

// DayIndex returns floor((ts + Offset) / SecondsPerDay).
func (c Calendar) DayIndex(ts int64) int64 {
	return floorDiv(ts+c.Offset, SecondsPerDay)
}

// DayStart returns the first timestamp belonging to day.
func (c Calendar) DayStart(day int64) int64 {
	return day*SecondsPerDay - c.Offset
}

// DueDay is the last day accruing at remuneratory terms only.
func (c Calendar) DueDay(s *SubLoan) int64 {
	return c.DayIndex(s.StartTimestamp) + int64(s.Current.Duration)
}

// DaysBetween counts whole protocol days from a to b.
func (c Calendar) DaysBetween(a, b int64) int64 {
	return c.DayIndex(b) - c.DayIndex(a)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies "now". The engine never reads wall time directly so tests
// and replays can pin it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns the same instant. It can be moved with Set.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }

func (c *FixedClock) Set(t time.Time) { c.At = t }

func (c *FixedClock) Advance(d time.Duration) { c.At = c.At.Add(d) }
