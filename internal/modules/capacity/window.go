package capacity

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidWindow = errors.New("invalid time window")

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// ParseWindow combines a calendar date with start/end clock times in loc and returns UTC instants.
// An end of "24:00" means midnight of the following day.
func ParseWindow(date, start, end string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidWindow, date)
	}
	s, err := atClock(day, start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := atClock(day, end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidWindow, end, start)
	}
	return s.UTC(), e.UTC(), nil
}

func atClock(day time.Time, hhmm string) (time.Time, error) {
	if hhmm == "24:00" {
		return day.AddDate(0, 0, 1), nil
	}
	c, err := time.Parse(clockLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidWindow, hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect. Touching boundaries do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}
