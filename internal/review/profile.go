package review

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Profile struct {
	UserID      string
	Timezone    string
	WindowStart string // HH:MM
	WindowEnd   string // HH:MM
	DailyLimit  int    // <= 0 means no limit
	Paused      bool
}

func (p Profile) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// InWindow reports whether now, converted to the profile timezone, falls into the delivery window.
func (p Profile) InWindow(now time.Time) (bool, error) {
	loc, err := p.Location()
	if err != nil {
		return false, err
	}
	start, err := ParseClock(p.WindowStart)
	if err != nil {
		return false, fmt.Errorf("window start: %w", err)
	}
	end, err := ParseClock(p.WindowEnd)
	if err != nil {
		return false, fmt.Errorf("window end: %w", err)
	}

	local := now.In(loc)
	return WithinWindow(local.Hour()*60+local.Minute(), start, end), nil
}

func (p Profile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	if _, err := ParseClock(p.WindowStart); err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	if _, err := ParseClock(p.WindowEnd); err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	return nil
}

// WithinWindow compares minute-of-day values. Both bounds are inclusive.
// A window with start > end crosses midnight.
func WithinWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// ParseClock converts HH:MM into minutes since midnight.
func ParseClock(val string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(val), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, val)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidClock, val)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidClock, val)
	}

	return hour*60 + minute, nil
}

// StartOfDay returns local midnight of the day containing now.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
