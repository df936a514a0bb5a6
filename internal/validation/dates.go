package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODate and ClockTime are the canonical wire layouts for date and time entities.
const (
	ISODate   = "2006-01-02"
	ClockTime = "15:04"
)

var (
	ErrBadDate = errors.New("validation: unrecognized date")
	ErrBadTime = errors.New("validation: unrecognized time")

	dayMonthYearRe = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})(?:[/.-](\d{2}|\d{4}))?$`)
	clockRe        = regexp.MustCompile(`^(\d{1,2})(?:\s*(?::|h|H)\s*(\d{2})?)?$`)
)

// Policy carries the single-clinic scheduling constants.
type Policy struct {
	Location     *time.Location
	SlotDuration time.Duration
}

// DefaultPolicy returns the clinic policy with 30-minute slots.
func DefaultPolicy(loc *time.Location) Policy {
	if loc == nil {
		loc = time.UTC
	}
	return Policy{Location: loc, SlotDuration: 30 * time.Minute}
}

// ParseDate accepts YYYY-MM-DD, DD/MM/YYYY, DD/MM/YY and DD/MM (resolved
// against now: the current year, or next year if that day already passed).
// The returned time is midnight in loc.
func ParseDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrBadDate
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(ISODate, s, loc); err == nil {
		return t, nil
	}

	m := dayMonthYearRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, ErrBadDate
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	localNow := now.In(loc)

	year := localNow.Year()
	yearGiven := m[3] != ""
	if yearGiven {
		year, _ = strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// time.Date normalizes 31/02 into March; reject instead of guessing.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	if !yearGiven && t.Before(StartOfDay(localNow)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, nil
}

// ParseTime accepts HH:MM, HHhMM, HHh and bare HH and returns the canonical
// HH:MM form.
func ParseTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return "", ErrBadTime
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return "", fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

// CombineDateTime joins an ISO date and an HH:MM clock into a local instant.
func CombineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(ISODate+" "+ClockTime, strings.TrimSpace(date)+" "+strings.TrimSpace(clock), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("validation: combine %q %q: %w", date, clock, err)
	}
	return t, nil
}

// StartOfDay zeroes the clock of t in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ValidateDateNotPast reports whether date (clock ignored) is today or later
// relative to now, both compared in date's location.
func ValidateDateNotPast(date, now time.Time) Result {
	today := StartOfDay(now.In(date.Location()))
	if StartOfDay(date).Before(today) {
		return Invalid(MsgDateInPast)
	}
	return OK()
}

// ValidateStartNotPast rejects a slot that already started, which only
// matters when the requested date is today.
func ValidateStartNotPast(start, now time.Time) Result {
	if !start.After(now) {
		return Invalid(MsgTimeInPast)
	}
	return OK()
}
