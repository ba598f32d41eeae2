// Package timewindow holds the wall-clock arithmetic shared by availability
// and appointment checks. Times are minutes since midnight in the tenant's
// local clock; nothing here is timezone aware.
package timewindow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	dateLayout    = "2006-01-02"
)

var (
	ErrInvalidFormat = errors.New("invalid time format")
	ErrInvalidDate   = errors.New("invalid date")

	hhmm = regexp.MustCompile(`^(?:[0-1]\d|2[0-3]):[0-5]\d$`)
)

// ParseTime converts "HH:MM" (24h) into minutes since midnight.
func ParseTime(s string) (int, error) {
	if !hhmm.MatchString(s) {
		return 0, fmt.Errorf("%w: %q (want HH:MM)", ErrInvalidFormat, s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return h*60 + m, nil
}

// FormatTime renders minutes since midnight as "HH:MM". 1440 renders as "24:00".
func FormatTime(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Empty intervals never overlap anything.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	if aStart >= aEnd || bStart >= bEnd {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}

// Window is a half-open [Start, End) interval in minutes since midnight.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func NewWindow(start, end string) (Window, error) {
	s, err := ParseTime(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseTime(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) Valid() bool {
	return w.Start >= 0 && w.End <= MinutesPerDay && w.Start < w.End
}

func (w Window) Overlaps(o Window) bool {
	return Overlaps(w.Start, w.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return w.Start <= o.Start && o.End <= w.End
}

func (w Window) String() string {
	return FormatTime(w.Start) + "-" + FormatTime(w.End)
}

// ParseDate parses a calendar date (YYYY-MM-DD) to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, s)
	}
	return d, nil
}

// DateOf drops the clock part of t, keeping its calendar date in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// Weekday returns 0 (Sunday) through 6 (Saturday).
func Weekday(date time.Time) int {
	return int(date.Weekday())
}

// MinuteOfDay returns minutes since midnight for t in its own location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
