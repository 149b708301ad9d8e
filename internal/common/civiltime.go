// Package common provides shared utilities across the application.
package common

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// All schedule math runs in a single fixed civil timezone so that publish
// slots, synthesis instants, and collection windows are stable regardless of
// the host process's local timezone configuration.

var (
	scheduleLocation   = mustLoadLocation("Asia/Seoul")
	scheduleLocationMu sync.RWMutex
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("failed to load timezone %q: %v", name, err))
	}
	return loc
}

// SetScheduleTimezone sets the civil timezone used for all schedule math.
// Called during app initialization from config.
func SetScheduleTimezone(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", name, err)
	}
	scheduleLocationMu.Lock()
	scheduleLocation = loc
	scheduleLocationMu.Unlock()
	return nil
}

// ScheduleLocation returns the civil timezone for schedule math.
func ScheduleLocation() *time.Location {
	scheduleLocationMu.RLock()
	defer scheduleLocationMu.RUnlock()
	return scheduleLocation
}

// WallClock is a parsed HH:MM time of day.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses an "HH:MM" string.
func ParseWallClock(s string) (WallClock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return WallClock{}, fmt.Errorf("invalid wall clock time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return WallClock{}, fmt.Errorf("invalid hour in wall clock time %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return WallClock{}, fmt.Errorf("invalid minute in wall clock time %q", s)
	}
	return WallClock{Hour: hour, Minute: minute}, nil
}

// MustParseWallClock parses an "HH:MM" string and panics on malformed input.
// Publish times are validated at workspace save time, so a malformed value
// reaching schedule math is a programming error, not a runtime fault.
func MustParseWallClock(s string) WallClock {
	wc, err := ParseWallClock(s)
	if err != nil {
		panic(err.Error())
	}
	return wc
}

// String returns the canonical "HH:MM" form.
func (w WallClock) String() string {
	return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute)
}

// On returns the absolute instant at which this wall clock time occurs on the
// reference instant's calendar day, in the schedule timezone.
func (w WallClock) On(ref time.Time) time.Time {
	local := ref.In(ScheduleLocation())
	return time.Date(local.Year(), local.Month(), local.Day(), w.Hour, w.Minute, 0, 0, ScheduleLocation())
}

// AtWallClock resolves an "HH:MM" string against a reference instant.
// See WallClock.On; malformed input panics.
func AtWallClock(hhmm string, ref time.Time) time.Time {
	return MustParseWallClock(hhmm).On(ref)
}

// SameWallMinute reports whether two instants fall on the same hour and
// minute of the same calendar day in the schedule timezone. Used for the
// exact-minute synthesis and publish slot matches.
func SameWallMinute(a, b time.Time) bool {
	la := a.In(ScheduleLocation())
	lb := b.In(ScheduleLocation())
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay() &&
		la.Hour() == lb.Hour() && la.Minute() == lb.Minute()
}

// TruncateToMinute drops seconds and sub-second precision in the schedule
// timezone. The heartbeat loop keys its "last processed minute" guard on this.
func TruncateToMinute(t time.Time) time.Time {
	local := t.In(ScheduleLocation())
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, ScheduleLocation())
}
