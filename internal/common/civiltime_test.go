package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(layout, value)
	if err != nil {
		t.Fatalf("failed to parse time %q: %v", value, err)
	}
	return parsed
}

func TestParseWallClock(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    WallClock
		wantErr bool
	}{
		{"midnight", "00:00", WallClock{0, 0}, false},
		{"noon", "12:00", WallClock{12, 0}, false},
		{"evening", "22:30", WallClock{22, 30}, false},
		{"whitespace", " 18:00 ", WallClock{18, 0}, false},
		{"missing colon", "1800", WallClock{}, true},
		{"hour out of range", "24:00", WallClock{}, true},
		{"minute out of range", "12:60", WallClock{}, true},
		{"empty", "", WallClock{}, true},
		{"garbage", "ab:cd", WallClock{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWallClock(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMustParseWallClockPanicsOnMalformedInput(t *testing.T) {
	assert.Panics(t, func() { MustParseWallClock("25:00") })
}

// The resolved instant, converted back to the schedule timezone, must
// reproduce the input hour and minute on the reference instant's calendar
// day - regardless of the reference instant's own location.
func TestAtWallClockRoundTrip(t *testing.T) {
	refs := []time.Time{
		mustTime(t, time.RFC3339, "2025-06-15T03:04:05Z"),
		mustTime(t, time.RFC3339, "2025-06-15T23:59:59-07:00"),
		mustTime(t, time.RFC3339, "2025-01-01T00:00:00+14:00"),
	}
	clocks := []string{"00:00", "06:30", "12:00", "18:45", "23:59"}

	for _, ref := range refs {
		refLocal := ref.In(ScheduleLocation())
		for _, hhmm := range clocks {
			got := AtWallClock(hhmm, ref).In(ScheduleLocation())
			want := MustParseWallClock(hhmm)
			assert.Equal(t, want.Hour, got.Hour(), "hour for %s at ref %s", hhmm, ref)
			assert.Equal(t, want.Minute, got.Minute(), "minute for %s at ref %s", hhmm, ref)
			assert.Equal(t, refLocal.YearDay(), got.YearDay(), "day for %s at ref %s", hhmm, ref)
		}
	}
}

func TestAtWallClockIndependentOfHostTimezone(t *testing.T) {
	ref := mustTime(t, time.RFC3339, "2025-03-10T15:00:00Z")

	// The same reference expressed in a different zone must resolve to the
	// identical absolute instant.
	inNY := ref.In(time.FixedZone("EST", -5*3600))
	assert.True(t, AtWallClock("12:00", ref).Equal(AtWallClock("12:00", inNY)))
}

func TestSameWallMinute(t *testing.T) {
	base := AtWallClock("18:00", mustTime(t, time.RFC3339, "2025-06-15T03:00:00Z"))

	assert.True(t, SameWallMinute(base, base.Add(30*time.Second)))
	assert.False(t, SameWallMinute(base, base.Add(time.Minute)))
	assert.False(t, SameWallMinute(base, base.Add(-time.Second)))
	assert.False(t, SameWallMinute(base, base.Add(24*time.Hour)))
}

func TestTruncateToMinute(t *testing.T) {
	ref := mustTime(t, time.RFC3339, "2025-06-15T03:04:45Z")
	got := TruncateToMinute(ref)

	assert.Equal(t, 0, got.Second())
	assert.True(t, SameWallMinute(ref, got))
	assert.True(t, got.Before(ref) || got.Equal(ref))
}

// Consecutive publish times must keep their configured gap after conversion
// to absolute instants.
func TestPublishSlotSpacing(t *testing.T) {
	ref := mustTime(t, time.RFC3339, "2025-06-15T01:00:00Z")

	noon := AtWallClock("12:00", ref)
	evening := AtWallClock("18:00", ref)
	night := AtWallClock("22:00", ref)

	assert.Equal(t, 6*time.Hour, evening.Sub(noon))
	assert.Equal(t, 4*time.Hour, night.Sub(evening))
}
