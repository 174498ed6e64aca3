package repository

import (
	"fmt"
	"time"
)

// Timeframe is one of the fixed aggregation durations the engine
// maintains a candle series for.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeMinutes = map[Timeframe]int{
	TF1m: 1, TF3m: 3, TF5m: 5, TF15m: 15, TF30m: 30,
	TF1h: 60, TF2h: 120, TF4h: 240, TF6h: 360, TF12h: 720,
	TF1d: 1440, TF1w: 10080,
}

// maxBars caps retention per timeframe; oldest candles are evicted.
var maxBars = map[Timeframe]int{
	TF1m: 1440, TF3m: 1440, TF5m: 1440, TF15m: 1440, TF30m: 1440,
	TF1h: 1440, TF2h: 1440, TF4h: 720, TF6h: 720, TF12h: 720,
	TF1d: 365, TF1w: 156,
}

// visibleBars is the fixed window size used for view-window slicing.
var visibleBars = map[Timeframe]int{
	TF1m: 120, TF3m: 120, TF5m: 96, TF15m: 96, TF30m: 48,
	TF1h: 48, TF2h: 48, TF4h: 48, TF6h: 32, TF12h: 32,
	TF1d: 30, TF1w: 52,
}

// Timeframes returns all supported timeframes ordered by duration.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF3m, TF5m, TF15m, TF30m, TF1h, TF2h, TF4h, TF6h, TF12h, TF1d, TF1w}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF5m }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Minutes returns the timeframe duration in minutes.
func (tf Timeframe) Minutes() int { return timeframeMinutes[tf] }

// Duration returns the timeframe duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMinutes[tf]) * time.Minute
}

// MaxBars returns the retention cap for the timeframe.
func (tf Timeframe) MaxBars() int { return maxBars[tf] }

// VisibleBars returns the view-window size for the timeframe.
func (tf Timeframe) VisibleBars() int { return visibleBars[tf] }

// BucketStart maps a unix-millisecond timestamp to the UTC-aligned
// start of its bucket for the given timeframe, in milliseconds.
// Minute frames truncate to a multiple of the frame within the hour,
// hour frames to a multiple of the frame within the day, the daily
// frame to UTC midnight, and the weekly frame to the UTC Monday 00:00
// of the containing week. Unknown timeframes are a caller bug.
func BucketStart(tsMillis int64, tf Timeframe) int64 {
	t := time.UnixMilli(tsMillis).UTC()
	mins := timeframeMinutes[tf]

	var b time.Time
	switch {
	case mins < 60:
		b = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()-t.Minute()%mins, 0, 0, time.UTC)
	case mins < 1440:
		hours := mins / 60
		b = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()-t.Hour()%hours, 0, 0, 0, time.UTC)
	case mins == 1440:
		b = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		// Weekly: back to the Monday of the containing week.
		daysFromMonday := (int(t.Weekday()) + 6) % 7
		b = time.Date(t.Year(), t.Month(), t.Day()-daysFromMonday, 0, 0, 0, 0, time.UTC)
	}
	return b.UnixMilli()
}

// Label formats a bucket start as a short display string for the
// given timeframe.
func Label(bucketMillis int64, tf Timeframe) string {
	t := time.UnixMilli(bucketMillis).UTC()

	switch {
	case tf == TF1w:
		return fmt.Sprintf("W%d %d", isoWeek(t), t.Year())
	case tf == TF1d:
		return fmt.Sprintf("%d-%d", t.Day(), int(t.Month()))
	case tf == TF2h || tf == TF4h || tf == TF6h || tf == TF12h:
		return fmt.Sprintf("%d-%d %d:00", t.Day(), int(t.Month()), t.Hour())
	case tf == TF1h:
		return fmt.Sprintf("%d:00", t.Hour())
	default:
		return fmt.Sprintf("%d:%02d", t.Hour(), t.Minute())
	}
}

func isoWeek(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}

// DayKey returns the ISO calendar date (YYYY-MM-DD) of a UTC instant.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextUTCMidnight returns the first UTC midnight strictly after t.
func NextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}
