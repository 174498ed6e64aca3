package repository

import (
	"testing"
	"time"
)

func ms(y int, mo time.Month, d, h, m, s int) int64 {
	return time.Date(y, mo, d, h, m, s, 0, time.UTC).UnixMilli()
}

func TestBucketStartMinuteFrames(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		in   int64
		want int64
	}{
		{TF1m, ms(2024, 3, 15, 10, 7, 33), ms(2024, 3, 15, 10, 7, 0)},
		{TF3m, ms(2024, 3, 15, 10, 7, 33), ms(2024, 3, 15, 10, 6, 0)},
		{TF5m, ms(2024, 3, 15, 10, 7, 33), ms(2024, 3, 15, 10, 5, 0)},
		{TF15m, ms(2024, 3, 15, 10, 44, 0), ms(2024, 3, 15, 10, 30, 0)},
		{TF30m, ms(2024, 3, 15, 10, 29, 59), ms(2024, 3, 15, 10, 0, 0)},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.in, tt.tf); got != tt.want {
			t.Errorf("BucketStart(%s) = %d, want %d", tt.tf, got, tt.want)
		}
	}
}

func TestBucketStartHourFrames(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		in   int64
		want int64
	}{
		{TF1h, ms(2024, 3, 15, 10, 44, 12), ms(2024, 3, 15, 10, 0, 0)},
		{TF2h, ms(2024, 3, 15, 11, 0, 0), ms(2024, 3, 15, 10, 0, 0)},
		{TF4h, ms(2024, 3, 15, 15, 59, 59), ms(2024, 3, 15, 12, 0, 0)},
		{TF6h, ms(2024, 3, 15, 5, 0, 0), ms(2024, 3, 15, 0, 0, 0)},
		{TF12h, ms(2024, 3, 15, 13, 0, 0), ms(2024, 3, 15, 12, 0, 0)},
	}
	for _, tt := range tests {
		if got := BucketStart(tt.in, tt.tf); got != tt.want {
			t.Errorf("BucketStart(%s) = %d, want %d", tt.tf, got, tt.want)
		}
	}
}

func TestBucketStartDaily(t *testing.T) {
	in := ms(2024, 3, 15, 23, 59, 59)
	want := ms(2024, 3, 15, 0, 0, 0)
	if got := BucketStart(in, TF1d); got != want {
		t.Errorf("BucketStart(1d) = %d, want %d", got, want)
	}
}

func TestBucketStartWeeklyAlignsToMonday(t *testing.T) {
	// 2024-03-15 is a Friday; the containing week starts Monday 2024-03-11.
	monday := ms(2024, 3, 11, 0, 0, 0)
	tests := []int64{
		ms(2024, 3, 11, 0, 0, 0),  // Monday itself
		ms(2024, 3, 15, 10, 7, 0), // Friday
		ms(2024, 3, 17, 23, 59, 0), // Sunday
	}
	for _, in := range tests {
		if got := BucketStart(in, TF1w); got != monday {
			t.Errorf("BucketStart(1w, %d) = %d, want %d", in, got, monday)
		}
	}
}

func TestBucketStartIdempotent(t *testing.T) {
	in := ms(2024, 3, 15, 10, 7, 33)
	for _, tf := range Timeframes() {
		once := BucketStart(in, tf)
		if twice := BucketStart(once, tf); twice != once {
			t.Errorf("%s: BucketStart not idempotent: %d != %d", tf, twice, once)
		}
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	if got := NormalizeTimeframe("4h"); got != TF4h {
		t.Errorf("NormalizeTimeframe(4h) = %s", got)
	}
	if got := NormalizeTimeframe(""); got != DefaultTimeframe() {
		t.Errorf("NormalizeTimeframe(empty) = %s", got)
	}
	if got := NormalizeTimeframe("7m"); got != DefaultTimeframe() {
		t.Errorf("NormalizeTimeframe(invalid) = %s", got)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		tf   Timeframe
		in   int64
		want string
	}{
		{TF5m, ms(2024, 3, 15, 10, 5, 0), "10:05"},
		{TF1h, ms(2024, 3, 15, 10, 0, 0), "10:00"},
		{TF4h, ms(2024, 3, 15, 12, 0, 0), "15-3 12:00"},
		{TF1d, ms(2024, 3, 15, 0, 0, 0), "15-3"},
		{TF1w, ms(2024, 3, 11, 0, 0, 0), "W11 2024"},
	}
	for _, tt := range tests {
		if got := Label(tt.in, tt.tf); got != tt.want {
			t.Errorf("Label(%s) = %q, want %q", tt.tf, got, tt.want)
		}
	}
}

func TestRetentionTables(t *testing.T) {
	for _, tf := range Timeframes() {
		if tf.MaxBars() <= 0 || tf.VisibleBars() <= 0 {
			t.Errorf("%s: missing retention config", tf)
		}
		if tf.VisibleBars() > tf.MaxBars() {
			t.Errorf("%s: visible %d exceeds cap %d", tf, tf.VisibleBars(), tf.MaxBars())
		}
	}
}

func TestNextUTCMidnight(t *testing.T) {
	in := time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)
	want := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
	if got := NextUTCMidnight(in); !got.Equal(want) {
		t.Errorf("NextUTCMidnight = %v, want %v", got, want)
	}
	if got := DayKey(in); got != "2024-03-15" {
		t.Errorf("DayKey = %q", got)
	}
}
