package telemetra

import (
	"testing"
	"time"
)

func TestResolutionWidth(t *testing.T) {
	tests := []struct {
		res  Resolution
		want time.Duration
	}{
		{Resolution5Min, 5 * time.Minute},
		{ResolutionHour, time.Hour},
		{ResolutionDay, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.res.Width(); got != tt.want {
			t.Errorf("%v.Width() = %v, want %v", tt.res, got, tt.want)
		}
	}
}

func TestResolutionAlignDown(t *testing.T) {
	base := time.Date(2025, 6, 1, 13, 37, 42, 123, time.UTC).UnixNano()

	tests := []struct {
		name string
		res  Resolution
		ts   int64
		want int64
	}{
		{"5min", Resolution5Min, base, time.Date(2025, 6, 1, 13, 35, 0, 0, time.UTC).UnixNano()},
		{"hour", ResolutionHour, base, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC).UnixNano()},
		{"day", ResolutionDay, base, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixNano()},
		{"exact boundary", ResolutionHour, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC).UnixNano(), time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC).UnixNano()},
		{"negative", ResolutionHour, -1, -int64(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.AlignDown(tt.ts); got != tt.want {
				t.Errorf("AlignDown(%d) = %d, want %d", tt.ts, got, tt.want)
			}
		})
	}
}

func TestResolutionCascade(t *testing.T) {
	if finer, ok := ResolutionDay.Finer(); !ok || finer != ResolutionHour {
		t.Errorf("Day.Finer() = %v, %v", finer, ok)
	}
	if finer, ok := ResolutionHour.Finer(); !ok || finer != Resolution5Min {
		t.Errorf("Hour.Finer() = %v, %v", finer, ok)
	}
	if _, ok := Resolution5Min.Finer(); ok {
		t.Error("5min.Finer() ok = true, want false")
	}
	if coarser, ok := Resolution5Min.Coarser(); !ok || coarser != ResolutionHour {
		t.Errorf("5min.Coarser() = %v, %v", coarser, ok)
	}
	if _, ok := ResolutionDay.Coarser(); ok {
		t.Error("Day.Coarser() ok = true, want false")
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
		ok   bool
	}{
		{"5min", Resolution5Min, true},
		{"hourly", ResolutionHour, true},
		{"daily", ResolutionDay, true},
		{"raw", ResolutionRaw, true},
		{"auto", ResolutionAuto, true},
		{"weekly", ResolutionRaw, false},
	}
	for _, tt := range tests {
		got, ok := ParseResolution(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseResolution(%q) = %v, %v", tt.in, got, ok)
		}
	}
}
