package telemetra

import (
	"testing"
	"time"
)

func obsAt(b *Bucket, base time.Time, offset time.Duration, value float64, q Quality) {
	r := FloatReading("inv-01", "energy_total", base.Add(offset), value)
	r.Quality = q
	b.observe(r)
}

func TestBucketObserve(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &Bucket{DeviceID: "inv-01", Metric: "energy_total", Start: base.UnixNano(), Resolution: Resolution5Min}

	obsAt(b, base, 0, 100, QualityGood)
	obsAt(b, base, time.Minute, 120, QualityGood)
	obsAt(b, base, 2*time.Minute, 90, QualitySuspect)
	obsAt(b, base, 3*time.Minute, 140, QualityGood)

	if b.Count != 4 || b.NumCount != 4 {
		t.Fatalf("Count = %d, NumCount = %d, want 4, 4", b.Count, b.NumCount)
	}
	if b.GoodCount != 3 {
		t.Errorf("GoodCount = %d, want 3", b.GoodCount)
	}
	if b.Min != 90 || b.Max != 140 {
		t.Errorf("Min, Max = %v, %v, want 90, 140", b.Min, b.Max)
	}
	if b.First != 100 || b.Last != 140 {
		t.Errorf("First, Last = %v, %v, want 100, 140", b.First, b.Last)
	}
	if b.Delta != 40 {
		t.Errorf("Delta = %v, want 40", b.Delta)
	}
	if want := (100.0 + 120 + 90 + 140) / 4; b.Avg != want {
		t.Errorf("Avg = %v, want %v", b.Avg, want)
	}
	if b.GoodPercent() != 75 {
		t.Errorf("GoodPercent() = %v, want 75", b.GoodPercent())
	}
}

func TestBucketObserveOutOfOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &Bucket{Start: base.UnixNano(), Resolution: Resolution5Min}

	// First and Last follow timestamp order, not arrival order.
	obsAt(b, base, 2*time.Minute, 120, QualityGood)
	obsAt(b, base, 0, 100, QualityGood)
	obsAt(b, base, 4*time.Minute, 140, QualityGood)

	if b.First != 100 {
		t.Errorf("First = %v, want 100", b.First)
	}
	if b.Last != 140 {
		t.Errorf("Last = %v, want 140", b.Last)
	}
	if b.Delta != 40 {
		t.Errorf("Delta = %v, want 40", b.Delta)
	}
}

func TestBucketObserveNonNumeric(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &Bucket{Start: base.UnixNano(), Resolution: Resolution5Min}

	b.observe(StringReading("inv-01", "inverter_state", base, "FAULT"))
	obsAt(b, base, time.Minute, 50, QualityGood)

	if b.Count != 2 {
		t.Errorf("Count = %d, want 2", b.Count)
	}
	if b.NumCount != 1 {
		t.Errorf("NumCount = %d, want 1", b.NumCount)
	}
	if b.Avg != 50 {
		t.Errorf("Avg = %v, want 50", b.Avg)
	}
}

func TestBucketMergeFiner(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	fine1 := &Bucket{Start: base.UnixNano(), Resolution: Resolution5Min}
	obsAt(fine1, base, 0, 100, QualityGood)
	obsAt(fine1, base, time.Minute, 110, QualityGood)

	fine2 := &Bucket{Start: base.Add(5 * time.Minute).UnixNano(), Resolution: Resolution5Min}
	obsAt(fine2, base, 5*time.Minute, 130, QualitySuspect)
	obsAt(fine2, base, 6*time.Minute, 160, QualityGood)

	hour := &Bucket{Start: base.UnixNano(), Resolution: ResolutionHour}
	hour.mergeFiner(fine1)
	hour.mergeFiner(fine2)

	if hour.Count != 4 || hour.GoodCount != 3 {
		t.Errorf("Count, GoodCount = %d, %d, want 4, 3", hour.Count, hour.GoodCount)
	}
	if hour.Min != 100 || hour.Max != 160 {
		t.Errorf("Min, Max = %v, %v, want 100, 160", hour.Min, hour.Max)
	}
	if hour.First != 100 || hour.Last != 160 {
		t.Errorf("First, Last = %v, %v, want 100, 160", hour.First, hour.Last)
	}
	if hour.Delta != 60 {
		t.Errorf("Delta = %v, want 60", hour.Delta)
	}
	if want := (100.0 + 110 + 130 + 160) / 4; hour.Avg != want {
		t.Errorf("Avg = %v, want %v", hour.Avg, want)
	}
}

func TestBucketMergeFinerEmptySource(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hour := &Bucket{Start: base.UnixNano(), Resolution: ResolutionHour}
	empty := &Bucket{Start: base.UnixNano(), Resolution: Resolution5Min}
	empty.observe(StringReading("inv-01", "inverter_state", base, "OK"))

	hour.mergeFiner(empty)
	if hour.Count != 1 || hour.NumCount != 0 {
		t.Errorf("Count, NumCount = %d, %d, want 1, 0", hour.Count, hour.NumCount)
	}
}

func TestBucketEnd(t *testing.T) {
	b := &Bucket{Start: 0, Resolution: ResolutionHour}
	if b.End() != int64(time.Hour) {
		t.Errorf("End() = %d, want %d", b.End(), int64(time.Hour))
	}
}
