package telemetra

import (
	"testing"
	"time"
)

func TestChunkCodecRoundTrip(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := testChunk(t, start)

	tagged := FloatReading("inv-01", "power_ac", start.Add(time.Minute), 4200)
	tagged.Unit = "W"
	tagged.Tags = map[string]string{"string": "a", "phase": "1"}
	c.append(tagged)
	c.append(FloatReading("inv-01", "power_ac", start.Add(2*time.Minute), 4300))
	c.append(StringReading("inv-02", "inverter_state", start.Add(3*time.Minute), "MPPT"))
	missing := Reading{
		DeviceID:  "inv-02",
		Metric:    "power_ac",
		Timestamp: start.Add(4 * time.Minute).UnixNano(),
		Kind:      ValueNull,
		Quality:   QualityMissing,
	}
	c.append(missing)
	c.close()

	blob, _, err := c.snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	decoded, err := decodeChunk(blob)
	if err != nil {
		t.Fatalf("decodeChunk: %v", err)
	}
	if decoded.rowCount != 4 {
		t.Fatalf("rowCount = %d, want 4", decoded.rowCount)
	}
	if len(decoded.series) != 3 {
		t.Fatalf("series count = %d, want 3", len(decoded.series))
	}

	// Reload into a fresh compressed chunk and read back through it.
	reloaded := testChunk(t, start)
	reloaded.close()
	reloaded.markCompressedIf(reloaded.gen)
	reloaded.installDecoded(decoded)

	got := reloaded.queryRange("inv-01", "power_ac", start.UnixNano(), start.Add(time.Hour).UnixNano(), start.UnixNano()-1, 0)
	if len(got) != 2 {
		t.Fatalf("reloaded readings = %d, want 2", len(got))
	}
	if got[0].Value != 4200 || got[0].Unit != "W" {
		t.Errorf("reading = %+v, want value 4200 unit W", got[0])
	}
	if got[0].Tags["phase"] != "1" || got[0].Tags["string"] != "a" {
		t.Errorf("tags = %v, want phase=1 string=a", got[0].Tags)
	}
	if got[1].Tags != nil {
		t.Errorf("untagged reading has tags %v", got[1].Tags)
	}

	states := reloaded.queryRange("inv-02", "inverter_state", start.UnixNano(), start.Add(time.Hour).UnixNano(), start.UnixNano()-1, 0)
	if len(states) != 1 || states[0].StrValue != "MPPT" || states[0].Kind != ValueString {
		t.Errorf("string reading = %+v, want MPPT", states)
	}

	nulls := reloaded.queryRange("inv-02", "power_ac", start.UnixNano(), start.Add(time.Hour).UnixNano(), start.UnixNano()-1, 0)
	if len(nulls) != 1 || nulls[0].Kind != ValueNull || nulls[0].Quality != QualityMissing {
		t.Errorf("null reading = %+v, want null/missing", nulls)
	}
}

func TestChunkCodecEmptyChunk(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := testChunk(t, start)
	c.close()

	blob, _, err := c.snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	decoded, err := decodeChunk(blob)
	if err != nil {
		t.Fatalf("decodeChunk: %v", err)
	}
	if decoded.rowCount != 0 || len(decoded.series) != 0 {
		t.Errorf("decoded empty chunk = %d rows, %d series", decoded.rowCount, len(decoded.series))
	}
}

func TestChunkCodecRejectsCorruption(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := testChunk(t, start)
	c.append(FloatReading("inv-01", "power_ac", start, 1))
	c.close()

	blob, _, err := c.snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[0] ^= 0xFF
		if _, err := decodeChunk(bad); err == nil {
			t.Error("decodeChunk accepted bad magic")
		}
	})

	t.Run("flipped body bit", func(t *testing.T) {
		bad := append([]byte(nil), blob...)
		bad[len(bad)-1] ^= 0x01
		if _, err := decodeChunk(bad); err == nil {
			t.Error("decodeChunk accepted corrupted body")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 4, 7, len(blob) / 2} {
			if _, err := decodeChunk(blob[:n]); err == nil {
				t.Errorf("decodeChunk accepted %d-byte truncation", n)
			}
		}
	})
}
