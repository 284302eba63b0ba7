package telemetra

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChunkCodecProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	properties.Property("snapshot/decode preserves every reading", prop.ForAll(
		func(values []float64, gaps []int8) bool {
			c := newChunk(ChunkID{Class: "telemetry", Start: base.UnixNano()}, int64(time.Hour))
			ts := base.UnixNano()
			want := make(map[int64]float64, len(values))
			for i, v := range values {
				gap := int64(1)
				if i < len(gaps) {
					gap += int64(gaps[i]&0x7f) * int64(time.Second)
				}
				ts += gap
				r := FloatReading("inv-01", "power_ac", time.Unix(0, ts), v)
				if _, err := c.append(r); err != nil {
					return false
				}
				want[ts] = v
			}
			c.close()

			blob, _, err := c.snapshot()
			if err != nil {
				return false
			}
			decoded, err := decodeChunk(blob)
			if err != nil {
				return false
			}
			col, ok := decoded.series[SeriesKey{DeviceID: "inv-01", Metric: "power_ac"}]
			if len(values) == 0 {
				return !ok
			}
			if !ok || len(col.ts) != len(want) {
				return false
			}
			for i, tsv := range col.ts {
				v, ok := want[tsv]
				if !ok || v != col.val[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-1e9, 1e9)),
		gen.SliceOf(gen.Int8()),
	))

	properties.TestingRun(t)
}

func TestCounterDeltaProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("delta of a non-negative counter is never negative", prop.ForAll(
		func(values []float64) bool {
			if len(values) == 0 {
				return true
			}
			result := counterDelta(values)
			return result.Delta >= 0
		},
		gen.SliceOfN(10, gen.Float64Range(0, 1e6)),
	))

	properties.Property("monotonic sequences report end minus start with no reset", prop.ForAll(
		func(deltas []float64) bool {
			values := make([]float64, 0, len(deltas)+1)
			cur := 100.0
			values = append(values, cur)
			for _, d := range deltas {
				cur += d
				values = append(values, cur)
			}
			result := counterDelta(values)
			if result.ResetDetected || result.Approximate {
				return false
			}
			return result.Delta == cur-100.0
		},
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}
