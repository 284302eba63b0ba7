package telemetra

import (
	"context"
	"errors"
	"math"
	"time"
)

// RangeQuery asks for one series' data in [Start, End).
type RangeQuery struct {
	Device string
	Metric string
	// Start and End bound the window in Unix nanoseconds; Start inclusive,
	// End exclusive.
	Start int64
	End   int64
	// Resolution selects raw readings or a bucket resolution.
	// ResolutionAuto picks from the window span: windows up to the
	// crossover width are served raw, wider ones from progressively
	// coarser buckets.
	Resolution Resolution
	// Token resumes a paginated raw query.
	Token string
}

// NewRangeQuery builds an auto-resolution range query.
func NewRangeQuery(device, metric string, start, end int64) RangeQuery {
	return RangeQuery{
		Device:     device,
		Metric:     metric,
		Start:      start,
		End:        end,
		Resolution: ResolutionAuto,
	}
}

// RangeResult is one page of a range query. Raw is set for raw
// resolution, Buckets otherwise; NextToken is non-empty when more raw
// pages remain.
type RangeResult struct {
	Resolution Resolution
	Raw        []Reading
	Buckets    []Bucket
	NextToken  string
	// Stale is true when any returned bucket has a pending or failed
	// recomputation, or when a raw scan timed out and returned a partial
	// page; values are usable but incomplete or lagging the raw data.
	Stale bool
}

// GridPoint is one sample on an interpolation grid.
type GridPoint struct {
	Timestamp int64
	// Value is NaN when no reading exists near enough to fill the point.
	Value float64
	// Interpolated marks values imputed from neighbors rather than
	// observed.
	Interpolated bool
}

// DeltaResult reports consumption of a cumulative counter over a window.
type DeltaResult struct {
	Delta      float64
	StartValue float64
	EndValue   float64
	StartTS    int64
	EndTS      int64
	// ResetDetected is true when the counter decreased inside the window,
	// which happens when a device restarts and counts from zero again.
	ResetDetected bool
	// Approximate marks deltas computed under the reset heuristic or from
	// aggregate buckets after the raw data was evicted.
	Approximate bool
}

// QueryEngine serves reads over the chunk store and rollup engine.
type QueryEngine struct {
	store  *ChunkStore
	rollup *RollupEngine
	cfg    *Config
}

// NewQueryEngine builds a query engine.
func NewQueryEngine(store *ChunkStore, rollup *RollupEngine, cfg *Config) *QueryEngine {
	return &QueryEngine{store: store, rollup: rollup, cfg: cfg}
}

// Latest returns the most recent reading for a series.
func (q *QueryEngine) Latest(device, metric string) (Reading, error) {
	r, ok := q.store.Latest(device, metric)
	if !ok {
		return Reading{}, ErrNotFound
	}
	return r, nil
}

// Range executes one page of a range query.
func (q *QueryEngine) Range(ctx context.Context, query RangeQuery) (*RangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Query.Timeout)
	defer cancel()

	if query.Token != "" {
		cursor, err := q.store.ResumeRange(query.Token)
		if err != nil {
			return nil, err
		}
		return q.rawPage(ctx, cursor)
	}
	if query.Start >= query.End {
		return nil, ErrInvalidQuery
	}

	res := query.Resolution
	if res == ResolutionAuto {
		res = q.pickResolution(query.End - query.Start)
	}
	if res == ResolutionRaw {
		cursor, err := q.store.QueryRange(query.Device, query.Metric, query.Start, query.End)
		if err != nil {
			return nil, err
		}
		return q.rawPage(ctx, cursor)
	}
	if res >= numResolutions {
		return nil, ErrInvalidQuery
	}

	buckets := q.rollup.BucketsInRange(query.Device, query.Metric, res, query.Start, query.End)
	result := &RangeResult{Resolution: res, Buckets: buckets}
	for i := range buckets {
		if buckets[i].Stale {
			result.Stale = true
			break
		}
	}
	return result, nil
}

func (q *QueryEngine) rawPage(ctx context.Context, cursor *ReadingCursor) (*RangeResult, error) {
	page, err := cursor.Next(ctx)
	if err != nil {
		// A timed-out scan serves what it gathered, flagged Stale, with a
		// token to pick up where it stopped.
		if errors.Is(err, context.DeadlineExceeded) {
			return &RangeResult{
				Resolution: ResolutionRaw,
				Raw:        page,
				NextToken:  cursor.Token(),
				Stale:      true,
			}, nil
		}
		return nil, err
	}
	result := &RangeResult{Resolution: ResolutionRaw, Raw: page}
	if !cursor.Done() {
		result.NextToken = cursor.Token()
	}
	return result, nil
}

// pickResolution chooses the coarsest representation that still gives a
// reasonable point count for the span.
func (q *QueryEngine) pickResolution(span int64) Resolution {
	switch {
	case span <= int64(q.cfg.Query.CrossoverWindow):
		return ResolutionRaw
	case span <= int64(7*24*time.Hour):
		return Resolution5Min
	case span <= int64(90*24*time.Hour):
		return ResolutionHour
	default:
		return ResolutionDay
	}
}

// gridSample is one observed value available to the interpolation grid.
type gridSample struct {
	ts  int64
	val float64
}

// Interpolated samples a series onto a fixed step grid covering
// [start, end]. Narrow windows sample raw readings; windows beyond the
// raw/bucket crossover with a step of at least one bucket width sample
// aggregate bucket averages instead, at the finest resolution not wider
// than the step. Grid points without an exact sample take the average of
// the nearest samples within one step on each side; points with no
// neighbor on either side are NaN.
func (q *QueryEngine) Interpolated(ctx context.Context, device, metric string, start, end int64, step time.Duration) ([]GridPoint, error) {
	if start >= end || step <= 0 {
		return nil, ErrInvalidQuery
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Query.Timeout)
	defer cancel()

	stepNs := int64(step)
	n := int((end-start+stepNs-1)/stepNs) + 1

	var samples []gridSample
	if stepNs >= int64(Resolution5Min.Width()) && end-start > int64(q.cfg.Query.CrossoverWindow) {
		samples = q.bucketSamples(device, metric, start, end, stepNs)
	} else {
		var err error
		samples, err = q.rawSamples(ctx, device, metric, start, end, stepNs)
		if err != nil {
			return nil, err
		}
	}

	points := make([]GridPoint, n)
	j := 0
	for i := 0; i < n; i++ {
		ts := start + int64(i)*stepNs
		points[i] = GridPoint{Timestamp: ts, Value: math.NaN()}

		for j < len(samples) && samples[j].ts < ts {
			j++
		}
		if j < len(samples) && samples[j].ts == ts {
			points[i].Value = samples[j].val
			continue
		}

		// Neighbor average within one step on each side.
		before, after := math.NaN(), math.NaN()
		if j > 0 && ts-samples[j-1].ts <= stepNs {
			before = samples[j-1].val
		}
		if j < len(samples) && samples[j].ts-ts <= stepNs {
			after = samples[j].val
		}
		switch {
		case !math.IsNaN(before) && !math.IsNaN(after):
			points[i].Value = (before + after) / 2
			points[i].Interpolated = true
		case !math.IsNaN(before):
			points[i].Value = before
			points[i].Interpolated = true
		case !math.IsNaN(after):
			points[i].Value = after
			points[i].Interpolated = true
		}
	}
	return points, nil
}

// rawSamples collects numeric readings with one step of margin on both
// sides so edge points can still find neighbors.
func (q *QueryEngine) rawSamples(ctx context.Context, device, metric string, start, end, stepNs int64) ([]gridSample, error) {
	readings, err := q.store.collectRange(ctx, device, metric, start-stepNs, end+stepNs+1, start-stepNs-1, 0)
	if err != nil {
		return nil, err
	}
	var samples []gridSample
	for _, r := range readings {
		if r.IsNumeric() {
			samples = append(samples, gridSample{ts: r.Timestamp, val: r.Value})
		}
	}
	return samples, nil
}

// bucketSamples collects bucket averages at the finest resolution whose
// width does not exceed the step, with one step of margin on both sides.
func (q *QueryEngine) bucketSamples(device, metric string, start, end, stepNs int64) []gridSample {
	res := Resolution5Min
	switch {
	case stepNs >= int64(ResolutionDay.Width()):
		res = ResolutionDay
	case stepNs >= int64(ResolutionHour.Width()):
		res = ResolutionHour
	}
	buckets := q.rollup.BucketsInRange(device, metric, res,
		res.AlignDown(start-stepNs), end+stepNs+1)
	var samples []gridSample
	for i := range buckets {
		if buckets[i].NumCount == 0 {
			continue
		}
		samples = append(samples, gridSample{ts: buckets[i].Start, val: buckets[i].Avg})
	}
	return samples
}

// CumulativeDelta computes how much a cumulative counter advanced over
// [start, end]. A decrease inside the window is treated as a device
// restart from zero; the result is then flagged ResetDetected and
// Approximate. When the raw window is already evicted the delta falls
// back to aggregate bucket endpoints, also flagged Approximate.
// Boundaries come from the readings observed inside the window, first at
// or after start and last at or before end, matching the aggregate Delta
// column rather than carrying the value preceding start across the
// boundary.
func (q *QueryEngine) CumulativeDelta(ctx context.Context, device, metric string, start, end int64) (DeltaResult, error) {
	if start >= end {
		return DeltaResult{}, ErrInvalidQuery
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.Query.Timeout)
	defer cancel()

	readings, err := q.store.collectRange(ctx, device, metric, start, end+1, start-1, 0)
	if err != nil {
		return DeltaResult{}, err
	}
	var values []float64
	var firstTS, lastTS int64
	for _, r := range readings {
		if !r.IsNumeric() {
			continue
		}
		if len(values) == 0 {
			firstTS = r.Timestamp
		}
		lastTS = r.Timestamp
		values = append(values, r.Value)
	}
	if len(values) > 0 {
		result := counterDelta(values)
		result.StartTS, result.EndTS = firstTS, lastTS
		return result, nil
	}
	return q.bucketDelta(device, metric, start, end)
}

// bucketDelta derives the delta from 5-minute bucket endpoints when the
// raw readings are gone.
func (q *QueryEngine) bucketDelta(device, metric string, start, end int64) (DeltaResult, error) {
	buckets := q.rollup.BucketsInRange(device, metric, Resolution5Min, Resolution5Min.AlignDown(start), end)
	var values []float64
	var firstTS, lastTS int64
	for i := range buckets {
		if buckets[i].NumCount == 0 {
			continue
		}
		if len(values) == 0 {
			firstTS = buckets[i].FirstTS
		}
		lastTS = buckets[i].LastTS
		values = append(values, buckets[i].First, buckets[i].Last)
	}
	if len(values) == 0 {
		return DeltaResult{}, ErrNotFound
	}
	result := counterDelta(values)
	result.StartTS, result.EndTS = firstTS, lastTS
	result.Approximate = true
	return result, nil
}

// counterDelta accumulates counter growth over an ordered value sequence.
// Each decrease starts a new segment with a zero baseline, assuming the
// counter restarted.
func counterDelta(values []float64) DeltaResult {
	result := DeltaResult{
		StartValue: values[0],
		EndValue:   values[len(values)-1],
	}
	segStart := values[0]
	prev := values[0]
	for _, v := range values[1:] {
		if v < prev {
			result.Delta += prev - segStart
			segStart = 0
			result.ResetDetected = true
			result.Approximate = true
		}
		prev = v
	}
	result.Delta += prev - segStart
	return result
}
