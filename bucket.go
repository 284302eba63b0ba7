package telemetra

// BucketKey identifies one aggregate bucket.
type BucketKey struct {
	DeviceID string
	Metric   string
	Start    int64
	Res      Resolution
}

// Bucket is a precomputed aggregate over one bucket window at one
// resolution. Buckets are derived state, recomputable from raw readings,
// and owned by the rollup engine.
type Bucket struct {
	DeviceID   string
	Metric     string
	Start      int64
	Resolution Resolution

	// Avg, Min and Max cover the numeric readings in the window.
	Avg float64
	Min float64
	Max float64

	// First and Last are the earliest and latest numeric values by
	// timestamp order within the window, never by insertion order. Delta
	// is Last - First, materialized for cumulative counter metrics.
	First   float64
	Last    float64
	FirstTS int64
	LastTS  int64
	Delta   float64

	// Count is the total readings in the window; NumCount the numeric
	// ones; GoodCount those with QualityGood.
	Count     int64
	NumCount  int64
	GoodCount int64

	// Stale marks a bucket whose recomputation is pending or failed.
	Stale bool

	sum float64
}

// Key returns the bucket identity.
func (b *Bucket) Key() BucketKey {
	return BucketKey{DeviceID: b.DeviceID, Metric: b.Metric, Start: b.Start, Res: b.Resolution}
}

// End returns the exclusive end of the bucket window.
func (b *Bucket) End() int64 {
	return b.Start + int64(b.Resolution.Width())
}

// GoodPercent is the share of good-quality readings, 0-100.
func (b *Bucket) GoodPercent() float64 {
	if b.Count == 0 {
		return 0
	}
	return float64(b.GoodCount) / float64(b.Count) * 100
}

// observe folds one reading into the running statistics.
func (b *Bucket) observe(r Reading) {
	b.Count++
	if r.Quality == QualityGood {
		b.GoodCount++
	}
	if !r.IsNumeric() {
		return
	}
	if b.NumCount == 0 {
		b.Min = r.Value
		b.Max = r.Value
		b.First, b.FirstTS = r.Value, r.Timestamp
		b.Last, b.LastTS = r.Value, r.Timestamp
	} else {
		if r.Value < b.Min {
			b.Min = r.Value
		}
		if r.Value > b.Max {
			b.Max = r.Value
		}
		if r.Timestamp < b.FirstTS {
			b.First, b.FirstTS = r.Value, r.Timestamp
		}
		if r.Timestamp > b.LastTS {
			b.Last, b.LastTS = r.Value, r.Timestamp
		}
	}
	b.NumCount++
	b.sum += r.Value
	b.Avg = b.sum / float64(b.NumCount)
	b.Delta = b.Last - b.First
}

// mergeFiner folds a finer-resolution bucket into a coarser one. The
// cascade derives hourly from 5-minute and daily from hourly buckets, so
// coarse recomputation never rescans raw data.
func (b *Bucket) mergeFiner(fine *Bucket) {
	b.Count += fine.Count
	b.GoodCount += fine.GoodCount
	if fine.NumCount == 0 {
		return
	}
	if b.NumCount == 0 {
		b.Min = fine.Min
		b.Max = fine.Max
		b.First, b.FirstTS = fine.First, fine.FirstTS
		b.Last, b.LastTS = fine.Last, fine.LastTS
	} else {
		if fine.Min < b.Min {
			b.Min = fine.Min
		}
		if fine.Max > b.Max {
			b.Max = fine.Max
		}
		if fine.FirstTS < b.FirstTS {
			b.First, b.FirstTS = fine.First, fine.FirstTS
		}
		if fine.LastTS > b.LastTS {
			b.Last, b.LastTS = fine.Last, fine.LastTS
		}
	}
	b.NumCount += fine.NumCount
	b.sum += fine.sum
	b.Avg = b.sum / float64(b.NumCount)
	b.Delta = b.Last - b.First
}
