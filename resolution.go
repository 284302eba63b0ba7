package telemetra

import "time"

// Resolution identifies one of the three cascading aggregate resolutions.
type Resolution uint8

const (
	// Resolution5Min is the fine resolution (5-minute buckets).
	Resolution5Min Resolution = iota
	// ResolutionHour is the medium resolution (hourly buckets).
	ResolutionHour
	// ResolutionDay is the coarse resolution (daily buckets).
	ResolutionDay

	numResolutions = 3
)

// ResolutionRaw selects raw readings instead of aggregate buckets in
// range queries.
const ResolutionRaw Resolution = 0xFF

// ResolutionAuto lets the query engine pick raw or a bucket resolution
// from the window span.
const ResolutionAuto Resolution = 0xFE

// Width returns the bucket width of the resolution.
func (r Resolution) Width() time.Duration {
	switch r {
	case Resolution5Min:
		return 5 * time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// String returns the resolution name.
func (r Resolution) String() string {
	switch r {
	case Resolution5Min:
		return "5min"
	case ResolutionHour:
		return "hourly"
	case ResolutionDay:
		return "daily"
	case ResolutionRaw:
		return "raw"
	case ResolutionAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseResolution converts a resolution name to its value.
func ParseResolution(s string) (Resolution, bool) {
	switch s {
	case "5min":
		return Resolution5Min, true
	case "hourly":
		return ResolutionHour, true
	case "daily":
		return ResolutionDay, true
	case "raw":
		return ResolutionRaw, true
	case "auto":
		return ResolutionAuto, true
	}
	return ResolutionRaw, false
}

// Finer returns the next-finer resolution. ok is false for the finest.
func (r Resolution) Finer() (Resolution, bool) {
	switch r {
	case ResolutionHour:
		return Resolution5Min, true
	case ResolutionDay:
		return ResolutionHour, true
	}
	return r, false
}

// Coarser returns the next-coarser resolution. ok is false for the coarsest.
func (r Resolution) Coarser() (Resolution, bool) {
	switch r {
	case Resolution5Min:
		return ResolutionHour, true
	case ResolutionHour:
		return ResolutionDay, true
	}
	return r, false
}

// AlignDown returns the bucket boundary at or before ts. Daily buckets are
// aligned to UTC midnight.
func (r Resolution) AlignDown(ts int64) int64 {
	w := int64(r.Width())
	if w <= 0 {
		return ts
	}
	aligned := ts - ts%w
	if ts < 0 && ts%w != 0 {
		aligned -= w
	}
	return aligned
}

// alignDownDur aligns ts down to a multiple of d (in nanoseconds).
func alignDownDur(ts int64, d time.Duration) int64 {
	w := int64(d)
	if w <= 0 {
		return ts
	}
	aligned := ts - ts%w
	if ts < 0 && ts%w != 0 {
		aligned -= w
	}
	return aligned
}
