package telemetra

import "time"

// Quality classifies the trustworthiness of a single reading.
type Quality uint8

const (
	// QualityGood is a normal reading taken directly from the device.
	QualityGood Quality = iota
	// QualityInterpolated marks a value filled in from nearby readings.
	QualityInterpolated
	// QualityEstimated marks a value derived rather than measured.
	QualityEstimated
	// QualitySuspect marks a reading outside its expected range.
	QualitySuspect
	// QualityMissing is a gap marker.
	QualityMissing
	// QualityInvalid marks corrupt or unparseable data.
	QualityInvalid
)

// String returns the canonical lowercase name of the quality level.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityInterpolated:
		return "interpolated"
	case QualityEstimated:
		return "estimated"
	case QualitySuspect:
		return "suspect"
	case QualityMissing:
		return "missing"
	case QualityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseQuality converts a quality name to its Quality value.
func ParseQuality(s string) (Quality, bool) {
	switch s {
	case "good":
		return QualityGood, true
	case "interpolated":
		return QualityInterpolated, true
	case "estimated":
		return QualityEstimated, true
	case "suspect":
		return QualitySuspect, true
	case "missing":
		return QualityMissing, true
	case "invalid":
		return QualityInvalid, true
	}
	return QualityInvalid, false
}

// ValueKind discriminates the payload of a Reading.
type ValueKind uint8

const (
	// ValueNull is a reading with no payload (gap or heartbeat marker).
	ValueNull ValueKind = iota
	// ValueFloat is a numeric reading.
	ValueFloat
	// ValueString is a string or enum reading (e.g., an inverter state name).
	ValueString
)

// Reading is a single observation from a field device. A reading is
// immutable once committed and uniquely identified by
// (DeviceID, Metric, Timestamp); duplicate writes for the same key are
// last-write-wins.
type Reading struct {
	// DeviceID identifies the originating device.
	DeviceID string
	// Metric is the measurement name (e.g., "power_ac", "voltage_dc").
	Metric string
	// Timestamp is the observation time in Unix nanoseconds.
	Timestamp int64
	// Kind discriminates Value/StrValue/null.
	Kind ValueKind
	// Value is the numeric payload when Kind == ValueFloat.
	Value float64
	// StrValue is the string payload when Kind == ValueString.
	StrValue string
	// Quality classifies the reading.
	Quality Quality
	// Unit is the measurement unit (e.g., "W", "V", "%").
	Unit string
	// Tags are optional key-value labels.
	Tags map[string]string
}

// FloatReading builds a numeric good-quality reading.
func FloatReading(deviceID, metric string, ts time.Time, value float64) Reading {
	return Reading{
		DeviceID:  deviceID,
		Metric:    metric,
		Timestamp: ts.UnixNano(),
		Kind:      ValueFloat,
		Value:     value,
		Quality:   QualityGood,
	}
}

// StringReading builds a string-valued good-quality reading.
func StringReading(deviceID, metric string, ts time.Time, value string) Reading {
	return Reading{
		DeviceID:  deviceID,
		Metric:    metric,
		Timestamp: ts.UnixNano(),
		Kind:      ValueString,
		StrValue:  value,
		Quality:   QualityGood,
	}
}

// IsNumeric reports whether the reading carries a float payload.
func (r Reading) IsNumeric() bool {
	return r.Kind == ValueFloat
}

// Key returns the unique identity of the reading within its series.
func (r Reading) Key() ReadingKey {
	return ReadingKey{DeviceID: r.DeviceID, Metric: r.Metric, Timestamp: r.Timestamp}
}

// ReadingKey uniquely identifies a reading.
type ReadingKey struct {
	DeviceID  string
	Metric    string
	Timestamp int64
}

// SeriesKey identifies one (device, metric) series.
type SeriesKey struct {
	DeviceID string
	Metric   string
}

// String returns a canonical map-key representation, "device|metric".
func (sk SeriesKey) String() string {
	return sk.DeviceID + "|" + sk.Metric
}

func seriesKeyOf(r Reading) SeriesKey {
	return SeriesKey{DeviceID: r.DeviceID, Metric: r.Metric}
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
