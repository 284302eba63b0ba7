package telemetra

import (
	"regexp"
	"strings"
)

// metricNameRegex validates metric names: alphanumeric, underscores, dots.
// Must start with a letter or underscore.
var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// tagKeyRegex validates tag keys: alphanumeric and underscores.
var tagKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	maxDeviceIDLen = 128
	maxMetricLen   = 256
	maxTagKeyLen   = 128
	maxTagValueLen = 512
)

// ValidateReading checks a reading for structural problems before ingest.
// It returns a *ValidationError describing the first problem found.
func ValidateReading(r Reading) error {
	if r.DeviceID == "" {
		return newValidationError("device_id", "is required")
	}
	if len(r.DeviceID) > maxDeviceIDLen {
		return newValidationError("device_id", "exceeds maximum length")
	}
	if strings.ContainsAny(r.DeviceID, "|\x00") {
		return newValidationError("device_id", "contains reserved characters")
	}
	if r.Metric == "" {
		return newValidationError("metric", "is required")
	}
	if len(r.Metric) > maxMetricLen || !metricNameRegex.MatchString(r.Metric) {
		return newValidationError("metric", "is malformed")
	}
	if r.Timestamp == 0 {
		return newValidationError("timestamp", "is required")
	}
	if r.Quality > QualityInvalid {
		return newValidationError("quality", "is out of range")
	}
	if r.Kind > ValueString {
		return newValidationError("value", "has unknown kind")
	}
	if r.Kind == ValueString && r.StrValue == "" {
		return newValidationError("value", "string value is empty")
	}
	for k, v := range r.Tags {
		if k == "" || len(k) > maxTagKeyLen || !tagKeyRegex.MatchString(k) {
			return newValidationError("tags", "key is malformed")
		}
		if len(v) > maxTagValueLen {
			return newValidationError("tags", "value exceeds maximum length")
		}
		for _, c := range v {
			if c < 32 && c != '\t' {
				return newValidationError("tags", "value contains control characters")
			}
		}
	}
	return nil
}
