package domain

import (
	"fmt"
	"time"
)

// Timestamps are accepted in [2020-01-01, 2050-01-01) as epoch ms.
// Anything outside this window is almost certainly a unit mistake
// (seconds instead of milliseconds) on the device side.
const (
	MinValidTimestamp = 1577836800000
	MaxValidTimestamp = 2524608000000
)

// Reading is a single telemetry observation reported by a device sensor.
// Timestamp is epoch milliseconds; Values maps field names to scalars.
type Reading struct {
	SensorID      string         `json:"sensor_id"`
	MeteringPoint string         `json:"metering_point"`
	DeviceID      string         `json:"device_id,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Values        map[string]any `json:"values"`
}

// Day returns the UTC calendar day of the reading as YYYY-MM-DD.
func (r Reading) Day() string {
	return time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02")
}

// Validate checks the reading structure. The timestamp may be zero here;
// the ingestion path assigns a server timestamp before batching.
func (r Reading) Validate() error {
	if r.SensorID == "" {
		return &ValidationError{Field: "sensor_id", Reason: "must be a non-empty string"}
	}
	if r.MeteringPoint == "" {
		return &ValidationError{Field: "metering_point", Reason: "must be a non-empty string"}
	}
	if len(r.Values) == 0 {
		return &ValidationError{Field: "values", Reason: "cannot be empty"}
	}
	for name, v := range r.Values {
		switch v.(type) {
		case float64, float32, int, int32, int64, string:
		default:
			return &ValidationError{
				Field:  "values",
				Reason: fmt.Sprintf("field %q has unsupported type %T, expected number or string", name, v),
			}
		}
	}
	if r.Timestamp != 0 && (r.Timestamp < MinValidTimestamp || r.Timestamp >= MaxValidTimestamp) {
		return &ValidationError{Field: "timestamp", Reason: "out of reasonable range"}
	}
	return nil
}

// validMeteringPoints is the catalogue of physical measurement locations
// wired in the monitored buildings.
var validMeteringPoints = map[string]struct{}{
	"E1": {}, "E2": {}, "E3": {}, // electrical
	"M1": {}, "M2": {}, // materials (gas, wood)
	"A1": {}, // deduction (monitor consumption)
	"I1": {}, "I2": {}, // internal (hot water, heating)
	"K0": {}, "K1": {}, "K2": {}, "K3": {}, "K4": {}, // comfort
	"D1": {}, // water
}

// ValidateMeteringPoint reports whether the identifier is in the known
// catalogue. Only enforced when the server runs in strict mode.
func ValidateMeteringPoint(point string) error {
	if _, ok := validMeteringPoints[point]; !ok {
		return &ValidationError{Field: "metering_point", Reason: fmt.Sprintf("unknown metering point %q", point)}
	}
	return nil
}
