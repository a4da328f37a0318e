package domain

import (
	"fmt"
	"time"
)

// DataPoint is one reading as stored inside a batch document. Redundant
// fields (sensor, metering point, device) live on the document, not here.
type DataPoint struct {
	Timestamp int64          `json:"timestamp" bson:"timestamp"`
	Values    map[string]any `json:"values" bson:"values"`
}

// BatchDocument is the persisted unit: an ordered run of data points for one
// (device, sensor, metering point, day). Count never exceeds the configured
// batch capacity, which keeps the serialized document inside the store's
// per-document size limit.
//
// Seq is a monotonic build-order sequence. CreatedAt alone cannot order
// sibling documents of one request: it is millisecond-truncated in BSON and
// all documents of a request are stamped within the same millisecond.
type BatchDocument struct {
	ID             string      `json:"document_id" bson:"_id"`
	Path           string      `json:"path" bson:"path"`
	DeviceID       string      `json:"device_id" bson:"device_id"`
	SensorID       string      `json:"sensor_id" bson:"sensor_id"`
	MeteringPoint  string      `json:"metering_point" bson:"metering_point"`
	Date           string      `json:"date" bson:"date"`
	Day            int         `json:"day" bson:"day"`
	Seq            int64       `json:"seq" bson:"seq"`
	StartTimestamp int64       `json:"start_timestamp" bson:"start_timestamp"`
	EndTimestamp   int64       `json:"end_timestamp" bson:"end_timestamp"`
	DataPoints     []DataPoint `json:"data_points" bson:"data_points"`
	Count          int         `json:"count" bson:"count"`
	CreatedAt      time.Time   `json:"created_at" bson:"created_at"`
}

// TelemetryPath is the hierarchical storage path for one device month.
// Documents are addressed by device/year/month so range reads only touch
// the months overlapping the requested window.
func TelemetryPath(deviceID string, year int, month time.Month) string {
	return fmt.Sprintf("devices/%s/telemetry/%d/%02d", deviceID, year, int(month))
}

// GroupKey identifies one batch group within an ingestion request.
type GroupKey struct {
	SensorID      string `json:"sensor_id"`
	MeteringPoint string `json:"metering_point"`
	Date          string `json:"date"`
}

func (k GroupKey) String() string {
	return k.SensorID + "/" + k.MeteringPoint + "/" + k.Date
}
