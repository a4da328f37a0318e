package domain

// MeteringPointMetadata describes one metering point of a device: which
// sensor types have reported for it, which value fields they carry, and the
// observation window. SensorTypes and ValueFields are kept sorted so that
// equality checks and exports are deterministic.
type MeteringPointMetadata struct {
	MeteringPoint string   `json:"metering_point" bson:"metering_point"`
	DeviceID      string   `json:"device_id" bson:"device_id"`
	SensorTypes   []string `json:"sensor_types" bson:"sensor_types"`
	FirstSeen     int64    `json:"first_seen" bson:"first_seen"`
	LastSeen      int64    `json:"last_seen" bson:"last_seen"`
	ValueFields   []string `json:"value_fields" bson:"value_fields"`
}
