package domain

import "context"

// BatchStore persists batch documents. Put is always a creation: every
// document carries a fresh identifier, so concurrent writers never target
// the same key and retries produce duplicate documents rather than
// conflicts.
type BatchStore interface {
	Put(ctx context.Context, doc *BatchDocument) error
	// GetRange returns all documents stored under the given paths, in
	// insertion order. Day-level filtering is the caller's job since a
	// path covers a whole month.
	GetRange(ctx context.Context, paths []string) ([]*BatchDocument, error)
}

// MetadataStore persists metering-point metadata records.
type MetadataStore interface {
	// Get returns (nil, nil) when no record exists for the point.
	Get(ctx context.Context, deviceID, meteringPoint string) (*MeteringPointMetadata, error)
	Put(ctx context.Context, meta *MeteringPointMetadata) error
	List(ctx context.Context, deviceID string) ([]*MeteringPointMetadata, error)
}

// Authenticator resolves a device API key to a device identifier.
type Authenticator interface {
	// Authenticate returns ErrUnauthorized when the key is unknown.
	Authenticate(ctx context.Context, deviceKey string) (string, error)
}

// IngestEvent summarizes one committed ingestion request. Published to the
// optional event feed for downstream consumers; never consumed by this
// service itself.
type IngestEvent struct {
	DeviceID  string `json:"device_id"`
	Accepted  int    `json:"accepted"`
	Documents int    `json:"documents"`
	Timestamp int64  `json:"timestamp"`
}
