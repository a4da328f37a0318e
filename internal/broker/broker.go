// Package broker publishes ingest events to downstream consumers. The feed
// is strictly post-commit: readings are durably persisted before any event
// is emitted, and a publish failure never fails the request.
package broker

import "context"

type Publisher interface {
	Publish(ctx context.Context, data []byte) error
	Close() error
}
