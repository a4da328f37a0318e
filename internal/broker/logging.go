package broker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

// LogPublisher is the default sink when no Kafka feed is configured: ingest
// events are written to the log and otherwise dropped.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, data []byte) error {
	var event domain.IngestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		p.log.Debug("ingest event", zap.ByteString("payload", data))
		return nil
	}
	p.log.Info("ingest event",
		zap.String("device_id", event.DeviceID),
		zap.Int("accepted", event.Accepted),
		zap.Int("documents", event.Documents))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
