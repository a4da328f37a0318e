// Package meta maintains per-metering-point metadata with minimal writes.
package meta

import (
	"context"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

// Consolidator folds the observations of one ingestion request into the
// stored metadata record of a metering point. It writes back only when the
// union actually changed, keeping metadata writes at O(distinct points per
// request) instead of O(readings).
//
// The read-modify-write is not guarded against concurrent requests touching
// the same point: the last writer wins and may drop the other's additions.
// Metadata is additive and converges on subsequent requests, so this is
// accepted rather than papered over with locking the store cannot honor
// across processes anyway.
type Consolidator struct {
	store domain.MetadataStore
	log   *zap.Logger
}

func NewConsolidator(store domain.MetadataStore, log *zap.Logger) *Consolidator {
	return &Consolidator{store: store, log: log}
}

// Update merges the observed sensor types, value fields and latest timestamp
// into the point's record. Returns whether a write was performed.
func (c *Consolidator) Update(ctx context.Context, deviceID, meteringPoint string, sensorTypes, valueFields []string, lastTS int64) (bool, error) {
	existing, err := c.store.Get(ctx, deviceID, meteringPoint)
	if err != nil {
		return false, err
	}

	if existing == nil {
		record := &domain.MeteringPointMetadata{
			MeteringPoint: meteringPoint,
			DeviceID:      deviceID,
			SensorTypes:   sortedCopy(sensorTypes),
			FirstSeen:     lastTS,
			LastSeen:      lastTS,
			ValueFields:   sortedCopy(valueFields),
		}
		if err := c.store.Put(ctx, record); err != nil {
			return false, err
		}
		c.log.Info("metering point registered",
			zap.String("device_id", deviceID),
			zap.String("metering_point", meteringPoint),
			zap.Strings("sensor_types", record.SensorTypes))
		return true, nil
	}

	merged := *existing
	changed := false

	if types, grew := union(existing.SensorTypes, sensorTypes); grew {
		merged.SensorTypes = types
		changed = true
	}
	if fields, grew := union(existing.ValueFields, valueFields); grew {
		merged.ValueFields = fields
		changed = true
	}
	if lastTS > existing.LastSeen {
		merged.LastSeen = lastTS
		changed = true
	}

	if !changed {
		return false, nil
	}
	if err := c.store.Put(ctx, &merged); err != nil {
		return false, err
	}
	return true, nil
}

// union merges extra into base, reporting whether anything was added.
// The result is sorted so stored records compare deterministically.
func union(base, extra []string) ([]string, bool) {
	merged := slices.Clone(base)
	grew := false
	for _, v := range extra {
		if !slices.Contains(merged, v) {
			merged = append(merged, v)
			grew = true
		}
	}
	if grew {
		sort.Strings(merged)
	}
	return merged, grew
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}
