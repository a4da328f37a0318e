// Package export reconstructs flat per-sensor reading sequences from batch
// documents and writes them out as XLSX workbooks.
package export

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

const dateLayout = "2006-01-02"

// Row is one reading as it appears in an export: unbatched, tagged with the
// metering point of the document it came from.
type Row struct {
	Timestamp     int64
	MeteringPoint string
	Values        map[string]any
}

// Reassembler reads all batch documents overlapping a date range and
// flattens them back into ordered per-sensor sequences. It has no intrinsic
// range limit; the HTTP boundary caps the window before this code runs.
type Reassembler struct {
	store domain.BatchStore
	log   *zap.Logger
}

func NewReassembler(store domain.BatchStore, log *zap.Logger) *Reassembler {
	return &Reassembler{store: store, log: log}
}

// ReadRange returns the readings of [start, end] (inclusive, UTC days)
// keyed by sensor. Each sequence is sorted by timestamp ascending; readings
// with equal timestamps keep document arrival order.
func (r *Reassembler) ReadRange(ctx context.Context, deviceID string, start, end time.Time) (map[string][]Row, error) {
	paths := monthPaths(deviceID, start, end)

	docs, err := r.store.GetRange(ctx, paths)
	if err != nil {
		return nil, err
	}

	// Re-establish commit order before flattening. The stable timestamp sort
	// below breaks ties by this order, so it must not depend on how the store
	// happens to return documents.
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].Seq < docs[j].Seq
	})

	// Path enumeration is month-granular, so documents from the edge months
	// may fall outside the requested days.
	startDate := start.UTC().Format(dateLayout)
	endDate := end.UTC().Format(dateLayout)

	perSensor := make(map[string][]Row)
	kept := 0
	for _, doc := range docs {
		if doc.Date < startDate || doc.Date > endDate {
			continue
		}
		kept++
		rows := perSensor[doc.SensorID]
		for _, p := range doc.DataPoints {
			rows = append(rows, Row{
				Timestamp:     p.Timestamp,
				MeteringPoint: doc.MeteringPoint,
				Values:        p.Values,
			})
		}
		perSensor[doc.SensorID] = rows
	}

	for sensorID, rows := range perSensor {
		rows := rows
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
		perSensor[sensorID] = rows
	}

	r.log.Debug("range reassembled",
		zap.String("device_id", deviceID),
		zap.Int("paths", len(paths)),
		zap.Int("documents", kept),
		zap.Int("sensors", len(perSensor)))
	return perSensor, nil
}

// monthPaths enumerates the device/year/month storage paths overlapping
// [start, end].
func monthPaths(deviceID string, start, end time.Time) []string {
	var paths []string
	cur := time.Date(start.UTC().Year(), start.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.UTC().Year(), end.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		paths = append(paths, domain.TelemetryPath(deviceID, cur.Year(), cur.Month()))
		cur = cur.AddDate(0, 1, 0)
	}
	return paths
}
