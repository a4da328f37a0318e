package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

// Consolidator updates metering-point metadata. It reports whether a write
// was actually performed so callers can track write amortization.
type Consolidator interface {
	Update(ctx context.Context, deviceID, meteringPoint string, sensorTypes, valueFields []string, lastTS int64) (bool, error)
}

// Aggregator turns the readings of one ingestion request into batch
// documents. It holds no state across requests: every accepted reading is
// durably committed before Ingest returns.
type Aggregator struct {
	store        domain.BatchStore
	consolidator Consolidator
	capacity     int
	concurrency  int
	log          *zap.Logger

	// seq numbers documents in build order. Seeded with wall-clock
	// nanoseconds so sequences from a restarted process keep sorting after
	// the old ones.
	seq atomic.Int64

	// overridable for tests
	now   func() time.Time
	newID func() string
}

// IngestResult reports what one request produced.
type IngestResult struct {
	Accepted          int            `json:"accepted"`
	Documents         int            `json:"documents"`
	DocumentsPerGroup map[string]int `json:"documents_per_group"`
}

// NewAggregator validates the capacity once, at startup. A non-positive
// capacity is a configuration error, not a per-request condition.
func NewAggregator(store domain.BatchStore, consolidator Consolidator, capacity, concurrency int, log *zap.Logger) (*Aggregator, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("batch capacity must be positive, got %d", capacity)
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	a := &Aggregator{
		store:        store,
		consolidator: consolidator,
		capacity:     capacity,
		concurrency:  concurrency,
		log:          log,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
	}
	a.seq.Store(time.Now().UnixNano())
	return a, nil
}

type group struct {
	key    domain.GroupKey
	points []domain.DataPoint
}

type pointObservation struct {
	sensorTypes map[string]struct{}
	valueFields map[string]struct{}
	lastTS      int64
}

// Ingest groups, chunks and commits the request's readings. Group commits
// run concurrently; each document is an independent creation under a fresh
// identifier, so no two writers ever race on the same key. When some
// documents fail to commit the result is returned together with a
// PartialCommitError naming the affected groups.
func (a *Aggregator) Ingest(ctx context.Context, deviceID string, readings []domain.Reading) (*IngestResult, error) {
	groups, observations := a.partition(readings)

	docs := make([]*domain.BatchDocument, 0, len(groups))
	perGroup := make(map[string]int, len(groups))
	for _, g := range groups {
		for _, chunk := range Chunk(g.points, a.capacity) {
			docs = append(docs, a.buildDocument(deviceID, g.key, chunk))
			perGroup[g.key.String()]++
		}
	}

	failed, failedDocs := a.commit(ctx, docs)

	result := &IngestResult{
		Accepted:          len(readings),
		Documents:         len(docs) - failedDocs,
		DocumentsPerGroup: perGroup,
	}

	// Metadata is consolidated once per touched metering point, never once
	// per reading. Points whose groups all failed are skipped so metadata
	// never claims data that was not committed.
	for point, obs := range observations {
		if !anyCommitted(groups, failed, point) {
			continue
		}
		wrote, err := a.consolidator.Update(ctx, deviceID, point,
			sortedKeys(obs.sensorTypes), sortedKeys(obs.valueFields), obs.lastTS)
		if err != nil {
			a.log.Warn("metadata update failed",
				zap.String("device_id", deviceID),
				zap.String("metering_point", point),
				zap.Error(err))
			continue
		}
		if wrote {
			a.log.Debug("metadata updated",
				zap.String("device_id", deviceID),
				zap.String("metering_point", point))
		}
	}

	if len(failed) > 0 {
		keys := make([]domain.GroupKey, 0, len(failed))
		var firstErr error
		for _, g := range groups {
			if err, ok := failed[g.key]; ok {
				keys = append(keys, g.key)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return result, &domain.PartialCommitError{FailedGroups: keys, Err: firstErr}
	}
	return result, nil
}

// partition splits readings into per-(sensor, point, day) groups, keeping
// arrival order inside each group, and accumulates the per-metering-point
// observations needed for metadata consolidation.
func (a *Aggregator) partition(readings []domain.Reading) ([]*group, map[string]*pointObservation) {
	index := make(map[domain.GroupKey]*group)
	var ordered []*group
	observations := make(map[string]*pointObservation)

	for _, r := range readings {
		key := domain.GroupKey{SensorID: r.SensorID, MeteringPoint: r.MeteringPoint, Date: r.Day()}
		g, ok := index[key]
		if !ok {
			g = &group{key: key}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.points = append(g.points, domain.DataPoint{Timestamp: r.Timestamp, Values: r.Values})

		obs, ok := observations[r.MeteringPoint]
		if !ok {
			obs = &pointObservation{
				sensorTypes: make(map[string]struct{}),
				valueFields: make(map[string]struct{}),
			}
			observations[r.MeteringPoint] = obs
		}
		obs.sensorTypes[r.SensorID] = struct{}{}
		for field := range r.Values {
			obs.valueFields[field] = struct{}{}
		}
		if r.Timestamp > obs.lastTS {
			obs.lastTS = r.Timestamp
		}
	}
	return ordered, observations
}

func (a *Aggregator) buildDocument(deviceID string, key domain.GroupKey, points []domain.DataPoint) *domain.BatchDocument {
	start, end := points[0].Timestamp, points[0].Timestamp
	for _, p := range points[1:] {
		if p.Timestamp < start {
			start = p.Timestamp
		}
		if p.Timestamp > end {
			end = p.Timestamp
		}
	}

	day, _ := time.Parse("2006-01-02", key.Date)
	return &domain.BatchDocument{
		ID:             a.newID(),
		Path:           domain.TelemetryPath(deviceID, day.Year(), day.Month()),
		DeviceID:       deviceID,
		SensorID:       key.SensorID,
		MeteringPoint:  key.MeteringPoint,
		Date:           key.Date,
		Day:            day.Day(),
		Seq:            a.seq.Add(1),
		StartTimestamp: start,
		EndTimestamp:   end,
		DataPoints:     points,
		Count:          len(points),
		CreatedAt:      a.now().UTC(),
	}
}

// commit writes all documents with bounded parallelism and returns the
// groups that had at least one failed write, plus the number of documents
// that failed. Failures do not cancel the remaining writes; every document
// gets its attempt.
func (a *Aggregator) commit(ctx context.Context, docs []*domain.BatchDocument) (map[domain.GroupKey]error, int) {
	var (
		mu         sync.Mutex
		failed     = make(map[domain.GroupKey]error)
		failedDocs int
	)

	eg := &errgroup.Group{}
	eg.SetLimit(a.concurrency)
	for _, doc := range docs {
		doc := doc
		eg.Go(func() error {
			if err := a.store.Put(ctx, doc); err != nil {
				key := domain.GroupKey{SensorID: doc.SensorID, MeteringPoint: doc.MeteringPoint, Date: doc.Date}
				mu.Lock()
				failedDocs++
				if _, seen := failed[key]; !seen {
					failed[key] = err
				}
				mu.Unlock()
				a.log.Error("batch document write failed",
					zap.String("document_id", doc.ID),
					zap.String("path", doc.Path),
					zap.Int("count", doc.Count),
					zap.Error(err))
			}
			return nil
		})
	}
	eg.Wait()
	return failed, failedDocs
}

func anyCommitted(groups []*group, failed map[domain.GroupKey]error, meteringPoint string) bool {
	for _, g := range groups {
		if g.key.MeteringPoint != meteringPoint {
			continue
		}
		if _, ok := failed[g.key]; !ok {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
