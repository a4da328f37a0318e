package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

type fakeMetadataStore struct {
	records map[string]*domain.MeteringPointMetadata
	gets    int
	puts    int
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{records: make(map[string]*domain.MeteringPointMetadata)}
}

func (s *fakeMetadataStore) key(deviceID, point string) string { return deviceID + "/" + point }

func (s *fakeMetadataStore) Get(_ context.Context, deviceID, point string) (*domain.MeteringPointMetadata, error) {
	s.gets++
	record, ok := s.records[s.key(deviceID, point)]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (s *fakeMetadataStore) Put(_ context.Context, meta *domain.MeteringPointMetadata) error {
	s.puts++
	clone := *meta
	s.records[s.key(meta.DeviceID, meta.MeteringPoint)] = &clone
	return nil
}

func (s *fakeMetadataStore) List(_ context.Context, deviceID string) ([]*domain.MeteringPointMetadata, error) {
	var out []*domain.MeteringPointMetadata
	for _, record := range s.records {
		if record.DeviceID == deviceID {
			out = append(out, record)
		}
	}
	return out, nil
}

func TestUpdateCreatesRecordOnFirstSight(t *testing.T) {
	store := newFakeMetadataStore()
	c := NewConsolidator(store, zap.NewNop())

	wrote, err := c.Update(context.Background(), "emon01", "E1", []string{"shelly"}, []string{"voltage", "current"}, 1760084970005)
	require.NoError(t, err)
	assert.True(t, wrote)

	record := store.records["emon01/E1"]
	require.NotNil(t, record)
	assert.Equal(t, []string{"shelly"}, record.SensorTypes)
	assert.Equal(t, []string{"current", "voltage"}, record.ValueFields)
	assert.Equal(t, int64(1760084970005), record.FirstSeen)
	assert.Equal(t, int64(1760084970005), record.LastSeen)
}

func TestUpdateUnionsSensorTypesAndFields(t *testing.T) {
	store := newFakeMetadataStore()
	c := NewConsolidator(store, zap.NewNop())
	ctx := context.Background()

	_, err := c.Update(ctx, "emon01", "E1", []string{"shelly"}, []string{"voltage"}, 1000000000000)
	require.NoError(t, err)

	wrote, err := c.Update(ctx, "emon01", "E1", []string{"victron"}, []string{"soc"}, 1700000000000)
	require.NoError(t, err)
	assert.True(t, wrote)

	record := store.records["emon01/E1"]
	assert.Equal(t, []string{"shelly", "victron"}, record.SensorTypes)
	assert.Equal(t, []string{"soc", "voltage"}, record.ValueFields)
	assert.Equal(t, int64(1000000000000), record.FirstSeen, "first_seen keeps the original value")
	assert.Equal(t, int64(1700000000000), record.LastSeen)
}

func TestUpdateSkipsWriteWhenNothingChanged(t *testing.T) {
	store := newFakeMetadataStore()
	c := NewConsolidator(store, zap.NewNop())
	ctx := context.Background()

	_, err := c.Update(ctx, "emon01", "E1", []string{"shelly"}, []string{"voltage"}, 1700000000000)
	require.NoError(t, err)
	require.Equal(t, 1, store.puts)

	// identical observation with an older timestamp: nothing to write
	wrote, err := c.Update(ctx, "emon01", "E1", []string{"shelly"}, []string{"voltage"}, 1600000000000)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, store.puts, "no additional write")
	assert.Equal(t, 2, store.gets, "exactly one read per update")

	record := store.records["emon01/E1"]
	assert.Equal(t, int64(1700000000000), record.LastSeen, "last_seen never moves backwards")
}

func TestUpdateWritesOnNewLastSeenOnly(t *testing.T) {
	store := newFakeMetadataStore()
	c := NewConsolidator(store, zap.NewNop())
	ctx := context.Background()

	_, err := c.Update(ctx, "emon01", "E1", []string{"shelly"}, []string{"voltage"}, 1700000000000)
	require.NoError(t, err)

	wrote, err := c.Update(ctx, "emon01", "E1", []string{"shelly"}, []string{"voltage"}, 1700000060000)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, int64(1700000060000), store.records["emon01/E1"].LastSeen)
	assert.Equal(t, int64(1700000000000), store.records["emon01/E1"].FirstSeen)
}
