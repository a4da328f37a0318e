package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func exportToWorkbook(t *testing.T, perSensor map[string][]Row) *excelize.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewExporter(zap.NewNop()).Export(&buf, perSensor))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExportOneSheetPerSensor(t *testing.T) {
	ts := time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC).UnixMilli()
	perSensor := map[string][]Row{
		"temp":  {{Timestamp: ts, MeteringPoint: "K0", Values: map[string]any{"temperature": 21.5}}},
		"power": {{Timestamp: ts, MeteringPoint: "E1", Values: map[string]any{"act_power": 1500.0}}},
	}

	f := exportToWorkbook(t, perSensor)
	assert.ElementsMatch(t, []string{"power", "temp"}, f.GetSheetList())
}

func TestExportHeaderAndRows(t *testing.T) {
	ts := time.Date(2025, 10, 12, 8, 30, 15, 0, time.UTC).UnixMilli()
	perSensor := map[string][]Row{
		"temp": {
			{Timestamp: ts, MeteringPoint: "K0", Values: map[string]any{"temperature": 21.5, "humidity": 40.0}},
			{Timestamp: ts + 60000, MeteringPoint: "K1", Values: map[string]any{"temperature": 22.0}},
		},
	}

	f := exportToWorkbook(t, perSensor)
	rows, err := f.GetRows("temp")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// fixed columns, then value fields sorted alphabetically
	assert.Equal(t, []string{"Timestamp", "Date/Time", "Metering Point", "Sensor ID", "humidity", "temperature"}, rows[0])

	assert.Equal(t, "2025-10-12 08:30:15", rows[1][1])
	assert.Equal(t, "K0", rows[1][2])
	assert.Equal(t, "temp", rows[1][3])
	assert.Equal(t, "40", rows[1][4])
	assert.Equal(t, "21.5", rows[1][5])

	// second reading has no humidity: the cell stays blank
	assert.Equal(t, "K1", rows[2][2])
	if len(rows[2]) > 4 {
		assert.Empty(t, rows[2][4])
	}
	assert.Equal(t, "22", rows[2][len(rows[2])-1])
}

func TestExportRowCountAndOrder(t *testing.T) {
	base := time.Date(2025, 10, 12, 0, 0, 0, 0, time.UTC).UnixMilli()
	rows := make([]Row, 2500)
	for i := range rows {
		rows[i] = Row{
			Timestamp:     base + int64(i)*1000,
			MeteringPoint: "room1",
			Values:        map[string]any{"t": float64(i)},
		}
	}

	f := exportToWorkbook(t, map[string][]Row{"temp": rows})
	got, err := f.GetRows("temp")
	require.NoError(t, err)
	require.Len(t, got, 2501, "header plus one row per reading, duplicates included")
}

func TestExportSanitizesSheetNames(t *testing.T) {
	ts := time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC).UnixMilli()
	perSensor := map[string][]Row{
		"weird/sensor:id[with]*bad?chars-and-a-very-long-tail": {
			{Timestamp: ts, MeteringPoint: "E1", Values: map[string]any{"v": 1.0}},
		},
	}

	f := exportToWorkbook(t, perSensor)
	sheets := f.GetSheetList()
	require.Len(t, sheets, 1)
	assert.Equal(t, "weird_sensor_id_with__bad_chars", sheets[0])
	assert.LessOrEqual(t, len(sheets[0]), 31)

	// the Sensor ID column keeps the unsanitized identifier
	rows, err := f.GetRows(sheets[0])
	require.NoError(t, err)
	assert.Equal(t, "weird/sensor:id[with]*bad?chars-and-a-very-long-tail", rows[1][3])
}

func TestExportDeduplicatesCollidingSheetNames(t *testing.T) {
	ts := time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC).UnixMilli()

	// both sensor IDs sanitize to "a_b"; neither sensor may lose its sheet
	perSensor := map[string][]Row{
		"a/b": {{Timestamp: ts, MeteringPoint: "E1", Values: map[string]any{"v": 1.0}}},
		"a:b": {{Timestamp: ts, MeteringPoint: "E2", Values: map[string]any{"v": 2.0}}},
	}

	f := exportToWorkbook(t, perSensor)
	assert.ElementsMatch(t, []string{"a_b", "a_b1"}, f.GetSheetList())

	// sensors are emitted in sorted order, so "a/b" claims the plain name
	rows, err := f.GetRows("a_b")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a/b", rows[1][3])

	rows, err = f.GetRows("a_b1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a:b", rows[1][3])
}
