package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// fixedHeaders lead every sheet; the sensor's value fields follow in sorted
// order.
var fixedHeaders = []string{"Timestamp", "Date/Time", "Metering Point", "Sensor ID"}

// Exporter writes per-sensor reading sequences into an XLSX workbook, one
// sheet per sensor. Sheets are built with excelize's stream writer and each
// sensor's rows are released as soon as its sheet is flushed, so peak memory
// stays bounded by the largest single sensor rather than the whole export.
type Exporter struct {
	log *zap.Logger
}

func NewExporter(log *zap.Logger) *Exporter {
	return &Exporter{log: log}
}

// Export writes the workbook to w. Sensors are emitted in sorted order so
// repeated exports of the same data produce identical sheet and row
// ordering. perSensor is consumed destructively.
func (e *Exporter) Export(w io.Writer, perSensor map[string][]Row) error {
	sensorIDs := make([]string, 0, len(perSensor))
	for id := range perSensor {
		sensorIDs = append(sensorIDs, id)
	}
	sort.Strings(sensorIDs)

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"CCCCCC"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	used := make(map[string]bool, len(sensorIDs))
	for i, sensorID := range sensorIDs {
		name := uniqueSheetName(sensorID, used)
		if i == 0 {
			// Reuse the default sheet instead of leaving an empty Sheet1.
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("rename default sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}

		if err := e.writeSheet(f, name, sensorID, headerStyle, perSensor[sensorID]); err != nil {
			return fmt.Errorf("sheet %q: %w", name, err)
		}

		// Release this sensor's backing storage before moving on.
		perSensor[sensorID] = nil
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) writeSheet(f *excelize.File, name, sensorID string, headerStyle int, rows []Row) error {
	fields := valueFieldUnion(rows)

	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return err
	}

	header := make([]any, 0, len(fixedHeaders)+len(fields))
	for _, h := range fixedHeaders {
		header = append(header, excelize.Cell{StyleID: headerStyle, Value: h})
	}
	for _, field := range fields {
		header = append(header, excelize.Cell{StyleID: headerStyle, Value: field})
	}
	if err := sw.SetColWidth(2, 2, 20); err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		out := make([]any, 0, len(fixedHeaders)+len(fields))
		out = append(out,
			row.Timestamp,
			time.UnixMilli(row.Timestamp).UTC().Format("2006-01-02 15:04:05"),
			row.MeteringPoint,
			sensorID,
		)
		for _, field := range fields {
			// Missing fields stay blank: sensors at different metering
			// points may report different value sets.
			if v, ok := row.Values[field]; ok {
				out = append(out, v)
			} else {
				out = append(out, nil)
			}
		}
		if err := sw.SetRow(cell, out); err != nil {
			return err
		}
	}

	return sw.Flush()
}

// valueFieldUnion collects every value field name seen in the rows, sorted.
func valueFieldUnion(rows []Row) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for field := range row.Values {
			set[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// uniqueSheetName sanitizes the sensor ID into a legal sheet name that is not
// already taken. Distinct sensor IDs can sanitize to the same name; appending
// a numeric suffix inside the 31-char limit keeps one sheet per sensor.
func uniqueSheetName(sensorID string, used map[string]bool) string {
	name := sanitizeSheetName(sensorID)
	for n := 1; used[name]; n++ {
		suffix := strconv.Itoa(n)
		base := sanitizeSheetName(sensorID)
		if len(base)+len(suffix) > 31 {
			base = base[:31-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}

// sanitizeSheetName makes a sensor ID a legal Excel sheet name: invalid
// characters replaced, length capped at 31.
func sanitizeSheetName(name string) string {
	replacer := strings.NewReplacer(
		"\\", "_", "/", "_", "*", "_", "[", "_", "]", "_", ":", "_", "?", "_",
	)
	name = replacer.Replace(name)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
