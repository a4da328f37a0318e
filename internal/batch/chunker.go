// Package batch implements the write path: readings arriving in one
// ingestion request are grouped per sensor, metering point and UTC day,
// split into capacity-bounded chunks, and committed as independent batch
// documents.
package batch

// Chunk partitions items into contiguous runs of at most capacity elements,
// preserving order. Concatenating the result reproduces the input exactly.
// The returned chunks alias the input's backing array.
//
// Capacity must be positive; it is validated once at aggregator
// construction, so Chunk itself assumes a sane value.
func Chunk[T any](items []T, capacity int) [][]T {
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+capacity-1)/capacity)
	for len(items) > capacity {
		chunks = append(chunks, items[:capacity:capacity])
		items = items[capacity:]
	}
	return append(chunks, items)
}
