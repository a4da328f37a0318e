package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Verein-Kleinwohnformen/energiemonitor-api/internal/domain"
)

func points(n int) []domain.DataPoint {
	out := make([]domain.DataPoint, n)
	for i := range out {
		out[i] = domain.DataPoint{
			Timestamp: int64(1760000000000 + i),
			Values:    map[string]any{"seq": float64(i)},
		}
	}
	return out
}

func TestChunkEmpty(t *testing.T) {
	assert.Nil(t, Chunk([]domain.DataPoint(nil), 2000))
	assert.Nil(t, Chunk([]domain.DataPoint{}, 2000))
}

func TestChunkSizes(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		capacity int
		want     []int
	}{
		{"under capacity", 5, 10, []int{5}},
		{"exactly capacity", 10, 10, []int{10}},
		{"one over", 11, 10, []int{10, 1}},
		{"exact multiple", 30, 10, []int{10, 10, 10}},
		{"remainder", 2500, 2000, []int{2000, 500}},
		{"capacity one", 3, 1, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(points(tt.input), tt.capacity)
			require.Len(t, chunks, len(tt.want))
			for i, want := range tt.want {
				assert.Len(t, chunks[i], want)
			}
			// only the final chunk may be undersized
			for i, chunk := range chunks[:len(chunks)-1] {
				assert.Len(t, chunk, tt.capacity, "chunk %d", i)
			}
		})
	}
}

func TestChunkRoundTrip(t *testing.T) {
	for _, capacity := range []int{1, 3, 7, 100, 2000} {
		input := points(257)
		var reassembled []domain.DataPoint
		for _, chunk := range Chunk(input, capacity) {
			assert.LessOrEqual(t, len(chunk), capacity)
			reassembled = append(reassembled, chunk...)
		}
		require.Equal(t, input, reassembled, "capacity %d", capacity)
	}
}
