// ============================================================================
// Cache Read Model
// ============================================================================
//
// Package: internal/cache
// File: model.go
// Purpose: Models the expected cache read latency per row as a function of
// row size, from offline throughput measurements of the cache storage
// backend. The policy engine compares this estimate against the measured
// compute latency per row.
//
// ============================================================================

package cache

import "sort"

// measuredPoint is one offline measurement: average time to read one row
// of the given size from the cache.
type measuredPoint struct {
	rowSizeBytes uint64
	timePerRowMs float64
}

// readModel holds measurements sorted by row size.
// Reads of small rows are dominated by per-row overhead; large rows by
// storage bandwidth, hence milliseconds per row grow superlinearly at
// the tail.
var readModel = []measuredPoint{
	{rowSizeBytes: 1 << 7, timePerRowMs: 0.0012},
	{rowSizeBytes: 1 << 10, timePerRowMs: 0.0021},
	{rowSizeBytes: 1 << 13, timePerRowMs: 0.0068},
	{rowSizeBytes: 1 << 16, timePerRowMs: 0.031},
	{rowSizeBytes: 1 << 19, timePerRowMs: 0.22},
	{rowSizeBytes: 1 << 22, timePerRowMs: 1.6},
	{rowSizeBytes: 1 << 25, timePerRowMs: 12.4},
}

// GetTimePerRow estimates the cache read time in milliseconds for one row
// of the given size, by linear interpolation between the measured points.
// Row sizes outside the measured range are clamped to the nearest point.
func GetTimePerRow(rowSizeBytes uint64) float64 {
	if rowSizeBytes <= readModel[0].rowSizeBytes {
		return readModel[0].timePerRowMs
	}
	last := readModel[len(readModel)-1]
	if rowSizeBytes >= last.rowSizeBytes {
		return last.timePerRowMs
	}

	i := sort.Search(len(readModel), func(i int) bool {
		return readModel[i].rowSizeBytes >= rowSizeBytes
	})
	lo, hi := readModel[i-1], readModel[i]
	fraction := float64(rowSizeBytes-lo.rowSizeBytes) / float64(hi.rowSizeBytes-lo.rowSizeBytes)
	return lo.timePerRowMs + fraction*(hi.timePerRowMs-lo.timePerRowMs)
}
