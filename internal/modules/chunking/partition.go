// Package chunking splits an ordered series into horizon-length windows.
package chunking

import (
	"fmt"

	"github.com/aristath/forecastbt/internal/domain"
)

// ChunkPolicy decides what happens to a trailing remainder shorter than the horizon
type ChunkPolicy int

const (
	// DropRemainder yields only full chunks; the incomplete tail is discarded
	DropRemainder ChunkPolicy = iota
	// KeepShortFinal appends the incomplete tail as a final short chunk
	KeepShortFinal
)

// String returns the policy name used in logs and persisted metadata
func (p ChunkPolicy) String() string {
	switch p {
	case DropRemainder:
		return "drop_remainder"
	case KeepShortFinal:
		return "keep_short_final"
	default:
		return fmt.Sprintf("chunk_policy(%d)", int(p))
	}
}

// Count returns how many chunks Partition would produce for n records
func Count(n, horizonLen int, policy ChunkPolicy) int {
	if n <= 0 || horizonLen <= 0 {
		return 0
	}
	count := n / horizonLen
	if policy == KeepShortFinal && n%horizonLen != 0 {
		count++
	}
	return count
}

// Partition splits records into consecutive chunks of horizonLen records.
// Chunks are indexed 0..N-1 in chronological order and own a copy of their records.
func Partition(records []domain.Record, horizonLen int, policy ChunkPolicy) ([]domain.Chunk, error) {
	if horizonLen <= 0 {
		return nil, &domain.InsufficientDataError{What: "partition horizon", Need: 1, Have: horizonLen}
	}
	if len(records) == 0 {
		return nil, &domain.InsufficientDataError{What: "partition series", Need: 1, Have: 0}
	}

	n := Count(len(records), horizonLen, policy)
	chunks := make([]domain.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * horizonLen
		end := start + horizonLen
		if end > len(records) {
			end = len(records)
		}
		window := make([]domain.Record, end-start)
		copy(window, records[start:end])
		chunks = append(chunks, domain.Chunk{Index: i, Records: window})
	}

	return chunks, nil
}
