// Package signal maps basecalled read positions onto raw signal sample
// ranges using the basecaller's move table.
//
// A move table records, for each stride-sized block of raw samples, whether
// the basecaller emitted a new base at that block.  The i-th emitted base
// therefore owns the samples between the i-th set marker and the next one.
// Adapter/primer samples preceding the first base are excluded via
// SignalStart, following the ts/ns aux tag convention.
package signal

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned when a base index has no corresponding
// move-table marker.  This indicates a mismatch between the basecall and the
// move table (data corruption), not a caller usage error.
var ErrIndexOutOfRange = errors.New("signal: base index out of move table range")

// MoveTable is the per-read basecaller metadata mapping raw sample blocks to
// emitted bases.
type MoveTable struct {
	// Stride is the number of raw samples per move-table block.
	Stride int
	// Moves marks, per block, whether a new base was emitted at that block.
	Moves []bool
	// SignalStart is the raw-sample offset of the first block (trimmed
	// adapter/primer samples precede it).
	SignalStart int
	// NumSamples is the total number of raw samples in the read.
	NumSamples int

	boundaries []int
}

// NumBases returns the number of bases covered by the table, i.e. the number
// of set markers.
func (m *MoveTable) NumBases() int {
	n := 0
	for _, mv := range m.Moves {
		if mv {
			n++
		}
	}
	return n
}

// Boundaries returns the raw-sample index of each set marker, scaled by
// Stride and offset by SignalStart, with NumSamples appended as the terminal
// bound.  The slice is computed once and cached; callers must not modify it.
func (m *MoveTable) Boundaries() []int {
	if m.boundaries != nil {
		return m.boundaries
	}
	b := make([]int, 0, len(m.Moves)+1)
	for i, mv := range m.Moves {
		if mv {
			b = append(b, i*m.Stride+m.SignalStart)
		}
	}
	b = append(b, m.NumSamples)
	m.boundaries = b
	return b
}

// BaseRange returns the half-open raw-sample range [start, end) attributed
// to the base at index baseIdx of a read with seqLen bases.  When reversed
// is true the read was sequenced 3'->5' relative to the reference convention
// (RNA), so base i maps to the (seqLen-1-i)-th marker instead.
func (m *MoveTable) BaseRange(baseIdx, seqLen int, reversed bool) (start, end int, err error) {
	if baseIdx < 0 || baseIdx >= seqLen {
		return 0, 0, fmt.Errorf("base index %d not in [0, %d): %w", baseIdx, seqLen, ErrIndexOutOfRange)
	}
	bounds := m.Boundaries()
	// bounds has one entry per emitted base plus the terminal bound.
	if seqLen > len(bounds)-1 {
		return 0, 0, fmt.Errorf("basecall length %d exceeds %d move table markers: %w",
			seqLen, len(bounds)-1, ErrIndexOutOfRange)
	}
	slot := baseIdx
	if reversed {
		slot = seqLen - 1 - baseIdx
	}
	start = bounds[slot]
	end = bounds[slot+1]
	if start < 0 || end > m.NumSamples || start >= end {
		return 0, 0, fmt.Errorf("degenerate sample range [%d, %d) for base %d: %w",
			start, end, baseIdx, ErrIndexOutOfRange)
	}
	return start, end, nil
}
