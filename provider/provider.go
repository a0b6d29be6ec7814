// Package provider defines the query interfaces of the two external data
// containers the engine reads from: the alignment container (BAM) and the
// raw-signal container.  Implementations own their file handles
// independently, so callers may create providers per condition and run
// extractions in parallel without shared mutable state.
package provider

import (
	"errors"

	"github.com/genometechlab/currentview/signal"
	"github.com/grailbio/hts/sam"
)

// ErrUnknownRead is returned by SignalProvider.Signal for read identifiers
// absent from the container.
var ErrUnknownRead = errors.New("provider: unknown read id")

// AlignmentProvider provides indexed access to alignment records.
type AlignmentProvider interface {
	// Header returns the container header.  The caller must not modify the
	// returned object.
	Header() (*sam.Header, error)

	// NewIterator returns an iterator over the records whose alignment
	// overlaps the 0-based half-open reference range [start, end) of the
	// named contig.  Records are yielded in ascending coordinate order.
	NewIterator(contig string, start, end int) (Iterator, error)

	// Close must be called exactly once, after all iterators are closed.
	Close() error
}

// Iterator iterates over sam.Records in a reference range. Thread
// compatible.
type Iterator interface {
	// Scan returns whether there are records remaining, and if so advances
	// the iterator to the next record.
	Scan() bool

	// Record returns the current record.  Must be called only after Scan
	// returned true.
	Record() *sam.Record

	// Err returns the error encountered during iteration, or nil.  An
	// io.EOF is translated to nil.
	Err() error

	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

// SignalRecord is the raw-signal container's payload for one read: the raw
// sample sequence and the move table mapping sample blocks to bases.
type SignalRecord struct {
	Samples []float64
	Moves   signal.MoveTable
}

// SignalProvider provides per-read access to raw-signal records.
type SignalProvider interface {
	// Signal returns the signal record for the given read identifier, or
	// an error wrapping ErrUnknownRead.  The caller must not modify the
	// returned record.
	Signal(readID string) (*SignalRecord, error)

	// Close must be called exactly once.
	Close() error
}
