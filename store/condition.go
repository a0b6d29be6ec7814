// Package store owns the named conditions of one analysis session.  A
// condition is the windowed extraction output for one (alignment file,
// signal file, contig, position) combination plus display metadata; the
// store enforces label uniqueness and is the single owner of all condition
// data.  Statistics and model fits read from the store without mutating it.
//
// The store does no internal locking: per the session threading model,
// callers accessing one store from multiple goroutines must synchronize.
package store

import (
	"fmt"

	"github.com/genometechlab/currentview/extract"
)

// Style is display metadata consumed by the rendering layer only; the core
// never interprets it.
type Style struct {
	Color     string
	Alpha     float64
	LineWidth float64
	LineStyle string
}

// defaultPalette is cycled through for conditions added without an explicit
// color.
var defaultPalette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// autoAlpha picks a line opacity that keeps dense conditions readable.
func autoAlpha(nReads int) float64 {
	switch {
	case nReads <= 1:
		return 1.0
	case nReads <= 3:
		return 0.9
	case nReads <= 10:
		return 0.6
	case nReads <= 50:
		return 0.6 - float64(nReads-10)*0.3/40
	case nReads <= 100:
		return 0.3 - float64(nReads-50)*0.15/50
	default:
		a := 0.15 - float64(nReads-100)*0.1/400
		if a < 0.02 {
			a = 0.02
		}
		return a
	}
}

// Condition is one labeled unit of extracted data.  All fields except Style
// are immutable after Add; Style is mutable through Store.Update only.
type Condition struct {
	// ID is a store-assigned identity, unique across the session even when
	// a label is removed and re-added.  Derived-result caches key on it.
	ID uint64
	// Label is the unique condition name.
	Label string

	// Originating file paths, kept for diagnostics only.
	AlignmentPath string
	SignalPath    string

	// Contig and Position locate the window center on the reference.
	Contig   string
	Position int

	// Opts are the extraction parameters the condition was built with.
	// Changing filter parameters requires re-creating the condition.
	Opts extract.Opts

	// Positions, Traces, and Samples are the window extraction output
	// (see extract.Result).
	Positions []int
	Traces    []extract.ReadTrace
	Samples   []float64

	// Report tallies the extraction outcome.
	Report extract.Report

	Style Style
}

// NumReads returns the number of read traces in the condition.
func (c *Condition) NumReads() int { return len(c.Traces) }

// Location returns the window center as "contig:position".
func (c *Condition) Location() string {
	return fmt.Sprintf("%s:%d", c.Contig, c.Position)
}

// Segment returns the sample values of trace t at window offset i, or nil
// when missing.
func (c *Condition) Segment(t, i int) []float64 {
	s := c.Traces[t].Segs[i]
	if s.Missing() {
		return nil
	}
	return c.Samples[s.Start:s.End]
}
