package extract

import (
	"context"
	"sort"

	"github.com/genometechlab/currentview/provider"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Segment is the half-open range in Result.Samples holding the raw-signal
// values attributed to one base of one read at one window offset.  A
// missing segment (read does not cover the offset, or its move table is
// inconsistent there) has Start == End == -1.
type Segment struct {
	Start, End int
}

// MissingSegment marks a window offset with no signal.
var MissingSegment = Segment{-1, -1}

// Missing reports whether the segment carries no samples.
func (s Segment) Missing() bool { return s.Start < 0 }

// Len returns the number of samples in the segment.
func (s Segment) Len() int {
	if s.Missing() {
		return 0
	}
	return s.End - s.Start
}

// ReadTrace is one read's window: exactly K segments, one per reference
// offset, plus the read identity and its indel flag.
type ReadTrace struct {
	// ID is the read identifier (BAM query name).
	ID string
	// HasIndel is true when the read does not align K contiguous matched
	// bases across the window.
	HasIndel bool
	// Segs has one entry per window offset, in ascending reference order.
	Segs []Segment
}

// Result is the output of one extraction run.  Segment values index into
// the shared Samples arena rather than per-read slices, so bulk statistic
// computation can operate on flat data.
type Result struct {
	// Positions lists the K reference positions of the window, ascending.
	Positions []int
	// Traces holds one entry per accepted read, in the stable processing
	// order (ascending alignment start, then read ID).
	Traces []ReadTrace
	// Samples is the arena of raw-signal values referenced by Segments.
	// RNA segments are stored in reference orientation (sample order
	// reversed relative to sequencing time).
	Samples []float64
	// Report tallies considered/excluded/accepted reads.
	Report Report
}

// Segment returns the sample values of trace t at window offset i, or nil
// when missing.
func (r *Result) Segment(t, i int) []float64 {
	s := r.Traces[t].Segs[i]
	if s.Missing() {
		return nil
	}
	return r.Samples[s.Start:s.End]
}

// Extract assembles the per-read signal window around pos on contig.  Reads
// are fetched from ap, their raw signal from sp.  Any single-read or
// single-offset failure degrades that unit to missing without aborting the
// batch; ctx is checked between reads.
func Extract(ctx context.Context, ap provider.AlignmentProvider, sp provider.SignalProvider, contig string, pos int, opts Opts) (*Result, error) {
	k := opts.windowSize()
	half := (k - 1) / 2
	winStart := pos - half
	winEnd := pos + half // inclusive

	queryStart := winStart
	if queryStart < 0 {
		queryStart = 0
	}
	iter, err := ap.NewIterator(contig, queryStart, winEnd+1)
	if err != nil {
		return nil, err
	}
	var candidates []*sam.Record
	for iter.Scan() {
		candidates = append(candidates, iter.Record())
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	// Stable processing order: ascending alignment start, read ID as the
	// tie break.  Container iteration order is not guaranteed to be stable
	// across implementations, so the order is imposed here.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Pos != candidates[j].Pos {
			return candidates[i].Pos < candidates[j].Pos
		}
		return candidates[i].Name < candidates[j].Name
	})

	var allow map[string]bool
	if len(opts.ReadIDs) > 0 {
		allow = make(map[string]bool, len(opts.ReadIDs))
		for _, id := range opts.ReadIDs {
			allow[id] = true
		}
	}
	reversed := opts.Molecule == RNA

	res := &Result{Positions: make([]int, k)}
	for i := range res.Positions {
		res.Positions[i] = winStart + i
	}
	res.Report.Considered = len(candidates)

	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if allow != nil && !allow[rec.Name] {
			res.Report.ExcludedAllowList++
			continue
		}

		seq := rec.Seq.Expand()
		centerQ, _, centerErr := QueryPosition(rec.Cigar, rec.Pos, pos)
		if opts.MatchedBase != 0 {
			if centerErr != nil || centerQ >= len(seq) ||
				upperBase(seq[centerQ]) != upperBase(opts.MatchedBase) {
				res.Report.ExcludedBase++
				continue
			}
		}

		hasIndel := !contiguousWindow(rec, centerQ, centerErr, half, pos, len(seq))
		if opts.ExcludeIndels && hasIndel {
			res.Report.ExcludedIndel++
			continue
		}

		// The cap is checked after the other filters, so it only ever
		// tallies reads that would otherwise have been extracted, and
		// filtered reads past the cap still land in their own tallies.
		if opts.MaxReads > 0 && res.Report.Accepted >= opts.MaxReads {
			res.Report.ExcludedCap++
			continue
		}

		sig, err := sp.Signal(rec.Name)
		if err != nil {
			res.Report.MissingSignal++
			log.Error.Printf("extract: no signal record for read %s: %v", rec.Name, err)
			continue
		}

		trace := ReadTrace{ID: rec.Name, HasIndel: hasIndel, Segs: make([]Segment, k)}
		for i := 0; i < k; i++ {
			trace.Segs[i] = appendSegment(res, rec, sig, winStart+i, len(seq), reversed)
			if trace.Segs[i].Missing() {
				res.Report.MissingSegments++
			}
		}
		res.Traces = append(res.Traces, trace)
		res.Report.Accepted++
	}

	log.Printf("extract: %s:%d window=%d considered=%d accepted=%d excluded(allowlist=%d base=%d indel=%d cap=%d) missing(signal=%d segments=%d)",
		contig, pos, k,
		res.Report.Considered, res.Report.Accepted,
		res.Report.ExcludedAllowList, res.Report.ExcludedBase, res.Report.ExcludedIndel, res.Report.ExcludedCap,
		res.Report.MissingSignal, res.Report.MissingSegments)
	return res, nil
}

// appendSegment resolves one (read, reference position) pair to a raw
// sample range, copies the samples into the arena, and returns the arena
// segment.  Failures degrade to MissingSegment.
func appendSegment(res *Result, rec *sam.Record, sig *provider.SignalRecord, target, seqLen int, reversed bool) Segment {
	q, _, err := QueryPosition(rec.Cigar, rec.Pos, target)
	if err != nil {
		return MissingSegment
	}
	start, end, err := sig.Moves.BaseRange(q, seqLen, reversed)
	if err != nil {
		log.Error.Printf("extract: read %s base %d: %v", rec.Name, q, err)
		return MissingSegment
	}
	if end > len(sig.Samples) {
		log.Error.Printf("extract: read %s: sample range [%d, %d) exceeds %d raw samples",
			rec.Name, start, end, len(sig.Samples))
		return MissingSegment
	}
	seg := Segment{Start: len(res.Samples), End: len(res.Samples) + (end - start)}
	if reversed {
		for i := end - 1; i >= start; i-- {
			res.Samples = append(res.Samples, sig.Samples[i])
		}
	} else {
		res.Samples = append(res.Samples, sig.Samples[start:end]...)
	}
	return seg
}

// contiguousWindow reports whether the read aligns an unbroken run of
// matched bases across the whole window: the center resolves, and each
// offset's base index advances in lock step with the reference.  Deletions,
// insertions, and partial window coverage all break the run.
func contiguousWindow(rec *sam.Record, centerQ int, centerErr error, half, pos, seqLen int) bool {
	if centerErr != nil {
		return false
	}
	for d := -half; d <= half; d++ {
		if d == 0 {
			continue
		}
		q, _, err := QueryPosition(rec.Cigar, rec.Pos, pos+d)
		if err != nil || q != centerQ+d {
			return false
		}
	}
	return centerQ-half >= 0 && centerQ+half < seqLen
}

func upperBase(b byte) byte {
	if 'a' <= b && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
