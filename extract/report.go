package extract

// Report summarizes one extraction run: how many reads were considered, why
// reads were excluded, and how many were successfully windowed.  It lets
// callers distinguish "no reads aligned here" from "all reads were
// filtered".
type Report struct {
	// Considered is the number of reads overlapping the query region.
	Considered int
	// ExcludedAllowList is the number of reads rejected by the read-ID
	// allow-list.
	ExcludedAllowList int
	// ExcludedBase is the number of reads whose center base failed the
	// matched-base check.
	ExcludedBase int
	// ExcludedIndel is the number of reads dropped by the indel filter.
	ExcludedIndel int
	// ExcludedCap is the number of reads that passed the other filters but
	// were left unextracted because the MaxReads cap was already reached.
	ExcludedCap int
	// MissingSignal is the number of reads whose raw-signal record could
	// not be fetched.
	MissingSignal int
	// MissingSegments counts (read, offset) pairs degraded to missing.
	MissingSegments int
	// Accepted is the number of reads with a trace in the result.
	Accepted int
}

// Merge adds the field values of the two Reports and returns the sum.
func (r Report) Merge(o Report) Report {
	r.Considered += o.Considered
	r.ExcludedAllowList += o.ExcludedAllowList
	r.ExcludedBase += o.ExcludedBase
	r.ExcludedIndel += o.ExcludedIndel
	r.ExcludedCap += o.ExcludedCap
	r.MissingSignal += o.MissingSignal
	r.MissingSegments += o.MissingSegments
	r.Accepted += o.Accepted
	return r
}
