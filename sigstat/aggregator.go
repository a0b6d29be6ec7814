package sigstat

import (
	"sync"

	"github.com/genometechlab/currentview/store"
	"github.com/pkg/errors"
)

// ReadValue is one defined per-read statistic.
type ReadValue struct {
	ReadID string
	V      float64
}

type cacheKey struct {
	cond    uint64
	reducer string
	// offset is the window index for per-offset results, or the sub-window
	// size for whole-window results.
	offset int
	window bool
}

// Aggregator computes per-read and across-read statistics for the
// conditions in a store.  Per-read results are cached keyed by condition
// ID, so repeated queries are bit-exact and removing or re-adding a label
// never serves stale values.  Safe for concurrent use as long as the
// caller does not mutate the store mid-query.
type Aggregator struct {
	store *store.Store

	mu    sync.Mutex
	cache map[cacheKey][]ReadValue
}

// NewAggregator creates an aggregator over s.
func NewAggregator(s *store.Store) *Aggregator {
	return &Aggregator{store: s, cache: make(map[cacheKey][]ReadValue)}
}

// Reset drops all cached results.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.cache = make(map[cacheKey][]ReadValue)
	a.mu.Unlock()
}

// cloneValues copies a cached result so callers cannot mutate the cache.
func cloneValues(vals []ReadValue) []ReadValue {
	out := make([]ReadValue, len(vals))
	copy(out, vals)
	return out
}

// PerRead reduces each read's samples at window index offset to a scalar.
// Reads whose segment is missing at that offset, or for which the
// statistic is undefined, are skipped; order otherwise follows the
// condition's read order.
func (a *Aggregator) PerRead(label string, offset int, r Reducer) ([]ReadValue, error) {
	c, err := a.store.Get(label)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset >= len(c.Positions) {
		return nil, errors.Errorf("sigstat: window index %d out of range [0,%d) for condition %q",
			offset, len(c.Positions), label)
	}
	key := cacheKey{cond: c.ID, reducer: r.Name(), offset: offset}
	a.mu.Lock()
	if vals, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cloneValues(vals), nil
	}
	a.mu.Unlock()

	vals := make([]ReadValue, 0, c.NumReads())
	for t := range c.Traces {
		seg := c.Segment(t, offset)
		if seg == nil {
			continue
		}
		if v, ok := r.Reduce(seg); ok {
			vals = append(vals, ReadValue{ReadID: c.Traces[t].ID, V: v})
		}
	}
	a.mu.Lock()
	a.cache[key] = vals
	a.mu.Unlock()
	return cloneValues(vals), nil
}

// Aggregate applies the reducer across the per-read scalars at window
// index offset.  ok is false when no read yields a defined value or the
// statistic is undefined across them.
func (a *Aggregator) Aggregate(label string, offset int, r Reducer) (float64, bool, error) {
	vals, err := a.PerRead(label, offset, r)
	if err != nil {
		return 0, false, err
	}
	xs := make([]float64, len(vals))
	for i, v := range vals {
		xs[i] = v.V
	}
	v, ok := r.Reduce(xs)
	return v, ok, nil
}

// WindowPerRead reduces each read's concatenated samples over a centered
// sub-window of k window positions (k <= 0 or k >= window size selects the
// whole window; even k is widened by one).  Reads with a missing segment
// anywhere inside the sub-window are skipped, as are reads for which the
// statistic is undefined.
func (a *Aggregator) WindowPerRead(label string, r Reducer, k int) ([]ReadValue, error) {
	c, err := a.store.Get(label)
	if err != nil {
		return nil, err
	}
	size := len(c.Positions)
	if k <= 0 || k >= size {
		k = size
	} else if k%2 == 0 {
		k++
	}
	key := cacheKey{cond: c.ID, reducer: r.Name(), offset: k, window: true}
	a.mu.Lock()
	if vals, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cloneValues(vals), nil
	}
	a.mu.Unlock()

	lo := size/2 - k/2
	hi := lo + k
	vals := make([]ReadValue, 0, c.NumReads())
	var buf []float64
	for t := range c.Traces {
		buf = buf[:0]
		complete := true
		for i := lo; i < hi; i++ {
			seg := c.Segment(t, i)
			if seg == nil {
				complete = false
				break
			}
			buf = append(buf, seg...)
		}
		if !complete {
			continue
		}
		if v, ok := r.Reduce(buf); ok {
			vals = append(vals, ReadValue{ReadID: c.Traces[t].ID, V: v})
		}
	}
	a.mu.Lock()
	a.cache[key] = vals
	a.mu.Unlock()
	return cloneValues(vals), nil
}
