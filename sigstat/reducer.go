// Package sigstat computes summary statistics over extracted signal
// segments.  A Reducer collapses one sample slice to a scalar; the
// Aggregator applies reducers per read and across reads for the conditions
// in a store, caching results keyed by condition identity.
//
// A statistic can be undefined (empty input, or higher moments of a
// constant segment).  Undefined is always the explicit (value, ok=false)
// pair; reducers never return NaN or Inf.
package sigstat

import (
	"fmt"
	"math"
	"strings"

	"github.com/genometechlab/currentview/util"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Reducer collapses a slice of raw samples to a single scalar.
type Reducer struct {
	name string
	fn   func([]float64) (float64, bool)
}

// Name returns the reducer name as used for parsing and caching.
func (r Reducer) Name() string { return r.name }

// Reduce applies the reducer.  ok is false when the statistic is undefined
// for the input.
func (r Reducer) Reduce(xs []float64) (float64, bool) {
	return r.fn(xs)
}

// Custom creates a reducer from a user function.  Cache entries are keyed
// by reducer name, so the name must not collide with a builtin or another
// custom reducer used in the same session.
func Custom(name string, fn func([]float64) (float64, bool)) Reducer {
	return Reducer{name: name, fn: fn}
}

// Builtin reducers.  Variance and std are population statistics, matching
// the per-segment moments below.
var (
	Mean     = Reducer{"mean", wrap(stats.Mean)}
	Median   = Reducer{"median", wrap(stats.Median)}
	Std      = Reducer{"std", wrap(stats.StandardDeviationPopulation)}
	Variance = Reducer{"variance", wrap(stats.PopulationVariance)}
	Min      = Reducer{"min", wrap(stats.Min)}
	Max      = Reducer{"max", wrap(stats.Max)}
	Duration = Reducer{"duration", duration}
	Skewness = Reducer{"skewness", skewness}
	Kurtosis = Reducer{"kurtosis", kurtosis}
)

var builtins = []Reducer{
	Mean, Median, Std, Variance, Min, Max, Duration, Skewness, Kurtosis,
}

// Parse resolves a reducer name, case-insensitively.  An unknown name is a
// caller error; the message suggests the closest builtin.
func Parse(name string) (Reducer, error) {
	lower := strings.ToLower(name)
	for _, r := range builtins {
		if r.name == lower {
			return r, nil
		}
	}
	msg := fmt.Sprintf("unknown statistic %q", name)
	names := make([]string, len(builtins))
	for i, r := range builtins {
		names[i] = r.name
	}
	if best := util.Nearest(lower, names); best != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", best)
	}
	return Reducer{}, errors.New(msg)
}

// wrap adapts the (float64, error) convention of montanaflynn/stats to the
// (value, ok) convention used here.
func wrap(fn func(stats.Float64Data) (float64, error)) func([]float64) (float64, bool) {
	return func(xs []float64) (float64, bool) {
		v, err := fn(xs)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
}

// duration is the dwell time of a segment in samples.
func duration(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	return float64(len(xs)), true
}

// skewness is the population skewness m3 / m2^1.5.  Undefined for fewer
// than two samples or zero variance.
func skewness(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0, false
	}
	return stat.Moment(3, xs, nil) / math.Pow(m2, 1.5), true
}

// kurtosis is the population excess kurtosis m4 / m2^2 - 3.  Undefined for
// fewer than two samples or zero variance.
func kurtosis(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0, false
	}
	return stat.Moment(4, xs, nil)/(m2*m2) - 3, true
}
