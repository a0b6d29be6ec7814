package gmm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/genometechlab/currentview/extract"
	"github.com/genometechlab/currentview/provider"
	"github.com/genometechlab/currentview/signal"
	"github.com/genometechlab/currentview/sigstat"
	"github.com/genometechlab/currentview/store"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _       = sam.NewReference("chr1", "", "", 1000, nil, nil)
	testHeader, _ = sam.NewHeader(nil, []*sam.Reference{chr1})
)

// clusterSpec generates reads whose signal mean and dwell time follow one
// population.
type clusterSpec struct {
	prefix   string
	n        int
	level    float64 // mean current level
	nSamples int     // dwell per base
}

// addClustered builds a one-position condition whose reads are drawn from
// the given populations.
func addClustered(t *testing.T, s *store.Store, label string, rng *rand.Rand, specs ...clusterSpec) {
	t.Helper()
	var recs []*sam.Record
	sigs := make(map[string]*provider.SignalRecord)
	for _, spec := range specs {
		for i := 0; i < spec.n; i++ {
			name := fmt.Sprintf("%s_%03d", spec.prefix, i)
			rec := sam.GetFromFreePool()
			rec.Name = name
			rec.Ref = chr1
			rec.Pos = 100
			rec.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 1)}
			rec.Seq = sam.NewSeq([]byte("A"))
			recs = append(recs, rec)

			samples := make([]float64, spec.nSamples)
			for j := range samples {
				samples[j] = spec.level + rng.NormFloat64()
			}
			sigs[name] = &provider.SignalRecord{
				Samples: samples,
				Moves: signal.MoveTable{
					Stride:     1,
					Moves:      []bool{true},
					NumSamples: spec.nSamples,
				},
			}
		}
	}
	_, err := s.Add(context.Background(), store.AddConfig{
		Label:      label,
		Contig:     "chr1",
		Position:   100,
		Alignments: provider.NewFakeAlignmentProvider(testHeader, recs),
		Signals:    provider.NewFakeSignalProvider(sigs),
		Opts:       extract.Opts{Window: 1, Molecule: extract.DNA},
	})
	require.NoError(t, err)
}

func TestFitTwoClusters(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(42))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "lo", n: 30, level: 10, nSamples: 8},
		clusterSpec{prefix: "hi", n: 30, level: 30, nSamples: 20},
	)
	agg := sigstat.NewAggregator(s)

	res, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 2, Seed: 1}, Preprocess{Standardize: true})
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.NotNil(t, res.Standardization)
	require.Equal(t, 2, len(res.Means))

	// Identify components by their mean current level, in data units.
	lo, hi := 0, 1
	if res.Means[lo][0] > res.Means[hi][0] {
		lo, hi = hi, lo
	}
	require.InDelta(t, 10, res.Means[lo][0], 1.0)
	require.InDelta(t, 30, res.Means[hi][0], 1.0)
	require.InDelta(t, 8, res.Means[lo][1], 0.5)
	require.InDelta(t, 20, res.Means[hi][1], 0.5)
	require.InDelta(t, 1.0, res.Weights[0]+res.Weights[1], 1e-9)

	// At this separation every read lands in its own population.
	correct := 0
	for key, comp := range res.Assignments {
		expect.EQ(t, key.Label, "mix")
		want := lo
		if strings.HasPrefix(key.ReadID, "hi") {
			want = hi
		}
		if comp == want {
			correct++
		}
	}
	require.Equal(t, 60, len(res.Assignments))
	expect.True(t, float64(correct) >= 0.95*60)
}

func TestFitDeterministic(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(7))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "lo", n: 20, level: 5, nSamples: 6},
		clusterSpec{prefix: "hi", n: 20, level: 25, nSamples: 12},
	)
	agg := sigstat.NewAggregator(s)
	cfg := Config{Components: 2, Seed: 3}

	a, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0, cfg, Preprocess{})
	require.NoError(t, err)
	b, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0, cfg, Preprocess{})
	require.NoError(t, err)
	expect.EQ(t, a.Means, b.Means)
	expect.EQ(t, a.Weights, b.Weights)
	expect.EQ(t, a.LogLikelihood, b.LogLikelihood)
	expect.EQ(t, a.Assignments, b.Assignments)
}

func TestFitPoolsConditions(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(11))
	addClustered(t, s, "wt", rng, clusterSpec{prefix: "wt", n: 15, level: 10, nSamples: 8})
	addClustered(t, s, "mod", rng, clusterSpec{prefix: "mod", n: 15, level: 30, nSamples: 20})
	agg := sigstat.NewAggregator(s)

	res, err := Fit(agg, []string{"wt", "mod"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 2, Seed: 1}, Preprocess{Standardize: true})
	require.NoError(t, err)
	require.Equal(t, 30, len(res.Assignments))

	// Points keep their originating condition label.
	byLabel := map[string]int{}
	for key := range res.Assignments {
		byLabel[key.Label]++
	}
	expect.EQ(t, byLabel, map[string]int{"wt": 15, "mod": 15})

	// Each condition's reads form one cluster.
	comps := map[string]map[int]int{}
	for key, comp := range res.Assignments {
		if comps[key.Label] == nil {
			comps[key.Label] = map[int]int{}
		}
		comps[key.Label][comp]++
	}
	expect.EQ(t, len(comps["wt"]), 1)
	expect.EQ(t, len(comps["mod"]), 1)
}

func TestFitDiagonalCovariance(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(5))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "lo", n: 20, level: 10, nSamples: 8},
		clusterSpec{prefix: "hi", n: 20, level: 30, nSamples: 20},
	)
	agg := sigstat.NewAggregator(s)

	res, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 2, Covariance: Diagonal, Seed: 1}, Preprocess{Standardize: true})
	require.NoError(t, err)
	for _, cov := range res.Covariances {
		expect.EQ(t, cov.At(0, 1), 0.0)
		expect.True(t, cov.At(0, 0) > 0)
		expect.True(t, cov.At(1, 1) > 0)
	}
}

func TestFitOutlierFilter(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(9))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "ok", n: 20, level: 10, nSamples: 8},
		clusterSpec{prefix: "bad", n: 1, level: 1000, nSamples: 8},
	)
	agg := sigstat.NewAggregator(s)

	res, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 1, Seed: 1}, Preprocess{OutlierZ: 3})
	require.NoError(t, err)

	// The extreme read is dropped before fitting and gets no assignment;
	// every remaining read does.  Duration is constant across reads, so
	// the filter only acts on the mean-level feature.
	require.Equal(t, 20, len(res.Assignments))
	_, ok := res.Assignments[PointKey{Label: "mix", ReadID: "bad_000"}]
	expect.False(t, ok)
	require.Equal(t, 1, len(res.Means))
	require.InDelta(t, 10, res.Means[0][0], 1.0)
}

func TestSelectComponents(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(17))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "lo", n: 30, level: 10, nSamples: 8},
		clusterSpec{prefix: "hi", n: 30, level: 30, nSamples: 20},
	)
	agg := sigstat.NewAggregator(s)

	res, err := SelectComponents(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		1, 4, Config{Seed: 1}, Preprocess{Standardize: true})
	require.NoError(t, err)
	require.Equal(t, 2, len(res.Weights))
	require.Equal(t, 60, len(res.Assignments))
	expect.False(t, math.IsNaN(res.BIC) || math.IsInf(res.BIC, 0))

	// A one-component fit of the same points scores worse.
	one, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 1, Seed: 1}, Preprocess{Standardize: true})
	require.NoError(t, err)
	expect.True(t, res.BIC < one.BIC)

	_, err = SelectComponents(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		3, 2, Config{}, Preprocess{})
	require.Error(t, err)
}

func TestFitInsufficientData(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(1))
	addClustered(t, s, "tiny", rng, clusterSpec{prefix: "r", n: 1, level: 10, nSamples: 8})
	agg := sigstat.NewAggregator(s)

	_, err := Fit(agg, []string{"tiny"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 2}, Preprocess{})
	expect.True(t, errors.Is(err, ErrInsufficientData))
}

func TestFitNonConvergence(t *testing.T) {
	s := store.New()
	rng := rand.New(rand.NewSource(2))
	addClustered(t, s, "mix", rng,
		clusterSpec{prefix: "lo", n: 20, level: 10, nSamples: 8},
		clusterSpec{prefix: "hi", n: 20, level: 12, nSamples: 9},
	)
	agg := sigstat.NewAggregator(s)

	// One iteration cannot reach the tolerance; the result is still a
	// usable iterate.
	res, err := Fit(agg, []string{"mix"}, sigstat.Mean, sigstat.Duration, 0,
		Config{Components: 2, MaxIter: 1, Seed: 1}, Preprocess{Standardize: true})
	require.Error(t, err)
	expect.True(t, errors.Is(err, ErrNonConvergence))
	require.NotNil(t, res)
	expect.False(t, res.Converged)
	expect.EQ(t, res.Iterations, 1)
	require.Equal(t, 2, len(res.Means))
	expect.False(t, math.IsNaN(res.LogLikelihood))
}
