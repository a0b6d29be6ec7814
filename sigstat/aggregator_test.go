package sigstat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/genometechlab/currentview/extract"
	"github.com/genometechlab/currentview/provider"
	"github.com/genometechlab/currentview/signal"
	"github.com/genometechlab/currentview/store"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _       = sam.NewReference("chr1", "", "", 1000, nil, nil)
	testHeader, _ = sam.NewHeader(nil, []*sam.Reference{chr1})
)

func newRecord(name string, pos, nMatch int) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = chr1
	r.Pos = pos
	r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, nMatch)}
	r.Seq = sam.NewSeq([]byte(strings.Repeat("A", nMatch)))
	return r
}

// twoPerBase gives each of numBases bases two raw samples valued by index.
func twoPerBase(numBases int) *provider.SignalRecord {
	moves := make([]bool, 2*numBases)
	samples := make([]float64, 2*numBases)
	for i := range samples {
		samples[i] = float64(i)
		if i%2 == 0 {
			moves[i] = true
		}
	}
	return &provider.SignalRecord{
		Samples: samples,
		Moves:   signal.MoveTable{Stride: 1, Moves: moves, NumSamples: 2 * numBases},
	}
}

// newTestStore builds a store with one condition "wt": a 3-wide window at
// chr1:100 over read r1 (full coverage) and read r2 (starts at the center,
// so its first window offset is missing).
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	_, err := s.Add(context.Background(), store.AddConfig{
		Label:    "wt",
		Contig:   "chr1",
		Position: 100,
		Alignments: provider.NewFakeAlignmentProvider(testHeader, []*sam.Record{
			newRecord("r1", 95, 10),
			newRecord("r2", 100, 5),
		}),
		Signals: provider.NewFakeSignalProvider(map[string]*provider.SignalRecord{
			"r1": twoPerBase(10),
			"r2": twoPerBase(5),
		}),
		Opts: extract.Opts{Window: 3, Molecule: extract.DNA},
	})
	require.NoError(t, err)
	return s
}

func TestPerRead(t *testing.T) {
	agg := NewAggregator(newTestStore(t))

	// r2 does not cover offset 0.
	vals, err := agg.PerRead("wt", 0, Mean)
	require.NoError(t, err)
	expect.EQ(t, vals, []ReadValue{{ReadID: "r1", V: 8.5}})

	// r1 offset 1 covers samples {10,11}, r2 covers {0,1}.
	vals, err = agg.PerRead("wt", 1, Mean)
	require.NoError(t, err)
	expect.EQ(t, vals, []ReadValue{{ReadID: "r1", V: 10.5}, {ReadID: "r2", V: 0.5}})

	_, err = agg.PerRead("wt", 3, Mean)
	require.Error(t, err)
	_, err = agg.PerRead("nope", 0, Mean)
	expect.True(t, errors.Is(err, store.ErrUnknownLabel))
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(newTestStore(t))

	v, ok, err := agg.Aggregate("wt", 1, Mean)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, v, 5.5)

	// Duration aggregates to the dwell count per read, then the count of
	// per-read scalars.
	v, ok, err = agg.Aggregate("wt", 1, Duration)
	require.NoError(t, err)
	require.True(t, ok)
	expect.EQ(t, v, 2.0)

	// Skewness of two scalars is defined, of one undefined.
	_, ok, err = agg.Aggregate("wt", 0, Skewness)
	require.NoError(t, err)
	expect.False(t, ok)
}

func TestAggregateIdempotent(t *testing.T) {
	agg := NewAggregator(newTestStore(t))
	v1, ok1, err := agg.Aggregate("wt", 1, Std)
	require.NoError(t, err)
	require.True(t, ok1)
	v2, ok2, err := agg.Aggregate("wt", 1, Std)
	require.NoError(t, err)
	require.True(t, ok2)
	expect.True(t, v1 == v2)

	// Reset forces recomputation; the result is still bit-identical.
	agg.Reset()
	v3, _, err := agg.Aggregate("wt", 1, Std)
	require.NoError(t, err)
	expect.True(t, v1 == v3)
}

func TestPerReadResultIsACopy(t *testing.T) {
	agg := NewAggregator(newTestStore(t))
	vals, err := agg.PerRead("wt", 1, Mean)
	require.NoError(t, err)
	vals[0].V = -1
	vals[0].ReadID = "clobbered"

	again, err := agg.PerRead("wt", 1, Mean)
	require.NoError(t, err)
	expect.EQ(t, again, []ReadValue{{ReadID: "r1", V: 10.5}, {ReadID: "r2", V: 0.5}})

	wvals, err := agg.WindowPerRead("wt", Mean, 0)
	require.NoError(t, err)
	wvals[0].V = -1
	wagain, err := agg.WindowPerRead("wt", Mean, 0)
	require.NoError(t, err)
	expect.EQ(t, wagain, []ReadValue{{ReadID: "r1", V: 10.5}})
}

func TestWindowPerRead(t *testing.T) {
	agg := NewAggregator(newTestStore(t))

	// Whole window: r2 has a missing segment and is skipped; r1
	// concatenates samples 8..13.
	vals, err := agg.WindowPerRead("wt", Mean, 0)
	require.NoError(t, err)
	expect.EQ(t, vals, []ReadValue{{ReadID: "r1", V: 10.5}})

	// k=1 keeps only the center offset, which both reads cover.
	vals, err = agg.WindowPerRead("wt", Mean, 1)
	require.NoError(t, err)
	expect.EQ(t, vals, []ReadValue{{ReadID: "r1", V: 10.5}, {ReadID: "r2", V: 0.5}})

	// Even sub-windows widen to the next odd size.
	vals, err = agg.WindowPerRead("wt", Duration, 2)
	require.NoError(t, err)
	expect.EQ(t, vals, []ReadValue{{ReadID: "r1", V: 6}})
}
