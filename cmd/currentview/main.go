package main

/*
currentview extracts the raw nanopore signal segments covering a window of
reference positions from a BAM plus a signal table, and reports per-position
summary statistics across the covering reads as a TSV.
*/

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/genometechlab/currentview/extract"
	"github.com/genometechlab/currentview/provider"
	"github.com/genometechlab/currentview/sigstat"
	"github.com/genometechlab/currentview/store"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
)

var (
	signalPath    = flag.String("signal", "", "Input signal table path (gzip TSV); required")
	bamIndexPath  = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
	region        = flag.String("region", "", "Window center, formatted as <contig ID>:<1-based pos>; required")
	label         = flag.String("label", "", "Condition label; defaults to <contig ID>:<pos>")
	window        = flag.Int("window", extract.DefaultOpts.Window, "Number of reference positions in the window; even values are widened by one")
	molecule      = flag.String("molecule", "rna", "Molecule type, 'dna' or 'rna'")
	excludeIndels = flag.Bool("exclude-indels", false, "Skip reads with an insertion or deletion inside the window")
	maxReads      = flag.Int("max-reads", 0, "Upper bound on reads kept per condition; 0 = unlimited")
	readIDs       = flag.String("read-ids", "", "Comma-separated read allow-list; empty = all reads")
	matchBase     = flag.String("match-base", "", "Keep only reads whose called base at the window center matches this base")
	statNames     = flag.String("stats", "mean,std,duration", "Comma-separated per-position statistics to report")
	outPath       = flag.String("out", "", "Output TSV path; empty = stdout")
)

func usage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Exactly one positional argument (bampath) expected; please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	bamPath := flag.Arg(0)
	if *signalPath == "" {
		log.Fatalf("-signal is required")
	}
	contig, pos, err := parseRegion(*region)
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts, err := makeOpts()
	if err != nil {
		log.Fatalf("%v", err)
	}
	reducers, err := parseStats(*statNames)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := vcontext.Background()
	alignments := &provider.BAMProvider{Path: bamPath, Index: *bamIndexPath}
	signals, err := provider.OpenSignalTable(*signalPath)
	if err != nil {
		log.Fatalf("%s: %v", *signalPath, err)
	}

	conditions := store.New()
	cond, err := conditions.Add(ctx, store.AddConfig{
		Label:         *label,
		Contig:        contig,
		Position:      pos,
		Alignments:    alignments,
		Signals:       signals,
		AlignmentPath: bamPath,
		SignalPath:    *signalPath,
		Opts:          opts,
	})
	if err != nil {
		log.Panicf("%v", err)
	}
	rep := cond.Report
	log.Printf("%s: %d/%d reads accepted (allowlist %d, base %d, indel %d, cap %d, no signal %d), %d missing segments",
		cond.Label, rep.Accepted, rep.Considered, rep.ExcludedAllowList, rep.ExcludedBase,
		rep.ExcludedIndel, rep.ExcludedCap, rep.MissingSignal, rep.MissingSegments)

	if err := writeStats(cond, sigstat.NewAggregator(conditions), reducers); err != nil {
		log.Panicf("%v", err)
	}
	if err := signals.Close(); err != nil {
		log.Error.Printf("%s: close: %v", *signalPath, err)
	}
	if err := alignments.Close(); err != nil {
		log.Error.Printf("%s: close: %v", bamPath, err)
	}
	log.Debug.Printf("exiting")
}

func parseRegion(s string) (string, int, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("-region must be <contig ID>:<1-based pos>, got %q", s)
	}
	pos, err := strconv.Atoi(s[i+1:])
	if err != nil || pos < 1 {
		return "", 0, fmt.Errorf("bad position in -region %q", s)
	}
	// 0-based coordinates in binary files, 1-based in text.
	return s[:i], pos - 1, nil
}

func makeOpts() (extract.Opts, error) {
	opts := extract.DefaultOpts
	opts.Window = *window
	opts.ExcludeIndels = *excludeIndels
	opts.MaxReads = *maxReads
	switch strings.ToLower(*molecule) {
	case "rna":
		opts.Molecule = extract.RNA
	case "dna":
		opts.Molecule = extract.DNA
	default:
		return opts, fmt.Errorf("-molecule must be 'dna' or 'rna', got %q", *molecule)
	}
	if *readIDs != "" {
		opts.ReadIDs = strings.Split(*readIDs, ",")
	}
	if *matchBase != "" {
		if len(*matchBase) != 1 {
			return opts, fmt.Errorf("-match-base must be a single base, got %q", *matchBase)
		}
		opts.MatchedBase = (*matchBase)[0]
	}
	return opts, nil
}

func parseStats(s string) ([]sigstat.Reducer, error) {
	var reducers []sigstat.Reducer
	for _, name := range strings.Split(s, ",") {
		r, err := sigstat.Parse(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		reducers = append(reducers, r)
	}
	if len(reducers) == 0 {
		return nil, fmt.Errorf("-stats must name at least one statistic")
	}
	return reducers, nil
}

// writeStats emits one TSV row per window position: CHROM, POS (1-based),
// READS, then one column per statistic.  Undefined statistics print as NA.
func writeStats(cond *store.Condition, agg *sigstat.Aggregator, reducers []sigstat.Reducer) (err error) {
	ctx := vcontext.Background()
	out := os.Stdout
	var w *tsv.Writer
	if *outPath != "" {
		var dst file.File
		if dst, err = file.Create(ctx, *outPath); err != nil {
			return err
		}
		defer file.CloseAndReport(ctx, dst, &err)
		w = tsv.NewWriter(dst.Writer(ctx))
	} else {
		w = tsv.NewWriter(out)
	}

	w.WriteString("#CHROM")
	w.WriteString("POS")
	w.WriteString("READS")
	for _, r := range reducers {
		w.WriteString(strings.ToUpper(r.Name()))
	}
	if err = w.EndLine(); err != nil {
		return err
	}
	for i, pos := range cond.Positions {
		w.WriteString(cond.Contig)
		w.WriteUint32(uint32(pos + 1))
		perRead, err := agg.PerRead(cond.Label, i, sigstat.Duration)
		if err != nil {
			return err
		}
		w.WriteUint32(uint32(len(perRead)))
		for _, r := range reducers {
			v, ok, err := agg.Aggregate(cond.Label, i, r)
			if err != nil {
				return err
			}
			if !ok {
				w.WriteString("NA")
				continue
			}
			w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}
