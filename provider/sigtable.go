package provider

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/genometechlab/currentview/signal"
	"github.com/golang/snappy"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// SignalTable implements SignalProvider over a TSV export of the
// raw-signal container.  One read per line:
//
//	read_id <TAB> stride <TAB> signal_start <TAB> num_samples <TAB> moves <TAB> samples
//
// where moves is a 0/1 string with one digit per sample block and samples
// is a comma-separated list of floating point values.  Tables ending in
// .gz are gzip-compressed, .sz snappy-framed, anything else plain text.
// The whole table is loaded at open time; lookups afterwards are
// in-memory.
type SignalTable struct {
	path  string
	cache *signalCache
}

// OpenSignalTable reads the table at path into memory.
func OpenSignalTable(path string) (*SignalTable, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	var r io.Reader
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(in.Reader(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: not a gzip stream", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	case strings.HasSuffix(path, ".sz"):
		r = snappy.NewReader(in.Reader(ctx))
	default:
		r = in.Reader(ctx)
	}

	t := &SignalTable{path: path, cache: newSignalCache()}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		readID, rec, err := parseSignalLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, lineno)
		}
		t.cache.put(readID, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	log.Printf("sigtable: loaded %d signal records from %s", t.cache.size(), path)
	return t, nil
}

// Signal implements the SignalProvider interface.
func (t *SignalTable) Signal(readID string) (*SignalRecord, error) {
	if rec := t.cache.get(readID); rec != nil {
		return rec, nil
	}
	return nil, errors.Wrapf(ErrUnknownRead, "%s: read %s", t.path, readID)
}

// Close implements the SignalProvider interface.
func (t *SignalTable) Close() error {
	t.cache = newSignalCache()
	return nil
}

func parseSignalLine(line string) (string, *SignalRecord, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != 6 {
		return "", nil, errors.Errorf("expected 6 columns, got %d", len(cols))
	}
	readID := cols[0]
	stride, err := strconv.Atoi(cols[1])
	if err != nil || stride <= 0 {
		return "", nil, errors.Errorf("bad stride %q", cols[1])
	}
	sigStart, err := strconv.Atoi(cols[2])
	if err != nil || sigStart < 0 {
		return "", nil, errors.Errorf("bad signal start %q", cols[2])
	}
	numSamples, err := strconv.Atoi(cols[3])
	if err != nil || numSamples < 0 {
		return "", nil, errors.Errorf("bad sample count %q", cols[3])
	}
	moves := make([]bool, len(cols[4]))
	for i := 0; i < len(cols[4]); i++ {
		switch cols[4][i] {
		case '0':
		case '1':
			moves[i] = true
		default:
			return "", nil, errors.Errorf("bad move digit %q at offset %d", cols[4][i], i)
		}
	}
	vals := strings.Split(cols[5], ",")
	if len(vals) != numSamples {
		return "", nil, errors.Errorf("sample count %d does not match %d listed samples", numSamples, len(vals))
	}
	samples := make([]float64, len(vals))
	for i, v := range vals {
		if samples[i], err = strconv.ParseFloat(v, 64); err != nil {
			return "", nil, errors.Errorf("bad sample %q at index %d", v, i)
		}
	}
	return readID, &SignalRecord{
		Samples: samples,
		Moves: signal.MoveTable{
			Stride:      stride,
			Moves:       moves,
			SignalStart: sigStart,
			NumSamples:  numSamples,
		},
	}, nil
}
