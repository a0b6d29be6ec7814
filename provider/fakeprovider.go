package provider

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// fakeAlignmentProvider is only for unittests.  It yields the given
// records.
type fakeAlignmentProvider struct {
	header *sam.Header
	recs   []*sam.Record
}

type fakeAlignmentIterator struct {
	recs       []*sam.Record
	rec        *sam.Record
	refName    string
	start, end int
}

// NewFakeAlignmentProvider creates a provider that returns "header" from
// Header() and, per NewIterator call, the subset of recs overlapping the
// requested range, in input order.
func NewFakeAlignmentProvider(header *sam.Header, recs []*sam.Record) AlignmentProvider {
	return &fakeAlignmentProvider{header: header, recs: recs}
}

func (p *fakeAlignmentProvider) Header() (*sam.Header, error) {
	return p.header, nil
}

func (p *fakeAlignmentProvider) NewIterator(contig string, start, end int) (Iterator, error) {
	return &fakeAlignmentIterator{recs: p.recs, refName: contig, start: start, end: end}, nil
}

func (p *fakeAlignmentProvider) Close() error { return nil }

func (i *fakeAlignmentIterator) Scan() bool {
	for len(i.recs) > 0 {
		rec := i.recs[0]
		i.recs = i.recs[1:]
		if rec.Ref == nil || rec.Ref.Name() != i.refName {
			continue
		}
		if rec.Pos >= i.end || rec.End() <= i.start {
			continue
		}
		// Return a copy so that the code under test cannot alter the
		// original test input data.
		cp := sam.GetFromFreePool()
		*cp = *rec
		i.rec = cp
		return true
	}
	return false
}

func (i *fakeAlignmentIterator) Record() *sam.Record { return i.rec }
func (i *fakeAlignmentIterator) Err() error          { return nil }
func (i *fakeAlignmentIterator) Close() error        { return nil }

// fakeSignalProvider is only for unittests.
type fakeSignalProvider struct {
	recs map[string]*SignalRecord
}

// NewFakeSignalProvider creates a signal provider backed by the given map.
func NewFakeSignalProvider(recs map[string]*SignalRecord) SignalProvider {
	return &fakeSignalProvider{recs: recs}
}

func (p *fakeSignalProvider) Signal(readID string) (*SignalRecord, error) {
	if rec, ok := p.recs[readID]; ok {
		return rec, nil
	}
	return nil, errors.Wrapf(ErrUnknownRead, "read %s", readID)
}

func (p *fakeSignalProvider) Close() error { return nil }
