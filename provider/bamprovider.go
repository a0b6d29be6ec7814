package provider

import (
	"fmt"
	"io"
	"sync"

	"github.com/genometechlab/currentview/util"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// BAMProvider implements AlignmentProvider for indexed BAM files.
type BAMProvider struct {
	// Path of the *.bam file.  Must be nonempty.
	Path string
	// Index is the pathname of the *.bam.bai file.  If "", Path + ".bai".
	Index string
	err   errors.Once

	mu        sync.Mutex
	nActive   int
	freeIters []*bamIterator
	header    *sam.Header
}

type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader
	index    *bam.Index

	// Half-open reference range to yield, on ref.
	ref        *sam.Reference
	start, end int

	active bool
	err    error
	next   *sam.Record
}

func (b *BAMProvider) indexPath() string {
	if b.Index == "" {
		return b.Path + ".bai"
	}
	return b.Index
}

// Header implements the AlignmentProvider interface.
func (b *BAMProvider) Header() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	bamReader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer bamReader.Close() // nolint: errcheck
	b.header = bamReader.Header()
	return b.header, nil
}

// NewIterator implements the AlignmentProvider interface.  An unknown
// contig is a caller error; the message suggests the closest known contig
// name.
func (b *BAMProvider) NewIterator(contig string, start, end int) (Iterator, error) {
	header, err := b.Header()
	if err != nil {
		return nil, err
	}
	var ref *sam.Reference
	for _, r := range header.Refs() {
		if r.Name() == contig {
			ref = r
			break
		}
	}
	if ref == nil {
		msg := fmt.Sprintf("contig %q not found in %s", contig, b.Path)
		if s := closestName(contig, header.Refs()); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return nil, fmt.Errorf("provider: %s", msg)
	}
	if start < 0 {
		start = 0
	}
	if end > ref.Len() {
		end = ref.Len()
	}
	iter := b.allocateIterator()
	if iter.err == nil {
		iter.reset(ref, start, end)
	}
	return iter, nil
}

// Close implements the AlignmentProvider interface.
func (b *BAMProvider) Close() error {
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	for _, iter := range b.freeIters {
		iter.internalClose()
	}
	b.freeIters = nil
	return b.err.Err()
}

func closestName(contig string, refs []*sam.Reference) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name()
	}
	return util.Nearest(contig, names)
}

// allocateIterator returns an unused iterator, reusing a pooled one when
// available.  On error the returned iterator has a non-nil err field.
func (b *BAMProvider) allocateIterator() *bamIterator {
	b.mu.Lock()
	b.nActive++
	if n := len(b.freeIters); n > 0 {
		iter := b.freeIters[n-1]
		b.freeIters = b.freeIters[:n-1]
		iter.active = true
		iter.err = nil
		iter.next = nil
		b.mu.Unlock()
		return iter
	}
	b.mu.Unlock()

	iter := &bamIterator{provider: b, active: true}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return iter
	}
	var indexIn file.File
	if indexIn, iter.err = file.Open(ctx, b.indexPath()); iter.err != nil {
		return iter
	}
	defer indexIn.Close(ctx) // nolint: errcheck
	if iter.index, iter.err = bam.ReadIndex(indexIn.Reader(ctx)); iter.err != nil {
		return iter
	}
	iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1)
	return iter
}

// reset positions the iterator at the first chunk that may contain records
// overlapping [start, end) on ref.
func (i *bamIterator) reset(ref *sam.Reference, start, end int) {
	i.ref, i.start, i.end = ref, start, end
	if start >= end {
		i.err = io.EOF
		return
	}
	chunks, err := i.index.Chunks(ref, start, end)
	if err == index.ErrInvalid || len(chunks) == 0 {
		// No reads indexed for this interval.
		i.err = io.EOF
		return
	}
	if err != nil {
		i.err = err
		return
	}
	i.err = i.reader.Seek(chunks[0].Begin)
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	b := i.provider
	if !i.active {
		vlog.Fatal("closing inactive iterator")
	}
	i.active = false
	b.mu.Lock()
	if i.Err() == nil {
		b.freeIters = append(b.freeIters, i)
	} else {
		i.internalClose()
	}
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("negative active count for %+v", b)
	}
	b.mu.Unlock()
	return err
}

func (i *bamIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("reusing closed iterator")
	}
	if i.err != nil {
		return false
	}
	for {
		i.next, i.err = i.reader.Read()
		if i.err != nil {
			return false
		}
		if i.next.Ref == nil || i.next.Ref.ID() != i.ref.ID() || i.next.Pos >= i.end {
			i.err = io.EOF
			return false
		}
		if i.next.End() <= i.start {
			// Sorted before the window but does not reach it.
			continue
		}
		return true
	}
}

func (i *bamIterator) Record() *sam.Record {
	return i.next
}

func (i *bamIterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
