package extract

import (
	"errors"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
)

func cigar(ops ...sam.CigarOp) sam.Cigar { return sam.Cigar(ops) }

func TestQueryPositionMatch(t *testing.T) {
	c := cigar(sam.NewCigarOp(sam.CigarMatch, 10))
	q, indel, err := QueryPosition(c, 100, 105)
	expect.NoError(t, err)
	expect.EQ(t, q, 5)
	expect.False(t, indel)

	q, _, err = QueryPosition(c, 100, 100)
	expect.NoError(t, err)
	expect.EQ(t, q, 0)

	_, _, err = QueryPosition(c, 100, 99)
	expect.True(t, errors.Is(err, ErrNotCovered))
	_, _, err = QueryPosition(c, 100, 110)
	expect.True(t, errors.Is(err, ErrNotCovered))
}

func TestQueryPositionSoftClip(t *testing.T) {
	c := cigar(
		sam.NewCigarOp(sam.CigarSoftClipped, 3),
		sam.NewCigarOp(sam.CigarMatch, 5),
	)
	q, indel, err := QueryPosition(c, 200, 200)
	expect.NoError(t, err)
	expect.EQ(t, q, 3)
	expect.False(t, indel)
}

func TestQueryPositionInsertion(t *testing.T) {
	c := cigar(
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	)
	// Before the insertion.
	q, indel, err := QueryPosition(c, 0, 2)
	expect.NoError(t, err)
	expect.EQ(t, q, 2)
	expect.False(t, indel)
	// After it: the two inserted bases shift the read index.
	q, indel, err = QueryPosition(c, 0, 4)
	expect.NoError(t, err)
	expect.EQ(t, q, 6)
	expect.True(t, indel)
}

func TestQueryPositionDeletion(t *testing.T) {
	c := cigar(
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	)
	// A deleted reference position has no read base.
	_, indel, err := QueryPosition(c, 0, 3)
	expect.True(t, errors.Is(err, ErrNotCovered))
	expect.True(t, indel)

	q, indel, err := QueryPosition(c, 0, 5)
	expect.NoError(t, err)
	expect.EQ(t, q, 3)
	expect.True(t, indel)
}

func TestQueryPositionSkip(t *testing.T) {
	c := cigar(
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarSkipped, 10),
		sam.NewCigarOp(sam.CigarMatch, 3),
	)
	_, _, err := QueryPosition(c, 0, 5)
	expect.True(t, errors.Is(err, ErrNotCovered))

	// A spliced gap is not an indel.
	q, indel, err := QueryPosition(c, 0, 14)
	expect.NoError(t, err)
	expect.EQ(t, q, 4)
	expect.False(t, indel)
}

func TestReferencePositionRoundTrip(t *testing.T) {
	c := cigar(
		sam.NewCigarOp(sam.CigarSoftClipped, 2),
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarInsertion, 2),
		sam.NewCigarOp(sam.CigarMatch, 4),
		sam.NewCigarOp(sam.CigarDeletion, 3),
		sam.NewCigarOp(sam.CigarMatch, 4),
	)
	const alignPos = 50
	nMapped := 0
	for q := 0; q < 16; q++ {
		ref, err := ReferencePosition(c, alignPos, q)
		if err != nil {
			// Clipped or inserted bases have no reference coordinate.
			expect.True(t, errors.Is(err, ErrNotCovered))
			continue
		}
		nMapped++
		back, _, err := QueryPosition(c, alignPos, ref)
		expect.NoError(t, err)
		expect.EQ(t, back, q)
	}
	expect.EQ(t, nMapped, 12)
}
