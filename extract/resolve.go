// Package extract translates reference coordinates through read alignments
// into raw-signal sample segments, and assembles per-read segment windows
// around a target position.
package extract

import (
	"errors"
	"fmt"

	"github.com/grailbio/hts/sam"
)

// ErrNotCovered is returned when a reference coordinate falls outside a
// read's aligned span, or on a deletion (which consumes reference positions
// without producing a read base).
var ErrNotCovered = errors.New("extract: reference position not covered by read")

// QueryPosition maps a reference coordinate onto the read-relative base
// index by walking the read's CIGAR.  alignPos is the read's 0-based
// alignment start on the reference.  sawIndel reports whether any
// insertion or deletion operation was traversed between the read's first
// aligned base and the target.
func QueryPosition(cigar sam.Cigar, alignPos, target int) (queryPos int, sawIndel bool, err error) {
	if target < alignPos {
		return 0, false, fmt.Errorf("position %d before alignment start %d: %w", target, alignPos, ErrNotCovered)
	}
	posInRef := alignPos
	posInRead := 0
	for _, co := range cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if target < posInRef+cLen {
				return posInRead + (target - posInRef), sawIndel, nil
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion:
			sawIndel = true
			posInRead += cLen
		case sam.CigarSkipped:
			// Spliced gap; same reference accounting as a deletion, but not
			// counted as an indel.
			if target < posInRef+cLen {
				return 0, sawIndel, fmt.Errorf("position %d inside %d-base skip: %w", target, cLen, ErrNotCovered)
			}
			posInRef += cLen
		case sam.CigarDeletion:
			sawIndel = true
			if target < posInRef+cLen {
				return 0, sawIndel, fmt.Errorf("position %d deleted in read: %w", target, ErrNotCovered)
			}
			posInRef += cLen
		case sam.CigarSoftClipped:
			// Clipped bases are present in the read sequence but consume no
			// reference positions.
			posInRead += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
			// Neither read nor reference bases.
		default:
			return 0, sawIndel, fmt.Errorf("extract: unexpected CIGAR code %v", co)
		}
	}
	return 0, sawIndel, fmt.Errorf("position %d past alignment end %d: %w", target, posInRef, ErrNotCovered)
}

// ReferencePosition is the inverse walk: it maps a read-relative base index
// back to the reference coordinate it is aligned to.  Bases inside
// insertions or clips have no reference coordinate and yield ErrNotCovered.
func ReferencePosition(cigar sam.Cigar, alignPos, queryPos int) (refPos int, err error) {
	if queryPos < 0 {
		return 0, fmt.Errorf("negative base index %d: %w", queryPos, ErrNotCovered)
	}
	posInRef := alignPos
	posInRead := 0
	for _, co := range cigar {
		cLen := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			if queryPos < posInRead+cLen {
				return posInRef + (queryPos - posInRead), nil
			}
			posInRef += cLen
			posInRead += cLen
		case sam.CigarInsertion, sam.CigarSoftClipped:
			if queryPos < posInRead+cLen {
				return 0, fmt.Errorf("base %d inside %v op: %w", queryPos, co.Type(), ErrNotCovered)
			}
			posInRead += cLen
		case sam.CigarDeletion, sam.CigarSkipped:
			posInRef += cLen
		case sam.CigarHardClipped, sam.CigarPadded:
		default:
			return 0, fmt.Errorf("extract: unexpected CIGAR code %v", co)
		}
	}
	return 0, fmt.Errorf("base index %d past read end %d: %w", queryPos, posInRead, ErrNotCovered)
}
