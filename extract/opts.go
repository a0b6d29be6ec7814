package extract

// MoleculeType selects the direction used when walking a read's move table.
// RNA is sequenced 3'->5' relative to the reference-strand convention used
// by the alignment coordinates, so its base-to-sample mapping is reversed.
type MoleculeType int

const (
	// RNA reads traverse the move table in reverse.
	RNA MoleculeType = iota
	// DNA reads traverse the move table in sequencing order.
	DNA
)

func (m MoleculeType) String() string {
	if m == DNA {
		return "dna"
	}
	return "rna"
}

// Opts configures window extraction for one condition.
type Opts struct {
	// Window is the number of reference positions to extract around the
	// target.  Even values are raised to the next odd value so the window
	// stays centered.
	Window int
	// Molecule selects the move-table traversal direction.  This is a fixed
	// per-condition choice, not per-read.
	Molecule MoleculeType
	// ExcludeIndels drops reads that do not have Window contiguous matched
	// bases across the window (insertions, deletions, or partial span).
	ExcludeIndels bool
	// MaxReads caps the number of accepted reads.  0 means unlimited.  The
	// cap applies after all filters, so a requested cap yields exactly that
	// many valid reads when available.
	MaxReads int
	// ReadIDs, when non-empty, restricts extraction to the listed reads.
	ReadIDs []string
	// MatchedBase, when nonzero, requires the read's base at the center
	// position to equal this base (case-insensitive).
	MatchedBase byte
}

// DefaultOpts holds the default extraction parameters.
var DefaultOpts = Opts{
	Window:        9,
	Molecule:      RNA,
	ExcludeIndels: false,
	MaxReads:      0,
}

// windowSize returns the effective (odd) window size.
func (o *Opts) windowSize() int {
	k := o.Window
	if k <= 0 {
		k = DefaultOpts.Window
	}
	if k%2 == 0 {
		k++
	}
	return k
}
