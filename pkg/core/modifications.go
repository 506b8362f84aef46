package core

import (
	"fmt"
	"strconv"
)

// ModLocation restricts where a modification may be placed.
type ModLocation int

const (
	Anywhere ModLocation = iota
	NTerminal
	CTerminal
)

// Modification is a mass shift on a residue or peptide terminus.
type Modification struct {
	Name     string
	Target   rune // 0 matches any residue
	Location ModLocation
	Mass     float64
	Formula  Formula // nil when the composition is unknown

	// NeutralLosses are subtracted from every fragment containing the site.
	NeutralLosses []float64
	// DiagnosticIons are neutral reporter masses observed for a dissociation type.
	DiagnosticIons map[DissociationType][]float64
}

// ID returns the identifier used in full sequences, e.g. "Oxidation on M".
func (m *Modification) ID() string {
	target := "X"
	if m.Target != 0 {
		target = string(m.Target)
	}
	return fmt.Sprintf("%s on %s", m.Name, target)
}

// WithTarget returns a copy of m bound to a residue and location.
func (m *Modification) WithTarget(target rune, loc ModLocation) *Modification {
	c := *m
	c.Target = target
	c.Location = loc
	return &c
}

// Applies reports whether the modification can sit on residue at the 0-based
// index of a peptide with the given length.
func (m *Modification) Applies(residue rune, index, length int) bool {
	if m.Target != 0 && m.Target != residue {
		return false
	}
	switch m.Location {
	case NTerminal:
		return index == 0
	case CTerminal:
		return index == length-1
	default:
		return true
	}
}

// ModKey returns the key of a modification placed at the 0-based residue index.
// Keys follow the one-is-N-terminus convention: key 1 is the peptide N-terminus,
// residue i (1-based) is key i+1, and the C-terminus is length+2.
func (m *Modification) ModKey(index, length int) int {
	switch {
	case m.Location == NTerminal && m.Target == 0:
		return 1
	case m.Location == CTerminal && m.Target == 0:
		return length + 2
	default:
		return index + 2
	}
}

func formatMass(mass float64) string {
	return strconv.FormatFloat(mass, 'f', -1, 64)
}
