package core

import (
	"math"
	"sort"
	"strings"
)

// Protein is a database entry peptides are digested from.
type Protein struct {
	Accession     string
	Name          string
	Organism      string
	Sequence      string
	IsDecoy       bool
	IsContaminant bool
}

// Peptide is a candidate peptide with its modifications applied. It is
// immutable after construction and safe to share between search workers.
type Peptide struct {
	Protein         *Protein
	BaseSequence    string
	StartResidue    int // 1-based, inclusive
	EndResidue      int // 1-based, inclusive
	MissedCleavages int

	// Mods is keyed with 1 as the N-terminus, residue i (1-based) as i+1 and
	// the C-terminus as len+2.
	Mods             map[int]*Modification
	MonoisotopicMass float64

	fullSequence  string
	residueMasses []float64
}

// NewPeptide builds the peptide spanning residues start..end of protein.
func NewPeptide(reg *Registry, protein *Protein, start, end int, mods map[int]*Modification, missedCleavages int) *Peptide {
	seq := protein.Sequence[start-1 : end]
	p := &Peptide{
		Protein:          protein,
		BaseSequence:     seq,
		StartResidue:     start,
		EndResidue:       end,
		MissedCleavages:  missedCleavages,
		Mods:             mods,
		MonoisotopicMass: reg.PeptideMass(seq, mods),
		residueMasses:    make([]float64, len(seq)),
	}
	for i, aa := range []byte(seq) {
		m, ok := reg.ResidueMass(rune(aa))
		if !ok {
			m = math.NaN()
		}
		p.residueMasses[i] = m
	}
	p.fullSequence = p.buildFullSequence()
	return p
}

func (p *Peptide) buildFullSequence() string {
	var sb strings.Builder
	if m, ok := p.Mods[1]; ok {
		sb.WriteString("[" + m.ID() + "]")
	}
	for i := 0; i < len(p.BaseSequence); i++ {
		sb.WriteByte(p.BaseSequence[i])
		if m, ok := p.Mods[i+2]; ok {
			sb.WriteString("[" + m.ID() + "]")
		}
	}
	if m, ok := p.Mods[len(p.BaseSequence)+2]; ok {
		sb.WriteString("-[" + m.ID() + "]")
	}
	return sb.String()
}

// FullSequence returns the sequence with bracketed modifications, e.g. "PEPM[Oxidation on M]K".
func (p *Peptide) FullSequence() string { return p.fullSequence }

// Length returns the number of residues.
func (p *Peptide) Length() int { return len(p.BaseSequence) }

// IsDecoy reports whether the peptide comes from a decoy protein.
func (p *Peptide) IsDecoy() bool { return p.Protein != nil && p.Protein.IsDecoy }

// IsContaminant reports whether the peptide comes from a contaminant protein.
func (p *Peptide) IsContaminant() bool { return p.Protein != nil && p.Protein.IsContaminant }

// Accession returns the parent protein accession.
func (p *Peptide) Accession() string {
	if p.Protein == nil {
		return ""
	}
	return p.Protein.Accession
}

// ModKeys returns the occupied modification keys in ascending order.
func (p *Peptide) ModKeys() []int {
	keys := make([]int, 0, len(p.Mods))
	for k := range p.Mods {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// ModsFormula returns the summed chemical formula of all modifications, or
// nil if any modification has no known formula.
func (p *Peptide) ModsFormula() Formula {
	f := Formula{}
	for _, m := range p.Mods {
		if m.Formula == nil {
			return nil
		}
		f = f.Add(m.Formula)
	}
	return f
}

// ModCounts counts modifications by ID.
func (p *Peptide) ModCounts() map[string]int {
	counts := make(map[string]int, len(p.Mods))
	for _, m := range p.Mods {
		counts[m.ID()]++
	}
	return counts
}

// Fragment returns the theoretical products for the dissociation type.
func (p *Peptide) Fragment(d DissociationType) []Product {
	return p.FragmentInto(d, nil)
}

// FragmentInto appends the theoretical products for the dissociation type to
// dst, letting callers reuse a buffer across peptides.
func (p *Peptide) FragmentInto(d DissociationType, dst []Product) []Product {
	n := len(p.BaseSequence)
	types := d.ProductTypes()

	nTermMass := 0.0
	if m, ok := p.Mods[1]; ok {
		nTermMass = m.Mass
	}
	var nLosses []float64
	if m, ok := p.Mods[1]; ok {
		nLosses = append(nLosses, m.NeutralLosses...)
	}
	prefix := nTermMass
	for i := 0; i < n-1; i++ {
		prefix += p.residueMasses[i]
		if m, ok := p.Mods[i+2]; ok {
			prefix += m.Mass
			nLosses = append(nLosses, m.NeutralLosses...)
		}
		for _, t := range types {
			if t.Terminus() != NTerminus {
				continue
			}
			if t == C && p.BaseSequence[i+1] == 'P' {
				continue
			}
			dst = appendWithLosses(dst, Product{
				Type:              t,
				Terminus:          NTerminus,
				NeutralMass:       prefix + t.MassShift(),
				FragmentNumber:    i + 1,
				AminoAcidPosition: i + 1,
			}, nLosses)
		}
	}

	suffix := 0.0
	if m, ok := p.Mods[n+2]; ok {
		suffix = m.Mass
	}
	var cLosses []float64
	if m, ok := p.Mods[n+2]; ok {
		cLosses = append(cLosses, m.NeutralLosses...)
	}
	for i := n - 1; i > 0; i-- {
		suffix += p.residueMasses[i]
		if m, ok := p.Mods[i+2]; ok {
			suffix += m.Mass
			cLosses = append(cLosses, m.NeutralLosses...)
		}
		number := n - i
		for _, t := range types {
			if t.Terminus() != CTerminus {
				continue
			}
			if t == ZDot && p.BaseSequence[i] == 'P' {
				continue
			}
			dst = appendWithLosses(dst, Product{
				Type:              t,
				Terminus:          CTerminus,
				NeutralMass:       suffix + t.MassShift(),
				FragmentNumber:    number,
				AminoAcidPosition: n - number,
			}, cLosses)
		}
	}

	return p.appendDiagnostics(d, dst)
}

func appendWithLosses(dst []Product, prod Product, losses []float64) []Product {
	dst = append(dst, prod)
	seen := map[float64]bool{}
	for _, loss := range losses {
		if seen[loss] {
			continue
		}
		seen[loss] = true
		withLoss := prod
		withLoss.NeutralMass -= loss
		withLoss.NeutralLoss = loss
		dst = append(dst, withLoss)
	}
	return dst
}

func (p *Peptide) appendDiagnostics(d DissociationType, dst []Product) []Product {
	if len(p.Mods) == 0 {
		return dst
	}
	var masses []float64
	seen := map[float64]bool{}
	for _, k := range p.ModKeys() {
		for _, mass := range p.Mods[k].DiagnosticIons[d] {
			if !seen[mass] {
				seen[mass] = true
				masses = append(masses, mass)
			}
		}
	}
	sort.Float64s(masses)
	for _, mass := range masses {
		dst = append(dst, Product{
			Type:           D,
			Terminus:       NoTerminus,
			NeutralMass:    mass,
			FragmentNumber: int(math.Round(ToMz(mass, 1))),
		})
	}
	return dst
}
