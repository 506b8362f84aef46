package core

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Registry holds the residue and modification catalogue used to build peptides.
// It is an explicit value: callers construct one and pass it to digestion and
// search configuration. It is safe for concurrent reads once populated.
type Registry struct {
	residues map[rune]float64
	mods     map[string]*Modification
}

// NewRegistry creates a registry holding the 20 standard residues and no modifications.
func NewRegistry() *Registry {
	r := &Registry{
		residues: make(map[rune]float64),
		mods:     make(map[string]*Modification),
	}
	for aa, comp := range AminoAcidMasses {
		r.residues[aa] = comp.Mass()
	}
	return r
}

// AddResidue registers or replaces a residue by its elemental composition.
func (r *Registry) AddResidue(code rune, formula Formula) {
	r.residues[code] = formula.Mass()
}

// ResidueMass returns the monoisotopic residue mass for a one-letter code.
func (r *Registry) ResidueMass(code rune) (float64, bool) {
	mass, ok := r.residues[code]
	return mass, ok
}

// AddModification adds or replaces a modification by name.
func (r *Registry) AddModification(m *Modification) {
	r.mods[m.Name] = m
}

// Modification looks up a modification by name.
func (r *Registry) Modification(name string) (*Modification, bool) {
	m, ok := r.mods[name]
	return m, ok
}

// Modifications returns the catalogue sorted by name.
func (r *Registry) Modifications() []*Modification {
	out := make([]*Modification, 0, len(r.mods))
	for _, m := range r.mods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PeptideMass returns the neutral monoisotopic mass of sequence with mods
// applied. Unknown residues yield NaN.
func (r *Registry) PeptideMass(sequence string, mods map[int]*Modification) float64 {
	mass := WaterMass
	for _, aa := range sequence {
		m, ok := r.residues[aa]
		if !ok {
			return math.NaN()
		}
		mass += m
	}
	for _, mod := range mods {
		mass += mod.Mass
	}
	return mass
}

// LoadModificationsCSV loads modifications from CSV (format: name,mass[,formula]).
// The first line is a header.
func (r *Registry) LoadModificationsCSV(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)

	// Skip header line
	scanner.Scan()

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return fmt.Errorf("line %d: invalid format, expected at least 2 comma-separated fields", lineNum)
		}

		name := strings.TrimSpace(parts[0])
		massStr := strings.TrimSpace(parts[1])
		mass, err := strconv.ParseFloat(massStr, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid mass value '%s': %w", lineNum, massStr, err)
		}

		mod := &Modification{Name: name, Mass: mass}
		if len(parts) >= 3 && strings.TrimSpace(parts[2]) != "" {
			f, err := ParseFormula(strings.TrimSpace(parts[2]))
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
			mod.Formula = f
		}
		r.mods[name] = mod
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}

	return nil
}

// ParseModSpec parses a modification list like "Carbamidomethyl@C;15.994915@M;Acetyl@nterm".
// Targets are a residue letter, "nterm", "cterm", or a residue with a
// terminus such as "Q-nterm". Numeric names create mass-only modifications.
func (r *Registry) ParseModSpec(spec string) ([]*Modification, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	var mods []*Modification
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		atParts := strings.Split(part, "@")
		if len(atParts) != 2 {
			return nil, fmt.Errorf("invalid modification format '%s', expected 'name@target'", part)
		}
		nameOrMass := strings.TrimSpace(atParts[0])

		var base *Modification
		if mass, err := strconv.ParseFloat(nameOrMass, 64); err == nil {
			base = &Modification{Name: formatMass(mass), Mass: mass}
		} else {
			m, ok := r.Modification(nameOrMass)
			if !ok {
				return nil, fmt.Errorf("unknown modification '%s'", nameOrMass)
			}
			base = m
		}

		target, loc, err := parseTarget(strings.TrimSpace(atParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid target in '%s': %w", part, err)
		}
		mods = append(mods, base.WithTarget(target, loc))
	}

	return mods, nil
}

func parseTarget(s string) (rune, ModLocation, error) {
	lower := strings.ToLower(s)
	switch lower {
	case "nterm", "n-term":
		return 0, NTerminal, nil
	case "cterm", "c-term":
		return 0, CTerminal, nil
	}

	residue, suffix, _ := strings.Cut(s, "-")
	if len(residue) != 1 || residue[0] < 'A' || residue[0] > 'Z' {
		return 0, Anywhere, fmt.Errorf("expected a residue letter, got '%s'", s)
	}
	switch strings.ToLower(suffix) {
	case "":
		return rune(residue[0]), Anywhere, nil
	case "nterm":
		return rune(residue[0]), NTerminal, nil
	case "cterm":
		return rune(residue[0]), CTerminal, nil
	}
	return 0, Anywhere, fmt.Errorf("unknown terminus '%s'", suffix)
}

func mustFormula(s string) Formula {
	f, err := ParseFormula(s)
	if err != nil {
		panic(err)
	}
	return f
}

// tmtReporters are TMT reporter ion m/z values at charge one.
var tmtReporters = []float64{126.127726, 127.124761, 127.131081, 128.128116, 128.134436, 129.131471, 129.137790, 130.134825, 130.141145, 131.138180}

// DefaultRegistry returns a Registry pre-loaded with common modifications.
// Targets are bound when a modification is selected with ParseModSpec.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	add := func(name string, mass float64, formula string) *Modification {
		m := &Modification{Name: name, Mass: mass}
		if formula != "" {
			m.Formula = mustFormula(formula)
		}
		r.AddModification(m)
		return m
	}

	// Common modifications from unimod
	add("Acetyl", 42.010565, "C2H2O")
	add("Amidated", -0.984016, "H-1N-1O")
	add("Biotin", 226.077598, "C10H14N2O2S")
	add("Carbamidomethyl", 57.021464, "C2H3NO")
	add("Carbamyl", 43.005814, "CHNO")
	add("Carboxymethyl", 58.005479, "C2H2O2")
	add("Deamidated", 0.984016, "H-1N-1O")
	add("Met->Hse", -29.992806, "C-1H-2OS-1")
	add("Met->Hsl", -48.003371, "C-1H-4S-1")
	add("NIPCAM", 99.068414, "C5H9NO")
	add("Phospho", 79.966331, "HO3P").NeutralLosses = []float64{97.976896}
	add("Dehydrated", -18.010565, "H-2O-1")
	add("Propionamide", 71.037114, "C3H5NO")
	add("Pyro-carbamidomethyl", 39.994915, "C2O")
	add("Glu->pyro-Glu", -18.010565, "H-2O-1")
	add("Gln->pyro-Glu", -17.026549, "H-3N-1")
	add("Cation:Na", 21.981943, "H-1Na")
	add("Methyl", 14.01565, "CH2")
	add("Oxidation", 15.994915, "O")
	add("Dimethyl", 28.0313, "C2H4")
	add("Trimethyl", 42.04695, "C3H6")
	add("Methylthio", 45.987721, "CH2S")
	add("Sulfo", 79.956815, "O3S")
	add("Hex", 162.052824, "C6H10O5")
	add("Lipoyl", 188.032956, "C8H12OS2")
	add("HexNAc", 203.079373, "C8H13NO5")
	add("Farnesyl", 204.187801, "C15H24")
	add("Myristoyl", 210.198366, "C14H26O")
	add("PyridoxalPhosphate", 229.014009, "C8H8NO5P")
	add("Palmitoyl", 238.229666, "C16H30O")
	add("GeranylGeranyl", 272.250401, "C20H32")
	add("Phosphopantetheine", 340.085794, "C11H21N2O6PS")
	add("Guanidinyl", 42.021798, "CH2N2")
	add("HNE", 156.11503, "C9H16O2")
	add("Glucuronyl", 176.032088, "C6H8O6")
	add("Glutathione", 305.068156, "C10H15N3O6S")
	add("Propionyl", 56.026215, "C3H4O")
	add("FAD", 783.141486, "C27H31N9O15P2")

	// Isobaric labels carry heavy isotopes, so only their masses are known.
	reporters := make([]float64, len(tmtReporters))
	for i, mz := range tmtReporters {
		reporters[i] = ToMass(mz, 1)
	}
	for _, name := range []string{"TMT", "TMT6plex", "TMT10plex", "TMT11plex"} {
		add(name, 229.162932, "").DiagnosticIons = map[DissociationType][]float64{HCD: reporters, EThcD: reporters}
	}
	for _, name := range []string{"TMTPro", "TMT16plex"} {
		add(name, 304.207146, "").DiagnosticIons = map[DissociationType][]float64{HCD: reporters, EThcD: reporters}
	}
	add("iTRAQ4plex", 144.102063, "")
	add("iTRAQ8plex", 304.205360, "")

	return r
}
