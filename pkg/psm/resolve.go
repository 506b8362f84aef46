package psm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// ContaminantPolicy decides between target and contaminant hypotheses that
// tie for the best score.
type ContaminantPolicy int

const (
	RemoveContaminant ContaminantPolicy = iota
	RemoveTarget
	KeepBoth
)

// ErrUnknownContaminantPolicy is returned for unrecognised policy names.
var ErrUnknownContaminantPolicy = errors.New("unknown contaminant policy")

// ParseContaminantPolicy parses "RemoveContaminant", "RemoveTarget" or "KeepBoth".
func ParseContaminantPolicy(s string) (ContaminantPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "removecontaminant", "":
		return RemoveContaminant, nil
	case "removetarget":
		return RemoveTarget, nil
	case "keepboth":
		return KeepBoth, nil
	}
	return RemoveContaminant, fmt.Errorf("%w: '%s'", ErrUnknownContaminantPolicy, s)
}

func (p ContaminantPolicy) String() string {
	switch p {
	case RemoveTarget:
		return "RemoveTarget"
	case KeepBoth:
		return "KeepBoth"
	default:
		return "RemoveContaminant"
	}
}

// ResolveAllAmbiguities drops decoy hypotheses whose full sequence is also a
// target hypothesis, then sets each reporting field to the value shared by all
// hypotheses, or leaves it unset when they disagree.
func (m *SpectralMatch) ResolveAllAmbiguities() {
	m.hypotheses = dropShadowedDecoys(m.hypotheses)
	m.resolved = true

	hs := m.hypotheses
	m.FullSequence = resolveString(hs, func(h Hypothesis) string { return h.Peptide.FullSequence() })
	m.BaseSequence = resolveString(hs, func(h Hypothesis) string { return h.Peptide.BaseSequence })
	m.Accession = resolveString(hs, func(h Hypothesis) string { return h.Peptide.Accession() })
	m.Organism = resolveString(hs, func(h Hypothesis) string {
		if h.Peptide.Protein == nil {
			return ""
		}
		return h.Peptide.Protein.Organism
	})
	m.PeptideLength = resolveInt(hs, func(h Hypothesis) int { return h.Peptide.Length() })
	m.OneBasedStartResidue = resolveInt(hs, func(h Hypothesis) int { return h.Peptide.StartResidue })
	m.OneBasedEndResidue = resolveInt(hs, func(h Hypothesis) int { return h.Peptide.EndResidue })
	m.ParentLength = resolveInt(hs, func(h Hypothesis) int {
		if h.Peptide.Protein == nil {
			return 0
		}
		return len(h.Peptide.Protein.Sequence)
	})
	m.Notch = resolveInt(hs, func(h Hypothesis) int { return h.Notch })
	m.PeptideMonoisotopicMass = nil
	if len(hs) > 0 {
		mass := hs[0].Peptide.MonoisotopicMass
		same := true
		for _, h := range hs[1:] {
			if math.Abs(h.Peptide.MonoisotopicMass-mass) > ToleranceForScoreDifferentiation {
				same = false
			}
		}
		if same {
			m.PeptideMonoisotopicMass = &mass
		}
	}

	m.ModsIdentified = nil
	m.ModsChemicalFormula = nil
	if len(hs) > 0 {
		counts := hs[0].Peptide.ModCounts()
		formula := hs[0].Peptide.ModsFormula()
		for _, h := range hs[1:] {
			if counts != nil && !sameCounts(counts, h.Peptide.ModCounts()) {
				counts = nil
			}
			if formula != nil && !formula.Equal(h.Peptide.ModsFormula()) {
				formula = nil
			}
		}
		m.ModsIdentified = counts
		m.ModsChemicalFormula = formula
	}

	m.PrecursorMassErrorDa = make([]float64, len(hs))
	m.PrecursorMassErrorPpm = make([]float64, len(hs))
	m.IsDecoy = len(hs) > 0
	m.IsContaminant = false
	for i, h := range hs {
		pepMass := h.Peptide.MonoisotopicMass
		scanMass := m.Spectrum.PrecursorMass
		m.PrecursorMassErrorDa[i] = core.RoundFloat(scanMass-pepMass, 5)
		m.PrecursorMassErrorPpm[i] = core.RoundFloat((scanMass-pepMass)/pepMass*1e6, 2)
		if !h.Peptide.IsDecoy() {
			m.IsDecoy = false
		}
		if h.Peptide.IsContaminant() {
			m.IsContaminant = true
		}
	}

	m.MatchedIons = nil
	if len(hs) > 0 {
		m.MatchedIons = hs[0].MatchedIons
	}
}

// ApplyContaminantPolicy removes target or contaminant hypotheses when both
// are present, as the policy dictates, and re-resolves.
func (m *SpectralMatch) ApplyContaminantPolicy(p ContaminantPolicy) {
	targets, contaminants := splitContaminants(m.hypotheses)
	if len(targets) == 0 || len(contaminants) == 0 {
		return
	}
	switch p {
	case RemoveContaminant:
		m.hypotheses = targets
	case RemoveTarget:
		m.hypotheses = contaminants
	default:
		return
	}
	m.ResolveAllAmbiguities()
}

// ReportingRows returns the rows a report writer should emit for the match.
// Under KeepBoth a match tied between target and contaminant peptides yields a
// target row and a contaminant row sharing the same scores and FDR info.
func (m *SpectralMatch) ReportingRows(p ContaminantPolicy) []*SpectralMatch {
	targets, contaminants := splitContaminants(m.hypotheses)
	if p != KeepBoth || len(targets) == 0 || len(contaminants) == 0 {
		return []*SpectralMatch{m}
	}
	rows := make([]*SpectralMatch, 0, 2)
	for _, subset := range [][]Hypothesis{targets, contaminants} {
		view := *m
		view.hypotheses = subset
		view.ResolveAllAmbiguities()
		rows = append(rows, &view)
	}
	return rows
}

func splitContaminants(hs []Hypothesis) (targets, contaminants []Hypothesis) {
	for _, h := range hs {
		switch {
		case h.Peptide.IsContaminant():
			contaminants = append(contaminants, h)
		case !h.Peptide.IsDecoy():
			targets = append(targets, h)
		}
	}
	return targets, contaminants
}

func dropShadowedDecoys(hs []Hypothesis) []Hypothesis {
	targets := make(map[string]bool)
	for _, h := range hs {
		if !h.Peptide.IsDecoy() {
			targets[h.Peptide.FullSequence()] = true
		}
	}
	if len(targets) == 0 || len(targets) == len(hs) {
		return hs
	}
	kept := make([]Hypothesis, 0, len(hs))
	for _, h := range hs {
		if h.Peptide.IsDecoy() && targets[h.Peptide.FullSequence()] {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

func resolveString(hs []Hypothesis, f func(Hypothesis) string) string {
	if len(hs) == 0 {
		return ""
	}
	v := f(hs[0])
	for _, h := range hs[1:] {
		if f(h) != v {
			return ""
		}
	}
	return v
}

func resolveInt(hs []Hypothesis, f func(Hypothesis) int) *int {
	if len(hs) == 0 {
		return nil
	}
	v := f(hs[0])
	for _, h := range hs[1:] {
		if f(h) != v {
			return nil
		}
	}
	return &v
}

func sameCounts(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// JoinStrings renders per-hypothesis strings: the shared value, or the values
// joined with "|" when they differ.
func JoinStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return strings.Join(values, "|")
		}
	}
	return values[0]
}

// JoinInts renders per-hypothesis integers like JoinStrings.
func JoinInts(values []int) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = strconv.Itoa(v)
	}
	return JoinStrings(s)
}

// JoinFloats renders per-hypothesis values: their mean with five decimals
// when they agree, and the five-decimal values joined with "|" when they differ.
func JoinFloats(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	if hi-lo < 1e-6 {
		return formatFive(sum / float64(len(values)))
	}
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = formatFive(v)
	}
	return strings.Join(s, "|")
}

// formatFive prints v with five decimals. Adding zero turns -0 into 0.
func formatFive(v float64) string {
	return strconv.FormatFloat(v+0, 'f', 5, 64)
}
