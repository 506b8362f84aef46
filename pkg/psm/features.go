package psm

import (
	"math"
	"sort"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// FeatureNames labels the values returned by HypothesisFeatures.
var FeatureNames = []string{
	"Score",
	"DeltaScore",
	"Notch",
	"AbsPpmError",
	"Ambiguity",
	"PeptideLength",
	"PrecursorCharge",
	"LongestIonSeries",
	"ComplementaryIons",
	"MatchedIonFraction",
	"MissedCleavages",
}

// LongestIonSeriesBidirectional returns the longest run of consecutive amino
// acid positions covered by matched backbone ions from either terminus.
func LongestIonSeriesBidirectional(ions []core.MatchedFragmentIon) int {
	seen := make(map[int]bool)
	var positions []int
	for _, ion := range ions {
		if ion.Product.Type.Kind() != core.Backbone {
			continue
		}
		pos := ion.Product.AminoAcidPosition
		if !seen[pos] {
			seen[pos] = true
			positions = append(positions, pos)
		}
	}
	if len(positions) == 0 {
		return 0
	}
	sort.Ints(positions)

	longest, run := 1, 1
	for i := 1; i < len(positions); i++ {
		if positions[i] == positions[i-1]+1 {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}

// CountComplementaryIons counts cleavage sites explained by both an
// N-terminal and a C-terminal ion.
func CountComplementaryIons(ions []core.MatchedFragmentIon) int {
	nTerm := make(map[int]bool)
	cTerm := make(map[int]bool)
	for _, ion := range ions {
		switch ion.Product.Terminus {
		case core.NTerminus:
			nTerm[ion.Product.AminoAcidPosition] = true
		case core.CTerminus:
			cTerm[ion.Product.AminoAcidPosition] = true
		}
	}
	count := 0
	for pos := range nTerm {
		if cTerm[pos] {
			count++
		}
	}
	return count
}

// HypothesisFeatures returns the PEP features of one hypothesis of m, in
// FeatureNames order.
func HypothesisFeatures(m *SpectralMatch, h Hypothesis) []float64 {
	pep := h.Peptide
	scanMass := m.Spectrum.PrecursorMass
	ppm := math.Abs((scanMass - pep.MonoisotopicMass) / pep.MonoisotopicMass * 1e6)

	backbone := 0
	for _, ion := range h.MatchedIons {
		if ion.Product.Type.Kind() == core.Backbone {
			backbone++
		}
	}
	possible := 2 * max(pep.Length()-1, 1)

	return []float64{
		h.Score,
		m.DeltaScore(),
		float64(h.Notch),
		ppm,
		float64(len(m.hypotheses)),
		float64(pep.Length()),
		float64(m.Spectrum.PrecursorCharge),
		float64(LongestIonSeriesBidirectional(h.MatchedIons)),
		float64(CountComplementaryIons(h.MatchedIons)),
		float64(backbone) / float64(possible),
		float64(pep.MissedCleavages),
	}
}
