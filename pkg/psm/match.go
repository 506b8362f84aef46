package psm

import (
	"math"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// FdrInfo holds target-decoy statistics attached after the FDR pass.
type FdrInfo struct {
	CumulativeTarget      float64
	CumulativeDecoy       float64
	QValue                float64
	CumulativeTargetNotch float64
	CumulativeDecoyNotch  float64
	QValueNotch           float64
	PEP                   float64 // NaN until a PEP model has run
	PEPQValue             float64
}

// NewFdrInfo returns FDR info with unset PEP values.
func NewFdrInfo() *FdrInfo {
	return &FdrInfo{PEP: math.NaN(), PEPQValue: math.NaN()}
}

// SpectralMatch is the match of one spectrum: its tied best hypotheses, the
// scores, and the fields resolved across the hypotheses for reporting.
type SpectralMatch struct {
	Spectrum  *core.Spectrum
	ScanIndex int

	Score         float64
	RunnerUpScore float64

	hypotheses []Hypothesis
	resolved   bool

	// Resolved fields. Strings are empty and pointers nil when the
	// hypotheses disagree.
	FullSequence            string
	BaseSequence            string
	PeptideLength           *int
	OneBasedStartResidue    *int
	OneBasedEndResidue      *int
	ParentLength            *int
	PeptideMonoisotopicMass *float64
	Accession               string
	Organism                string
	ModsIdentified          map[string]int
	ModsChemicalFormula     core.Formula
	Notch                   *int

	// Per-hypothesis precursor mass errors, in hypothesis order.
	PrecursorMassErrorDa  []float64
	PrecursorMassErrorPpm []float64

	MatchedIons   []core.MatchedFragmentIon
	IsDecoy       bool
	IsContaminant bool

	FdrInfo        *FdrInfo
	PeptideFdrInfo *FdrInfo
	PsmCount       int
}

// NewSpectralMatch wraps a non-empty accumulator for the spectrum at scanIndex.
func NewSpectralMatch(spec *core.Spectrum, scanIndex int, acc Accumulator) *SpectralMatch {
	return &SpectralMatch{
		Spectrum:      spec,
		ScanIndex:     scanIndex,
		Score:         acc.Score,
		RunnerUpScore: acc.RunnerUpScore,
		hypotheses:    acc.Hypotheses,
	}
}

// Accumulator returns the match state as an accumulator value.
func (m *SpectralMatch) Accumulator() Accumulator {
	return Accumulator{Score: m.Score, RunnerUpScore: m.RunnerUpScore, Hypotheses: m.hypotheses}
}

// AddOrReplace folds a new hypothesis into the match.
func (m *SpectralMatch) AddOrReplace(pep *core.Peptide, score float64, notch int, reportAll bool, ions []core.MatchedFragmentIon) {
	acc := Fold(m.Accumulator(), Hypothesis{Peptide: pep, Notch: notch, Score: score, MatchedIons: ions}, reportAll)
	m.Score, m.RunnerUpScore, m.hypotheses = acc.Score, acc.RunnerUpScore, acc.Hypotheses
	m.resolved = false
}

// Hypotheses returns the current hypotheses in order.
func (m *SpectralMatch) Hypotheses() []Hypothesis {
	return append([]Hypothesis(nil), m.hypotheses...)
}

// DeltaScore is the margin between the best and runner-up scores.
func (m *SpectralMatch) DeltaScore() float64 {
	return m.Score - m.RunnerUpScore
}

// IsResolved reports whether ResolveAllAmbiguities ran since the last change.
func (m *SpectralMatch) IsResolved() bool { return m.resolved }

// IsAmbiguous reports whether the resolved hypotheses disagree on the full
// sequence or the notch.
func (m *SpectralMatch) IsAmbiguous() bool {
	return m.FullSequence == "" || m.Notch == nil
}

// RemoveThisAmbiguousPeptide drops the hypothesis for pep at notch and
// re-resolves. A match left without hypotheses scores zero.
func (m *SpectralMatch) RemoveThisAmbiguousPeptide(pep *core.Peptide, notch int) {
	kept := make([]Hypothesis, 0, len(m.hypotheses))
	for _, h := range m.hypotheses {
		if h.Peptide == pep && h.Notch == notch {
			continue
		}
		kept = append(kept, h)
	}
	m.hypotheses = kept
	if len(kept) == 0 {
		m.Score = 0
	}
	m.ResolveAllAmbiguities()
}

// Compare orders matches best first: higher score, then larger margin over
// the runner-up, then smaller absolute ppm error, then lower scan number.
func Compare(a, b *SpectralMatch) int {
	if d := a.Score - b.Score; math.Abs(d) > ToleranceForScoreDifferentiation {
		if d > 0 {
			return -1
		}
		return 1
	}
	if d := a.RunnerUpScore - b.RunnerUpScore; math.Abs(d) > ToleranceForScoreDifferentiation {
		if d < 0 {
			return -1
		}
		return 1
	}
	pa, pb := a.minAbsPpm(), b.minAbsPpm()
	if pa != pb {
		if pa < pb {
			return -1
		}
		return 1
	}
	return a.Spectrum.ScanNumber - b.Spectrum.ScanNumber
}

func (m *SpectralMatch) minAbsPpm() float64 {
	best := math.MaxFloat64
	for _, p := range m.PrecursorMassErrorPpm {
		best = math.Min(best, math.Abs(p))
	}
	return best
}
