package scoring

import (
	"strconv"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// xcorrNeutralLossWeight scales Xcorr intensity for neutral-loss ions.
const xcorrNeutralLossWeight = 0.01

// CalculatePeptideScore scores matched ions. The Morpheus score counts one
// per matched ion plus its fraction of the total ion current; Xcorr-processed
// spectra sum the transformed intensities instead. Diagnostic ions never
// contribute. With allCharges, repeated charge states of one fragment add only
// their intensity fraction.
func CalculatePeptideScore(spec *core.Spectrum, matched []core.MatchedFragmentIon, allCharges bool) float64 {
	if allCharges {
		return allChargesScore(spec, matched)
	}

	score := 0.0
	if spec.XcorrProcessed {
		for _, ion := range matched {
			switch {
			case ion.IsDiagnostic():
			case ion.Product.NeutralLoss != 0:
				score += xcorrNeutralLossWeight * ion.Intensity
			default:
				score += ion.Intensity
			}
		}
		return score
	}

	for _, ion := range matched {
		if ion.IsDiagnostic() {
			continue
		}
		score += 1 + ion.Intensity/spec.TotalIonCurrent
	}
	return score
}

func allChargesScore(spec *core.Spectrum, matched []core.MatchedFragmentIon) float64 {
	score := 0.0
	seen := make(map[string]bool)
	for _, ion := range matched {
		if ion.IsDiagnostic() {
			continue
		}
		key := ion.Product.Type.String() + strconv.Itoa(ion.Product.FragmentNumber)
		if !seen[key] {
			seen[key] = true
			score++
		}
		score += ion.Intensity / spec.TotalIonCurrent
	}
	return score
}
