// Package scoring matches theoretical product ions against observed spectra
// and computes peptide scores.
package scoring

import (
	"math"
	"strconv"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// Params controls fragment matching.
type Params struct {
	ProductTolerance     core.Tolerance
	AddComplementaryIons bool
	// MatchAllCharges matches every charge state of a fragment, as needed when
	// building spectral libraries.
	MatchAllCharges bool
}

// MatchFragmentIons returns the products observed in spec. Each product is
// matched to the closest envelope within tolerance whose charge does not exceed
// the precursor charge. Spectra that went through the Xcorr transform are
// matched on the unit-resolution m/z grid instead.
func MatchFragmentIons(spec *core.Spectrum, products []core.Product, p Params) []core.MatchedFragmentIon {
	if p.MatchAllCharges {
		return matchAllCharges(spec, products, p)
	}

	var matched []core.MatchedFragmentIon

	if spec.XcorrProcessed && len(spec.Peaks) != 0 {
		for _, prod := range products {
			if math.IsNaN(prod.NeutralMass) {
				continue
			}
			mz := core.LowResolutionMz(prod.NeutralMass)
			i := spec.ClosestPeak(mz)
			if p.ProductTolerance.Within(spec.Peaks[i].MZ, mz) {
				matched = append(matched, core.MatchedFragmentIon{
					Product:   prod,
					Mz:        mz,
					Intensity: spec.Peaks[i].Intensity,
					Charge:    1,
				})
			}
		}
		return matched
	}

	if len(spec.Envelopes) == 0 {
		return matched
	}

	for _, prod := range products {
		if math.IsNaN(prod.NeutralMass) {
			continue
		}
		env := spec.Envelopes[spec.ClosestEnvelope(prod.NeutralMass)]
		if p.ProductTolerance.Within(env.MonoisotopicMass, prod.NeutralMass) && abs(env.Charge) <= abs(spec.PrecursorCharge) {
			matched = append(matched, core.MatchedFragmentIon{
				Product:   prod,
				Mz:        core.ToMz(env.MonoisotopicMass, env.Charge),
				Intensity: env.Intensity,
				Charge:    env.Charge,
			})
		}
	}

	if p.AddComplementaryIons {
		matched = appendComplementary(spec, products, p, matched)
	}
	return matched
}

// appendComplementary matches the complement of every backbone product. The
// stored m/z is derived from the complement of the observed envelope so that
// it stays near the product's own mass rather than the raw peak.
func appendComplementary(spec *core.Spectrum, products []core.Product, p Params, matched []core.MatchedFragmentIon) []core.MatchedFragmentIon {
	for _, prod := range products {
		if math.IsNaN(prod.NeutralMass) || prod.Type.Kind() != core.Backbone {
			continue
		}
		shift := spec.Dissociation.ComplementaryShift(prod.Type)
		compMass := spec.PrecursorMass + shift - prod.NeutralMass

		env := spec.Envelopes[spec.ClosestEnvelope(compMass)]
		if p.ProductTolerance.Within(env.MonoisotopicMass, compMass) && abs(env.Charge) <= abs(spec.PrecursorCharge) {
			mz := core.ToMz(spec.PrecursorMass+shift-env.MonoisotopicMass, env.Charge)
			matched = append(matched, core.MatchedFragmentIon{
				Product:   prod,
				Mz:        mz,
				Intensity: env.TotalIntensity,
				Charge:    env.Charge,
			})
		}
	}
	return matched
}

func matchAllCharges(spec *core.Spectrum, products []core.Product, p Params) []core.MatchedFragmentIon {
	var matched []core.MatchedFragmentIon
	seen := make(map[string]bool)

	for _, prod := range products {
		if math.IsNaN(prod.NeutralMass) {
			continue
		}
		lo := p.ProductTolerance.Min(prod.NeutralMass)
		hi := p.ProductTolerance.Max(prod.NeutralMass)
		for _, env := range spec.EnvelopesInRange(lo, hi) {
			key := prod.Annotation() + "^" + strconv.Itoa(env.Charge)
			if seen[key] || abs(env.Charge) > abs(spec.PrecursorCharge) {
				continue
			}
			if !p.ProductTolerance.Within(env.MonoisotopicMass, prod.NeutralMass) {
				continue
			}
			seen[key] = true
			matched = append(matched, core.MatchedFragmentIon{
				Product:   prod,
				Mz:        core.ToMz(env.MonoisotopicMass, env.Charge),
				Intensity: env.Intensity,
				Charge:    env.Charge,
			})
		}
	}
	return matched
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
