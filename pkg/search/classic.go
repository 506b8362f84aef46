package search

import (
	"context"
	"math"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/digest"
	"github.com/ChrisMcGann/psmsearch/pkg/index"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

// Classic is the brute-force engine: every candidate whose mass the acceptor
// allows for a spectrum is fragmented and scored.
type Classic struct {
	params   Params
	peptides []*core.Peptide // ascending mass
	decoys   []*core.Peptide // on-the-fly decoys, parallel to peptides
}

// NewClassic prepares a classic search over peptides. With a registry, a
// reversed decoy is generated for every peptide and the better scoring of the
// pair competes for each spectrum.
func NewClassic(peptides []*core.Peptide, p Params, decoyRegistry *core.Registry) *Classic {
	c := &Classic{params: p, peptides: index.SortByMass(peptides)}
	if decoyRegistry != nil {
		c.decoys = make([]*core.Peptide, len(c.peptides))
		for i, pep := range c.peptides {
			c.decoys[i] = digest.ReversePeptide(decoyRegistry, pep)
		}
	}
	return c
}

// Search runs the classic search.
func (c *Classic) Search(ctx context.Context, spectra []*core.Spectrum) (*Result, error) {
	return run(ctx, "classic", spectra, c.params, c.newSearcher)
}

func (c *Classic) newSearcher() spectrumSearcher {
	p := c.params
	var products []core.Product
	seen := make(map[int]bool)

	return func(spec *core.Spectrum) psm.Accumulator {
		prepareSpectrum(spec, p)
		acc := psm.NewAccumulator(p.ScoreCutoff)
		clear(seen)

		for _, interval := range p.Acceptor.AllowedIntervalsFromObserved(spec.PrecursorMass) {
			lo, hi := index.MassRange(c.peptides, interval.Min, interval.Max)
			for id := lo; id < hi; id++ {
				if seen[id] {
					continue
				}
				seen[id] = true

				pep := c.peptides[id]
				notch := p.Acceptor.Accepts(pep.MonoisotopicMass, spec.PrecursorMass)
				if notch < 0 {
					continue
				}

				var score float64
				var matched []core.MatchedFragmentIon
				score, matched, products = scoreCandidate(spec, pep, p, products)
				best := psm.Hypothesis{Peptide: pep, Notch: notch, Score: score, MatchedIons: matched}

				if c.decoys != nil {
					decoy := c.decoys[id]
					var decoyScore float64
					decoyScore, matched, products = scoreCandidate(spec, decoy, p, products)
					if decoyScore > score {
						best = psm.Hypothesis{Peptide: decoy, Notch: notch, Score: decoyScore, MatchedIons: matched}
					}
				}
				if math.IsNaN(best.Score) {
					continue
				}
				acc = fold(acc, best, p)
			}
		}
		return acc
	}
}
