package search

import (
	"context"
	"math"
	"sort"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/index"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

// Modern is the indexed engine. A fast rough pass counts, per candidate, the
// observed fragments that fall into its index bins; candidates reaching the
// score cutoff are then rescored exactly, best rough count first.
type Modern struct {
	params Params
	index  *index.Index
}

// NewModern prepares an indexed search. The index must have been built for
// the same dissociation type as p.
func NewModern(ix *index.Index, p Params) *Modern {
	return &Modern{params: p, index: ix}
}

// Search runs the modern search.
func (m *Modern) Search(ctx context.Context, spectra []*core.Spectrum) (*Result, error) {
	return run(ctx, "modern", spectra, m.params, m.newSearcher)
}

// roughCutoff is the rough count at which a candidate qualifies for rescoring.
func (m *Modern) roughCutoff() uint8 {
	c := math.Floor(m.params.ScoreCutoff)
	return uint8(max(1, min(c, math.MaxUint8)))
}

type modernWorker struct {
	*Modern
	scores   []uint8
	ids      []int32
	products []core.Product
}

func (m *Modern) newSearcher() spectrumSearcher {
	w := &modernWorker{Modern: m, scores: make([]uint8, len(m.index.Peptides))}
	return w.search
}

func (w *modernWorker) search(spec *core.Spectrum) psm.Accumulator {
	p := w.params
	prepareSpectrum(spec, p)
	acc := psm.NewAccumulator(p.ScoreCutoff)

	intervals := p.Acceptor.AllowedIntervalsFromObserved(spec.PrecursorMass)
	if len(intervals) == 0 || len(w.index.Peptides) == 0 {
		return acc
	}
	minMass, maxMass := intervals[0].Min, intervals[0].Max
	for _, iv := range intervals[1:] {
		minMass = math.Min(minMass, iv.Min)
		maxMass = math.Max(maxMass, iv.Max)
	}

	clear(w.scores)
	w.ids = w.ids[:0]
	if p.Dissociation.IsLowResolution() {
		w.markLowResolution(spec, minMass, maxMass)
	} else {
		w.countFragments(spec, minMass, maxMass)
	}
	return w.fineScore(spec, acc)
}

// countFragments is the rough pass for high-resolution spectra.
func (w *modernWorker) countFragments(spec *core.Spectrum, minMass, maxMass float64) {
	p := w.params
	cutoff := w.roughCutoff()
	shifts := p.Dissociation.ComplementaryShifts()

	for _, env := range spec.Envelopes {
		lo, hi := w.index.BinRange(env.MonoisotopicMass, p.ProductTolerance)
		for b := lo; b <= hi; b++ {
			w.increment(spec, w.index.Bin(b), minMass, maxMass, cutoff)
		}
		if !p.AddComplementaryIons {
			continue
		}
		for _, shift := range shifts {
			total := spec.PrecursorMass + shift
			clo := int(math.Floor((total - p.ProductTolerance.Max(env.MonoisotopicMass)) * index.FragmentBinsPerDalton))
			chi := int(math.Ceil((total - p.ProductTolerance.Min(env.MonoisotopicMass)) * index.FragmentBinsPerDalton))
			for b := max(clo, 0); b <= min(chi, w.index.NumBins()-1); b++ {
				w.increment(spec, w.index.Bin(b), minMass, maxMass, cutoff)
			}
		}
	}
}

func (w *modernWorker) increment(spec *core.Spectrum, bin []int32, minMass, maxMass float64, cutoff uint8) {
	for _, id := range w.index.FilterBin(bin, minMass, maxMass) {
		if w.scores[id] == math.MaxUint8 {
			continue
		}
		w.scores[id]++
		if w.scores[id] == cutoff && w.params.Acceptor.Accepts(w.index.Peptides[id].MonoisotopicMass, spec.PrecursorMass) >= 0 {
			w.ids = append(w.ids, id)
		}
	}
}

// markLowResolution is the rough pass for unit-resolution spectra: every
// candidate with any fragment on an observed grid point is rescored once.
func (w *modernWorker) markLowResolution(spec *core.Spectrum, minMass, maxMass float64) {
	p := w.params
	shifts := p.Dissociation.ComplementaryShifts()

	mark := func(mass float64) {
		bin := w.index.Bin(index.BinOf(mass, p.Dissociation))
		for _, id := range w.index.FilterBin(bin, minMass, maxMass) {
			if w.scores[id] == 0 && p.Acceptor.Accepts(w.index.Peptides[id].MonoisotopicMass, spec.PrecursorMass) >= 0 {
				w.ids = append(w.ids, id)
			}
			w.scores[id] = 1
		}
	}

	for _, peak := range spec.Peaks {
		mass := core.ToMass(peak.MZ, 1)
		mark(mass)
		if p.AddComplementaryIons {
			for _, shift := range shifts {
				mark(spec.PrecursorMass + shift - mass)
			}
		}
	}
}

// fineScore rescores candidates by descending rough count. The rough count
// counts every indexed fragment in tolerance of an envelope, so it is at
// least the number of backbone fragments the exact score can match. Once it
// falls below the floored best exact score, the candidate is rescored and
// the walk stops.
func (w *modernWorker) fineScore(spec *core.Spectrum, acc psm.Accumulator) psm.Accumulator {
	p := w.params
	sort.SliceStable(w.ids, func(i, j int) bool { return w.scores[w.ids[i]] > w.scores[w.ids[j]] })

	best := 0
	for _, id := range w.ids {
		stop := int(w.scores[id]) < best && !p.Dissociation.IsLowResolution()

		pep := w.index.Peptides[id]
		var score float64
		var matched []core.MatchedFragmentIon
		score, matched, w.products = scoreCandidate(spec, pep, p, w.products)
		if !math.IsNaN(score) {
			notch := p.Acceptor.Accepts(pep.MonoisotopicMass, spec.PrecursorMass)
			acc = fold(acc, psm.Hypothesis{Peptide: pep, Notch: notch, Score: score, MatchedIons: matched}, p)
		}
		if stop {
			break
		}
		if !acc.Empty() && acc.Score > float64(best) {
			best = int(math.Floor(acc.Score))
		}
	}
	return acc
}
