// Package search runs peptide-spectrum searches. Two engines share one
// driver: Classic scores every candidate within the precursor window, and
// Modern pre-scores candidates through the fragment index before rescoring
// the promising ones.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/mda"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/scoring"
)

// Params configures an engine. Params are read-only during a search.
type Params struct {
	Dissociation         core.DissociationType
	ProductTolerance     core.Tolerance
	Acceptor             mda.Acceptor
	AddComplementaryIons bool
	ScoreCutoff          float64
	ReportAllAmbiguity   bool
	ContaminantPolicy    psm.ContaminantPolicy

	// MatchAllCharges matches and scores every fragment charge state, as used
	// when building spectral libraries.
	MatchAllCharges bool

	Workers int          // 0 means runtime.NumCPU()
	Logger  *slog.Logger // nil means slog.Default()
}

func (p Params) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p Params) scoring() scoring.Params {
	return scoring.Params{
		ProductTolerance:     p.ProductTolerance,
		AddComplementaryIons: p.AddComplementaryIons,
		MatchAllCharges:      p.MatchAllCharges,
	}
}

// Result holds one slot per input spectrum, nil where no candidate was
// accepted, along with the indexes of spectra whose search failed.
type Result struct {
	PSMs    []*psm.SpectralMatch
	Failed  []int
	Elapsed time.Duration
}

// Count returns the number of filled slots.
func (r *Result) Count() int {
	n := 0
	for _, m := range r.PSMs {
		if m != nil {
			n++
		}
	}
	return n
}

// Engine searches a set of spectra.
type Engine interface {
	Search(ctx context.Context, spectra []*core.Spectrum) (*Result, error)
}

// spectrumSearcher scores one spectrum. Each worker gets its own searcher,
// so searchers may keep scratch state.
type spectrumSearcher func(spec *core.Spectrum) psm.Accumulator

// run partitions spectra into contiguous ranges, one per worker. Each worker
// writes only its own slots. On cancellation the slots searched so far are
// kept and ctx.Err() is returned with the result.
func run(ctx context.Context, name string, spectra []*core.Spectrum, p Params, newSearcher func() spectrumSearcher) (*Result, error) {
	start := time.Now()
	log := p.logger().With("engine", name)
	res := &Result{PSMs: make([]*psm.SpectralMatch, len(spectra))}
	if len(spectra) == 0 {
		return res, nil
	}
	if p.Acceptor == nil {
		return nil, fmt.Errorf("failed to run %s search: no mass difference acceptor", name)
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, len(spectra)))
	failed := make([][]int, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * len(spectra) / workers
		hi := (w + 1) * len(spectra) / workers
		g.Go(func() error {
			searchOne := newSearcher()
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				acc, err := safeSearch(searchOne, spectra[i])
				if err != nil {
					log.Error("spectrum search failed", "spectrum", i, "scan", spectra[i].ScanNumber, "err", err)
					failed[w] = append(failed[w], i)
					continue
				}
				if !acc.Empty() {
					res.PSMs[i] = psm.NewSpectralMatch(spectra[i], i, acc)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	for _, f := range failed {
		res.Failed = append(res.Failed, f...)
	}
	for _, m := range res.PSMs {
		if m == nil {
			continue
		}
		m.ResolveAllAmbiguities()
		m.ApplyContaminantPolicy(p.ContaminantPolicy)
	}
	res.Elapsed = time.Since(start)

	log.Info("search finished", "spectra", len(spectra), "psms", res.Count(), "failed", len(res.Failed), "elapsed", res.Elapsed)
	return res, err
}

// safeSearch isolates a panic in one spectrum from the rest of the search.
func safeSearch(searchOne spectrumSearcher, spec *core.Spectrum) (acc psm.Accumulator, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while searching %s: %v", spec.Name(), r)
		}
	}()
	return searchOne(spec), nil
}

// prepareSpectrum readies a spectrum for matching under p. Spectra are owned
// by the caller and touched by exactly one worker.
func prepareSpectrum(spec *core.Spectrum, p Params) {
	spec.Dissociation = p.Dissociation
	if p.Dissociation.IsLowResolution() {
		scoring.XcorrPrepare(spec)
	}
}

// scoreCandidate fragments and scores one peptide against a spectrum. The
// products buffer is reused between calls.
func scoreCandidate(spec *core.Spectrum, pep *core.Peptide, p Params, products []core.Product) (float64, []core.MatchedFragmentIon, []core.Product) {
	products = pep.FragmentInto(p.Dissociation, products[:0])
	matched := scoring.MatchFragmentIons(spec, products, p.scoring())
	return scoring.CalculatePeptideScore(spec, matched, p.MatchAllCharges), matched, products
}

// fold adds a scored hypothesis when it reaches the score cutoff.
func fold(acc psm.Accumulator, h psm.Hypothesis, p Params) psm.Accumulator {
	if h.Score < p.ScoreCutoff {
		return acc
	}
	return psm.Fold(acc, h, p.ReportAllAmbiguity)
}
