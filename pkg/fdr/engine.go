// Package fdr estimates target-decoy false discovery rates, q-values and
// posterior error probabilities over a population of spectral matches.
package fdr

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

const (
	// ZeroTargetFDR is the raw FDR used where no target has been counted
	// yet. It never lowers the running minimum that defines q-values.
	ZeroTargetFDR = math.MaxFloat64

	// DefaultQValueThreshold is the confidence cutoff used for reporting counts.
	DefaultQValueThreshold = 0.01

	// DefaultMinPEPTrainingSize is the smallest population a PEP model is
	// trained on.
	DefaultMinPEPTrainingSize = 100

	pepTolerance = 1e-9
)

// Params configures an FDR analysis.
type Params struct {
	// NumNotches is the acceptor notch count; notch-specific q-values are
	// computed per notch, with unresolved notches pooled after the last one.
	NumNotches int

	// UseDeltaScore ranks by DeltaScore instead of Score when that yields
	// more targets at the q-value threshold.
	UseDeltaScore bool

	// PEPModel is trained when the population is large enough. Nil skips PEP.
	PEPModel           PEPModel
	MinPEPTrainingSize int // 0 = DefaultMinPEPTrainingSize

	PeptideLevel    bool
	QValueThreshold float64 // 0 = DefaultQValueThreshold

	Logger *slog.Logger
}

// Result summarises an analysis. PSMs are in rank order; Peptides holds the
// best PSM of each unambiguous full sequence, in rank order.
type Result struct {
	PSMs                  []*psm.SpectralMatch
	Peptides              []*psm.SpectralMatch
	DeltaScoreImprovement bool
	PEPTrained            bool
	ConfidentPSMs         int
	ConfidentPeptides     int
}

// Run annotates every non-nil match with FDR info. The input order does not
// matter; ranks are assigned from scores only.
func Run(ctx context.Context, matches []*psm.SpectralMatch, p Params) (*Result, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	threshold := p.QValueThreshold
	if threshold <= 0 {
		threshold = DefaultQValueThreshold
	}

	var psms []*psm.SpectralMatch
	for _, m := range matches {
		if m == nil {
			continue
		}
		if !m.IsResolved() {
			m.ResolveAllAmbiguities()
		}
		m.FdrInfo = psm.NewFdrInfo()
		psms = append(psms, m)
	}
	res := &Result{}

	sortByScore(psms)
	if p.UseDeltaScore {
		byDelta := append([]*psm.SpectralMatch(nil), psms...)
		sortByDeltaScore(byDelta)
		if targetsAtThreshold(byDelta, threshold) > targetsAtThreshold(psms, threshold) {
			res.DeltaScoreImprovement = true
			psms = byDelta
		}
	}

	psmInfo := func(m *psm.SpectralMatch) *psm.FdrInfo { return m.FdrInfo }
	computeCounts(psms, p.NumNotches, psmInfo)
	computeQValues(psms, p.NumNotches, psmInfo)
	res.PSMs = psms

	if err := ctx.Err(); err != nil {
		return res, err
	}

	CountPsm(psms, threshold)
	if p.PEPModel != nil {
		trained, err := computePEP(ctx, psms, p, threshold)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return res, err
		case errors.Is(err, ErrInsufficientTraining):
			log.Info("skipping PEP estimation", "reason", err)
		case err != nil:
			log.Warn("skipping PEP estimation", "err", err)
		}
		res.PEPTrained = trained
		if trained {
			CountPsm(psms, threshold)
		}
	}
	res.ConfidentPSMs = countConfident(psms, threshold, psmInfo)

	if p.PeptideLevel {
		res.Peptides = bestPerPeptide(psms)
		peptideInfo := func(m *psm.SpectralMatch) *psm.FdrInfo { return m.PeptideFdrInfo }
		for _, m := range res.Peptides {
			m.PeptideFdrInfo = psm.NewFdrInfo()
			m.PeptideFdrInfo.PEP = m.FdrInfo.PEP
		}
		computeCounts(res.Peptides, p.NumNotches, peptideInfo)
		computeQValues(res.Peptides, p.NumNotches, peptideInfo)
		if res.PEPTrained {
			PEPQValues(res.Peptides, peptideInfo)
		}
		res.ConfidentPeptides = countConfident(res.Peptides, threshold, peptideInfo)
	}

	log.Info("fdr analysis finished", "psms", len(psms), "confident", res.ConfidentPSMs, "delta_score", res.DeltaScoreImprovement, "pep", res.PEPTrained)
	return res, nil
}

func sortByScore(psms []*psm.SpectralMatch) {
	sort.SliceStable(psms, func(i, j int) bool { return psm.Compare(psms[i], psms[j]) < 0 })
}

func sortByDeltaScore(psms []*psm.SpectralMatch) {
	sort.SliceStable(psms, func(i, j int) bool {
		if d := psms[i].DeltaScore() - psms[j].DeltaScore(); math.Abs(d) > psm.ToleranceForScoreDifferentiation {
			return d > 0
		}
		return psm.Compare(psms[i], psms[j]) < 0
	})
}

// targetsAtThreshold walks a ranking and returns the target count at the
// point where the decoy/target ratio first reaches the threshold.
func targetsAtThreshold(psms []*psm.SpectralMatch, threshold float64) int {
	targets, decoys := 0, 0
	for _, m := range psms {
		if !m.IsDecoy {
			targets++
			continue
		}
		decoys++
		if targets == 0 || float64(decoys)/float64(targets) >= threshold {
			return targets
		}
	}
	return targets
}

// computeCounts assigns cumulative target and decoy counts in rank order. A
// match ambiguous between targets and decoys counts fractionally, by the
// share of its hypotheses on each side. Notch counts accumulate per notch
// bucket; a match with an ambiguous notch falls in the pooled bucket.
func computeCounts(psms []*psm.SpectralMatch, numNotches int, info func(*psm.SpectralMatch) *psm.FdrInfo) {
	var cumTarget, cumDecoy float64
	notchTarget := make([]float64, numNotches+1)
	notchDecoy := make([]float64, numNotches+1)

	for _, m := range psms {
		var targets, decoys float64
		hs := m.Hypotheses()
		for _, h := range hs {
			if h.Peptide.IsDecoy() {
				decoys++
			} else {
				targets++
			}
		}
		if len(hs) == 0 {
			if m.IsDecoy {
				decoys++
			} else {
				targets++
			}
		}

		t, d := targets/(targets+decoys), decoys/(targets+decoys)
		cumTarget += t
		cumDecoy += d
		n := notchBucket(m, numNotches)
		notchTarget[n] += t
		notchDecoy[n] += d

		fi := info(m)
		fi.CumulativeTarget = cumTarget
		fi.CumulativeDecoy = cumDecoy
		fi.CumulativeTargetNotch = notchTarget[n]
		fi.CumulativeDecoyNotch = notchDecoy[n]
	}
}

// notchBucket is the resolved notch of a match, or numNotches when the notch
// is ambiguous or out of range.
func notchBucket(m *psm.SpectralMatch, numNotches int) int {
	if m.Notch != nil && *m.Notch >= 0 && *m.Notch < numNotches {
		return *m.Notch
	}
	return numNotches
}

// RawFDR is decoys over targets, or ZeroTargetFDR without targets.
func RawFDR(targets, decoys float64) float64 {
	if targets <= 0 {
		return ZeroTargetFDR
	}
	return decoys / targets
}

// computeQValues sets each q-value to the minimum raw FDR at or below its
// rank, capped at 1, so q-values never decrease as scores decrease. Notch
// q-values take the running minimum within each notch.
func computeQValues(psms []*psm.SpectralMatch, numNotches int, info func(*psm.SpectralMatch) *psm.FdrInfo) {
	q := 1.0
	qNotch := make([]float64, numNotches+1)
	for i := range qNotch {
		qNotch[i] = 1
	}

	for i := len(psms) - 1; i >= 0; i-- {
		m := psms[i]
		fi := info(m)

		q = math.Min(q, RawFDR(fi.CumulativeTarget, fi.CumulativeDecoy))
		fi.QValue = q

		n := notchBucket(m, numNotches)
		qNotch[n] = math.Min(qNotch[n], RawFDR(fi.CumulativeTargetNotch, fi.CumulativeDecoyNotch))
		fi.QValueNotch = qNotch[n]
	}
}

// PEPQValues sets PEP q-values: matches are ranked by ascending PEP, each
// receives the mean PEP of the matches ranked at or above it, and the result
// is made monotonic with a running minimum from the tail.
func PEPQValues(psms []*psm.SpectralMatch, info func(*psm.SpectralMatch) *psm.FdrInfo) {
	order := make([]int, len(psms))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return info(psms[order[a]]).PEP < info(psms[order[b]]).PEP })

	running := 0.0
	for rank, idx := range order {
		running += info(psms[idx]).PEP
		info(psms[idx]).PEPQValue = math.Round(running/float64(rank+1)*1e6) / 1e6
	}
	q := math.Inf(1)
	for i := len(order) - 1; i >= 0; i-- {
		fi := info(psms[order[i]])
		q = math.Min(q, fi.PEPQValue)
		fi.PEPQValue = q
	}
}

// CountPsm sets PsmCount on unambiguous matches to the number of confident
// unambiguous matches sharing their full sequence.
func CountPsm(psms []*psm.SpectralMatch, threshold float64) {
	counts := make(map[string]int)
	for _, m := range psms {
		if m.FullSequence == "" || m.FdrInfo == nil {
			continue
		}
		if m.FdrInfo.QValue <= threshold && m.FdrInfo.QValueNotch <= threshold {
			counts[m.FullSequence]++
		}
	}
	for _, m := range psms {
		if m.FullSequence != "" {
			m.PsmCount = counts[m.FullSequence]
		}
	}
}

// bestPerPeptide keeps the first (best ranked) match of each full sequence.
// Ambiguous matches have no single sequence and are left out.
func bestPerPeptide(psms []*psm.SpectralMatch) []*psm.SpectralMatch {
	seen := make(map[string]bool)
	var out []*psm.SpectralMatch
	for _, m := range psms {
		if m.FullSequence == "" || seen[m.FullSequence] {
			continue
		}
		seen[m.FullSequence] = true
		out = append(out, m)
	}
	return out
}

func countConfident(psms []*psm.SpectralMatch, threshold float64, info func(*psm.SpectralMatch) *psm.FdrInfo) int {
	n := 0
	for _, m := range psms {
		if !m.IsDecoy && info(m).QValue <= threshold {
			n++
		}
	}
	return n
}
