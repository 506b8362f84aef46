// Package psm models peptide-spectrum matches: the per-spectrum accumulation
// of tied best-scoring hypotheses and their resolution for reporting.
package psm

import (
	"math"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// ToleranceForScoreDifferentiation is the smallest score difference treated
// as a real difference rather than a tie.
const ToleranceForScoreDifferentiation = 1e-9

// Hypothesis is one candidate explanation of a spectrum.
type Hypothesis struct {
	Peptide     *core.Peptide
	Notch       int
	Score       float64
	MatchedIons []core.MatchedFragmentIon
}

// Accumulator holds the best hypotheses seen so far for one spectrum. It is a
// value: Fold returns a new accumulator and never mutates the one passed in.
type Accumulator struct {
	Score         float64
	RunnerUpScore float64
	Hypotheses    []Hypothesis
}

// NewAccumulator returns an empty accumulator whose runner-up starts at the
// score cutoff.
func NewAccumulator(scoreCutoff float64) Accumulator {
	return Accumulator{RunnerUpScore: scoreCutoff}
}

// Empty reports whether no hypothesis has been folded in.
func (a Accumulator) Empty() bool { return len(a.Hypotheses) == 0 }

// Fold adds a hypothesis. A better score replaces the hypothesis set and
// demotes the old best to runner-up. An equal score joins the tied set when
// reportAll is set; otherwise the tie is broken deterministically so the
// outcome does not depend on the order candidates were scored in, and the
// dropped hypothesis leaves the runner-up at the best score. A lower
// score can only raise the runner-up.
func Fold(acc Accumulator, h Hypothesis, reportAll bool) Accumulator {
	if acc.Empty() {
		return Accumulator{Score: h.Score, RunnerUpScore: acc.RunnerUpScore, Hypotheses: []Hypothesis{h}}
	}

	diff := h.Score - acc.Score
	switch {
	case diff > ToleranceForScoreDifferentiation:
		runnerUp := acc.RunnerUpScore
		if acc.Score-acc.RunnerUpScore > ToleranceForScoreDifferentiation {
			runnerUp = acc.Score
		}
		return Accumulator{Score: h.Score, RunnerUpScore: runnerUp, Hypotheses: []Hypothesis{h}}

	case diff > -ToleranceForScoreDifferentiation:
		if reportAll {
			return Accumulator{Score: acc.Score, RunnerUpScore: acc.RunnerUpScore, Hypotheses: insertSorted(acc.Hypotheses, h)}
		}
		// The losing side of the tie is a runner-up at the best score.
		runnerUp := math.Max(acc.RunnerUpScore, acc.Score)
		if preferred(h, acc.Hypotheses[0]) {
			return Accumulator{Score: acc.Score, RunnerUpScore: runnerUp, Hypotheses: []Hypothesis{h}}
		}
		acc.RunnerUpScore = runnerUp
		return acc

	case h.Score-acc.RunnerUpScore > ToleranceForScoreDifferentiation:
		acc.RunnerUpScore = h.Score
		return acc
	}
	return acc
}

// preferred breaks ties for single-answer reporting: targets beat decoys,
// then the smaller full sequence and accession win.
func preferred(a, b Hypothesis) bool {
	if a.Peptide.IsDecoy() != b.Peptide.IsDecoy() {
		return !a.Peptide.IsDecoy()
	}
	return hypothesisLess(a, b)
}

func hypothesisLess(a, b Hypothesis) bool {
	if c := strings.Compare(a.Peptide.FullSequence(), b.Peptide.FullSequence()); c != 0 {
		return c < 0
	}
	if c := strings.Compare(a.Peptide.Accession(), b.Peptide.Accession()); c != 0 {
		return c < 0
	}
	if a.Peptide.StartResidue != b.Peptide.StartResidue {
		return a.Peptide.StartResidue < b.Peptide.StartResidue
	}
	return a.Notch < b.Notch
}

// insertSorted returns a new slice with h placed in hypothesis order. The
// input slice is never written to. Repeated (peptide, notch) pairs are ignored.
func insertSorted(hs []Hypothesis, h Hypothesis) []Hypothesis {
	pos := len(hs)
	for i, e := range hs {
		if e.Peptide == h.Peptide && e.Notch == h.Notch {
			return hs
		}
		if pos == len(hs) && hypothesisLess(h, e) {
			pos = i
		}
	}
	out := make([]Hypothesis, 0, len(hs)+1)
	out = append(out, hs[:pos]...)
	out = append(out, h)
	out = append(out, hs[pos:]...)
	return out
}
