package fdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

var reg = core.NewRegistry()

func peptide(seq string, decoy bool) *core.Peptide {
	prot := &core.Protein{Accession: "P" + seq, Sequence: seq, IsDecoy: decoy}
	return core.NewPeptide(reg, prot, 1, len(seq), nil, 0)
}

// sequence returns a distinct tryptic-looking sequence for i.
func sequence(i int) string {
	const letters = "ACDEFGHILM"
	s := []byte{}
	for {
		s = append(s, letters[i%10])
		i /= 10
		if i == 0 {
			break
		}
	}
	return "P" + string(s) + "K"
}

func match(scan int, hs ...psm.Hypothesis) *psm.SpectralMatch {
	acc := psm.NewAccumulator(0)
	for _, h := range hs {
		acc = psm.Fold(acc, h, true)
	}
	spec := &core.Spectrum{ScanNumber: scan, PrecursorCharge: 2, PrecursorMass: hs[0].Peptide.MonoisotopicMass}
	m := psm.NewSpectralMatch(spec, scan, acc)
	m.ResolveAllAmbiguities()
	return m
}

// population returns one match per label, best score first.
func population(labels string) []*psm.SpectralMatch {
	var out []*psm.SpectralMatch
	for i, c := range labels {
		h := psm.Hypothesis{Peptide: peptide(sequence(i), c == 'D'), Score: float64(100 - i)}
		out = append(out, match(i+1, h))
	}
	return out
}

func TestQValueMonotonic(t *testing.T) {
	labels := "TTDTTTDDTDTTDDDTDTDDTTTDDDDTDD"
	res, err := Run(context.Background(), population(labels), Params{NumNotches: 1})
	require.NoError(t, err)
	require.Len(t, res.PSMs, len(labels))

	for i := 1; i < len(res.PSMs); i++ {
		prev, cur := res.PSMs[i-1], res.PSMs[i]
		assert.GreaterOrEqual(t, prev.Score, cur.Score)
		assert.LessOrEqual(t, prev.FdrInfo.QValue, cur.FdrInfo.QValue, "rank %d", i)
	}
	for _, m := range res.PSMs {
		assert.LessOrEqual(t, m.FdrInfo.QValue, 1.0)
		assert.True(t, math.IsNaN(m.FdrInfo.PEP), "no PEP model was given")
	}
}

func TestCumulativeCounts(t *testing.T) {
	psms := population("TTDT")
	// Input order must not matter.
	psms[0], psms[3] = psms[3], psms[0]

	res, err := Run(context.Background(), psms, Params{NumNotches: 1})
	require.NoError(t, err)

	tests := []struct {
		target, decoy, q float64
	}{
		{1, 0, 0},
		{2, 0, 0},
		{2, 1, 1.0 / 3},
		{3, 1, 1.0 / 3},
	}
	for i, tt := range tests {
		fi := res.PSMs[i].FdrInfo
		assert.Equal(t, tt.target, fi.CumulativeTarget, "rank %d target", i)
		assert.Equal(t, tt.decoy, fi.CumulativeDecoy, "rank %d decoy", i)
		assert.InDelta(t, tt.q, fi.QValue, 1e-12, "rank %d q", i)
	}
	assert.Equal(t, 2, res.ConfidentPSMs)
}

func TestZeroTargetSentinel(t *testing.T) {
	assert.Equal(t, ZeroTargetFDR, RawFDR(0, 3))
	assert.Equal(t, 0.5, RawFDR(2, 1))

	res, err := Run(context.Background(), population("DTTTD"), Params{NumNotches: 1})
	require.NoError(t, err)

	first := res.PSMs[0].FdrInfo
	assert.Zero(t, first.CumulativeTarget)
	assert.InDelta(t, 1.0/3, first.QValue, 1e-12, "undefined rank takes the later minimum")
	assert.InDelta(t, 2.0/3, res.PSMs[4].FdrInfo.QValue, 1e-12)
}

func TestFractionalCounts(t *testing.T) {
	target := psm.Hypothesis{Peptide: peptide("PEPTIDEK", false), Score: 10}
	decoy := psm.Hypothesis{Peptide: peptide("LVISAGEK", true), Score: 10}
	tied := match(1, target, decoy)
	require.Len(t, tied.Hypotheses(), 2)
	assert.False(t, tied.IsDecoy)

	res, err := Run(context.Background(), []*psm.SpectralMatch{tied, nil}, Params{NumNotches: 1})
	require.NoError(t, err)
	require.Len(t, res.PSMs, 1, "nil slots are skipped")

	fi := res.PSMs[0].FdrInfo
	assert.Equal(t, 0.5, fi.CumulativeTarget)
	assert.Equal(t, 0.5, fi.CumulativeDecoy)
	assert.Equal(t, 0.5, fi.CumulativeTargetNotch)
	assert.Equal(t, 0.5, fi.CumulativeDecoyNotch)
	assert.Equal(t, 1.0, fi.QValue)
}

func TestNotchQValues(t *testing.T) {
	labels := []struct {
		decoy bool
		notch int
	}{
		{false, 0},
		{true, 1},
		{false, 1},
		{false, 0},
	}
	var psms []*psm.SpectralMatch
	for i, l := range labels {
		h := psm.Hypothesis{Peptide: peptide(sequence(i), l.decoy), Notch: l.notch, Score: float64(50 - i)}
		psms = append(psms, match(i+1, h))
	}

	res, err := Run(context.Background(), psms, Params{NumNotches: 2})
	require.NoError(t, err)

	wantNotch := []float64{0, 1, 1, 0}
	wantGlobal := []float64{0, 1.0 / 3, 1.0 / 3, 1.0 / 3}
	for i, m := range res.PSMs {
		assert.InDelta(t, wantNotch[i], m.FdrInfo.QValueNotch, 1e-12, "rank %d notch q", i)
		assert.InDelta(t, wantGlobal[i], m.FdrInfo.QValue, 1e-12, "rank %d q", i)
	}
}

func TestAmbiguousNotchUsesPooledBucket(t *testing.T) {
	decoy := match(1, psm.Hypothesis{Peptide: peptide(sequence(0), true), Notch: 0, Score: 30})
	ambiguous := match(2,
		psm.Hypothesis{Peptide: peptide(sequence(1), false), Notch: 0, Score: 20},
		psm.Hypothesis{Peptide: peptide(sequence(2), false), Notch: 1, Score: 20})
	require.Nil(t, ambiguous.Notch)
	target := match(3, psm.Hypothesis{Peptide: peptide(sequence(3), false), Notch: 0, Score: 10})

	res, err := Run(context.Background(), []*psm.SpectralMatch{decoy, ambiguous, target}, Params{NumNotches: 2})
	require.NoError(t, err)

	fi := res.PSMs[1].FdrInfo
	assert.Equal(t, 1.0, fi.CumulativeTargetNotch)
	assert.Equal(t, 0.0, fi.CumulativeDecoyNotch, "notch 0 decoys are not counted against the pooled bucket")
	assert.Equal(t, 0.0, fi.QValueNotch)

	fi = res.PSMs[2].FdrInfo
	assert.Equal(t, 1.0, fi.CumulativeTargetNotch)
	assert.Equal(t, 1.0, fi.CumulativeDecoyNotch)
	assert.Equal(t, 1.0, fi.QValueNotch)
}

func TestDeltaScoreSorting(t *testing.T) {
	filler := peptide("GGGGGK", false)
	var psms []*psm.SpectralMatch
	for i, s := range []float64{20, 19} {
		runnerUp := psm.Hypothesis{Peptide: filler, Score: s - 0.5}
		best := psm.Hypothesis{Peptide: peptide(sequence(i), true), Score: s}
		psms = append(psms, match(i+1, runnerUp, best))
	}
	for i := 0; i < 5; i++ {
		psms = append(psms, match(10+i, psm.Hypothesis{Peptide: peptide(sequence(10+i), false), Score: float64(10 - i)}))
	}

	plain, err := Run(context.Background(), psms, Params{NumNotches: 1})
	require.NoError(t, err)
	assert.False(t, plain.DeltaScoreImprovement)
	assert.True(t, plain.PSMs[0].IsDecoy)

	res, err := Run(context.Background(), psms, Params{NumNotches: 1, UseDeltaScore: true})
	require.NoError(t, err)
	assert.True(t, res.DeltaScoreImprovement)
	assert.False(t, res.PSMs[0].IsDecoy)
	assert.Equal(t, 10.0, res.PSMs[0].Score)
	assert.Equal(t, 5, res.ConfidentPSMs)
}

func TestCountPsm(t *testing.T) {
	confident := func(seq string, q float64) *psm.SpectralMatch {
		m := &psm.SpectralMatch{FullSequence: seq, FdrInfo: psm.NewFdrInfo()}
		m.FdrInfo.QValue = q
		return m
	}
	psms := []*psm.SpectralMatch{
		confident("PEPTIDEK", 0),
		confident("PEPTIDEK", 0.005),
		confident("PEPTIDEK", 0.2),
		confident("ELVISK", 0),
		confident("", 0),
	}
	CountPsm(psms, DefaultQValueThreshold)

	assert.Equal(t, []int{2, 2, 2, 1, 0}, []int{psms[0].PsmCount, psms[1].PsmCount, psms[2].PsmCount, psms[3].PsmCount, psms[4].PsmCount})
}

func TestPEPQValues(t *testing.T) {
	psms := make([]*psm.SpectralMatch, 3)
	for i, pep := range []float64{0.3, 0.1, 0.2} {
		psms[i] = &psm.SpectralMatch{FdrInfo: psm.NewFdrInfo()}
		psms[i].FdrInfo.PEP = pep
	}
	PEPQValues(psms, func(m *psm.SpectralMatch) *psm.FdrInfo { return m.FdrInfo })

	assert.InDelta(t, 0.2, psms[0].FdrInfo.PEPQValue, 1e-12)
	assert.InDelta(t, 0.1, psms[1].FdrInfo.PEPQValue, 1e-12)
	assert.InDelta(t, 0.15, psms[2].FdrInfo.PEPQValue, 1e-12)
}

func TestLogisticModel(t *testing.T) {
	m := NewLogisticModel()
	assert.True(t, math.IsNaN(m.PEP([]float64{1, 2})), "untrained model has no PEP")

	err := m.Train(context.Background(), [][]float64{{1, 1}, {2, 2}}, []bool{false, false})
	require.ErrorIs(t, err, ErrInsufficientTraining)

	var features [][]float64
	var labels []bool
	for i := 0; i < 100; i++ {
		features = append(features, []float64{10 + float64(i%7), 1})
		labels = append(labels, false)
		features = append(features, []float64{-float64(i % 5), 1})
		labels = append(labels, true)
	}
	require.NoError(t, m.Train(context.Background(), features, labels))

	good := m.PEP([]float64{14, 1})
	bad := m.PEP([]float64{-3, 1})
	assert.Less(t, good, 0.05)
	assert.Equal(t, 1.0, bad)
	assert.GreaterOrEqual(t, good, 0.0)
}

func TestLogisticModelOverlappingClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var features [][]float64
	var labels []bool
	for i := 0; i < 400; i++ {
		decoy := i%3 == 0
		score := 12 + 4*rng.NormFloat64()
		if decoy {
			score = 6 + 4*rng.NormFloat64()
		}
		features = append(features, []float64{score, rng.Float64(), rng.NormFloat64()})
		labels = append(labels, decoy)
	}

	m := NewLogisticModel()
	require.NoError(t, m.Train(context.Background(), features, labels))

	high := m.PEP([]float64{20, 0.5, 0})
	low := m.PEP([]float64{2, 0.5, 0})
	assert.False(t, math.IsNaN(high))
	assert.Less(t, high, low)
	assert.Less(t, high, 0.1)
}

func TestStalledAtOptimum(t *testing.T) {
	stalled := fmt.Errorf("bfgs: %w", optimize.ErrLinesearcherFailure)
	at := func(f float64, x ...float64) *optimize.Result {
		return &optimize.Result{Location: optimize.Location{X: x, F: f}}
	}
	tests := []struct {
		name   string
		result *optimize.Result
		err    error
		want   bool
	}{
		{"line search stall", at(0.3, 1, -2), stalled, true},
		{"other failure", at(0.3, 1, -2), errors.New("boom"), false},
		{"no result", nil, stalled, false},
		{"nil location", &optimize.Result{}, stalled, false},
		{"no location", at(0.3), stalled, false},
		{"infinite loss", at(math.Inf(1), 1, -2), stalled, false},
		{"nan weight", at(0.3, math.NaN(), 1), stalled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stalledAtOptimum(tt.result, tt.err))
		})
	}
}

func TestRunWithPEP(t *testing.T) {
	var psms []*psm.SpectralMatch
	for i := 0; i < 120; i++ {
		h := psm.Hypothesis{Peptide: peptide(sequence(i), false), Score: 200 - float64(i)}
		psms = append(psms, match(i+1, h))
	}
	for i := 0; i < 60; i++ {
		h := psm.Hypothesis{Peptide: peptide(sequence(1000+i), true), Score: 60 - float64(i)/2}
		psms = append(psms, match(1000+i, h))
	}
	// Repeat one peptide so the peptide-level pass has something to collapse.
	psms = append(psms, match(5000, psm.Hypothesis{Peptide: peptide(sequence(0), false), Score: 150.5}))

	res, err := Run(context.Background(), psms, Params{NumNotches: 1, PEPModel: NewLogisticModel(), PeptideLevel: true})
	require.NoError(t, err)
	require.True(t, res.PEPTrained)

	for _, m := range res.PSMs {
		assert.False(t, math.IsNaN(m.FdrInfo.PEP))
		assert.GreaterOrEqual(t, m.FdrInfo.PEP, 0.0)
		assert.LessOrEqual(t, m.FdrInfo.PEP, 1.0)
		assert.LessOrEqual(t, m.FdrInfo.PEPQValue, 1.0)
	}
	assert.Less(t, res.PSMs[0].FdrInfo.PEP, res.PSMs[len(res.PSMs)-1].FdrInfo.PEP)
	assert.Equal(t, 2, res.PSMs[0].PsmCount)

	assert.Len(t, res.Peptides, len(psms)-1)
	assert.Equal(t, 120, res.ConfidentPeptides)
	for _, m := range res.Peptides {
		require.NotNil(t, m.PeptideFdrInfo)
	}
}

func TestRunTooSmallForPEP(t *testing.T) {
	res, err := Run(context.Background(), population("TTTD"), Params{NumNotches: 1, PEPModel: NewLogisticModel()})
	require.NoError(t, err)
	assert.False(t, res.PEPTrained)
	assert.True(t, math.IsNaN(res.PSMs[0].FdrInfo.PEP))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, population("TTD"), Params{NumNotches: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.PSMs, 3)
}
