package fdr

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// ErrInsufficientTraining is returned when a PEP model cannot be trained on
// the data it was given.
var ErrInsufficientTraining = errors.New("insufficient PEP training data")

// PEPModel estimates the posterior error probability of a match from its
// features. Train sees one feature row per match, labelled decoy or target.
type PEPModel interface {
	Train(ctx context.Context, features [][]float64, isDecoy []bool) error
	PEP(features []float64) float64
}

const (
	defaultL2            = 1.0
	defaultMaxIterations = 200

	gradientThreshold = 1e-6
	functionTolerance = 1e-10
	stallIterations   = 20
)

// LogisticModel is an L2-regularised logistic regression of the decoy label
// on standardised features. The PEP of a match is the decoy odds, clamped to
// [0, 1].
type LogisticModel struct {
	L2            float64
	MaxIterations int

	mean    []float64
	std     []float64
	weights []float64 // one per feature, then the intercept
}

// NewLogisticModel returns an untrained model with default settings.
func NewLogisticModel() *LogisticModel {
	return &LogisticModel{L2: defaultL2, MaxIterations: defaultMaxIterations}
}

// Train fits the model with BFGS.
func (m *LogisticModel) Train(ctx context.Context, features [][]float64, isDecoy []bool) error {
	if len(features) == 0 || len(features) != len(isDecoy) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrInsufficientTraining, len(features), len(isDecoy))
	}
	decoys := 0
	for _, d := range isDecoy {
		if d {
			decoys++
		}
	}
	if decoys == 0 || decoys == len(isDecoy) {
		return fmt.Errorf("%w: need both targets and decoys", ErrInsufficientTraining)
	}

	nf := len(features[0])
	m.mean = make([]float64, nf)
	m.std = make([]float64, nf)
	col := make([]float64, len(features))
	for j := 0; j < nf; j++ {
		for i, row := range features {
			col[i] = row[j]
		}
		mean, err := stats.Mean(col)
		if err != nil {
			return fmt.Errorf("failed to standardise feature %d: %w", j, err)
		}
		sd, err := stats.StandardDeviation(col)
		if err != nil || sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		m.mean[j], m.std[j] = mean, sd
	}

	z := make([][]float64, len(features))
	y := make([]float64, len(features))
	for i, row := range features {
		z[i] = m.standardise(row)
		if isDecoy[i] {
			y[i] = 1
		}
	}

	// The objective is averaged over rows so the gradient threshold does not
	// depend on the population size.
	l2 := m.L2
	n := float64(len(z))
	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			loss := 0.0
			for i, zi := range z {
				s := floats.Dot(w[:nf], zi) + w[nf]
				loss += softplus(s) - y[i]*s
			}
			return (loss + 0.5*l2*floats.Dot(w[:nf], w[:nf])) / n
		},
		Grad: func(grad, w []float64) {
			for k := range grad {
				grad[k] = 0
			}
			for i, zi := range z {
				r := sigmoid(floats.Dot(w[:nf], zi)+w[nf]) - y[i]
				floats.AddScaled(grad[:nf], r, zi)
				grad[nf] += r
			}
			floats.AddScaled(grad[:nf], l2, w[:nf])
			floats.Scale(1/n, grad)
		},
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	iterations := m.MaxIterations
	if iterations <= 0 {
		iterations = defaultMaxIterations
	}
	settings := &optimize.Settings{
		MajorIterations:   iterations,
		GradientThreshold: gradientThreshold,
		Converger:         &optimize.FunctionConverge{Absolute: functionTolerance, Iterations: stallIterations},
	}
	result, err := optimize.Minimize(problem, make([]float64, nf+1), settings, &optimize.BFGS{})
	if err != nil && !stalledAtOptimum(result, err) {
		return fmt.Errorf("failed to fit PEP model: %w", err)
	}
	m.weights = result.X
	return nil
}

// stalledAtOptimum reports whether a failed minimisation still ended at a
// usable point: the line search cannot make progress once the objective is
// flat, which happens at the optimum of a smooth convex loss.
func stalledAtOptimum(result *optimize.Result, err error) bool {
	if result == nil || result.X == nil || !errors.Is(err, optimize.ErrLinesearcherFailure) {
		return false
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return false
	}
	for _, w := range result.X {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return true
}

// PEP returns the posterior error probability, or NaN before training.
func (m *LogisticModel) PEP(features []float64) float64 {
	if m.weights == nil {
		return math.NaN()
	}
	nf := len(m.mean)
	s := floats.Dot(m.weights[:nf], m.standardise(features)) + m.weights[nf]
	p := sigmoid(s)
	if p >= 1 {
		return 1
	}
	return math.Max(0, math.Min(1, p/(1-p)))
}

func (m *LogisticModel) standardise(row []float64) []float64 {
	out := make([]float64, len(m.mean))
	for j := range out {
		out[j] = (row[j] - m.mean[j]) / m.std[j]
	}
	return out
}

func sigmoid(s float64) float64 {
	if s >= 0 {
		return 1 / (1 + math.Exp(-s))
	}
	e := math.Exp(s)
	return e / (1 + e)
}

// softplus is log(1+e^s) without overflow.
func softplus(s float64) float64 {
	return math.Max(s, 0) + math.Log1p(math.Exp(-math.Abs(s)))
}

// computePEP trains p.PEPModel on confident targets and all decoys, then
// assigns each match the lowest PEP among its hypotheses. Hypotheses with a
// higher PEP than that are dropped from ambiguous matches.
func computePEP(ctx context.Context, psms []*psm.SpectralMatch, p Params, threshold float64) (bool, error) {
	minSize := p.MinPEPTrainingSize
	if minSize <= 0 {
		minSize = DefaultMinPEPTrainingSize
	}
	if len(psms) < minSize {
		return false, fmt.Errorf("%w: %d matches, need at least %d", ErrInsufficientTraining, len(psms), minSize)
	}

	var features [][]float64
	var labels []bool
	for _, m := range psms {
		hs := m.Hypotheses()
		if len(hs) == 0 {
			continue
		}
		switch {
		case m.IsDecoy:
			labels = append(labels, true)
		case m.FdrInfo.QValue <= threshold:
			labels = append(labels, false)
		default:
			continue
		}
		features = append(features, psm.HypothesisFeatures(m, hs[0]))
	}
	if err := p.PEPModel.Train(ctx, features, labels); err != nil {
		return false, err
	}

	for _, m := range psms {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		hs := m.Hypotheses()
		if len(hs) == 0 {
			continue
		}
		peps := make([]float64, len(hs))
		best := math.Inf(1)
		for i, h := range hs {
			peps[i] = p.PEPModel.PEP(psm.HypothesisFeatures(m, h))
			best = math.Min(best, peps[i])
		}
		if len(hs) > 1 {
			for i, h := range hs {
				if peps[i] > best+pepTolerance {
					m.RemoveThisAmbiguousPeptide(h.Peptide, h.Notch)
				}
			}
		}
		m.FdrInfo.PEP = best
	}

	PEPQValues(psms, func(m *psm.SpectralMatch) *psm.FdrInfo { return m.FdrInfo })
	return true, nil
}
