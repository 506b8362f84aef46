// Package mda provides mass difference acceptors: policies deciding whether a
// candidate peptide mass explains an observed precursor mass, and under which
// notch (allowed mass offset).
package mda

import (
	"math"
	"sort"
	"strconv"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// Rejected is the notch returned when a candidate is not accepted.
const Rejected = -1

// Interval is an allowed precursor mass window tagged with its notch.
type Interval struct {
	Min   float64
	Max   float64
	Notch int
}

// Contains reports whether mass lies inside the interval.
func (i Interval) Contains(mass float64) bool {
	return mass >= i.Min && mass <= i.Max
}

// Acceptor decides precursor compatibility. Implementations are stateless
// and safe to share between search workers.
type Acceptor interface {
	// Accepts returns the notch under which candidateMass explains
	// observedMass, or Rejected.
	Accepts(candidateMass, observedMass float64) int
	// AllowedIntervalsFromTheoretical returns observed precursor masses
	// compatible with a candidate mass.
	AllowedIntervalsFromTheoretical(candidateMass float64) []Interval
	// AllowedIntervalsFromObserved returns candidate masses compatible with
	// an observed precursor mass.
	AllowedIntervalsFromObserved(observedMass float64) []Interval
	NumNotches() int
	FileNameAddition() string
}

// AroundZero accepts candidates within a single tolerance of the observed mass.
type AroundZero struct {
	tol core.Tolerance
}

// NewPpmAroundZero creates a single-notch ppm acceptor.
func NewPpmAroundZero(ppm float64) *AroundZero {
	return &AroundZero{tol: core.PpmTolerance(ppm)}
}

// NewDaltonsAroundZero creates a single-notch absolute acceptor.
func NewDaltonsAroundZero(da float64) *AroundZero {
	return &AroundZero{tol: core.AbsoluteTolerance(da)}
}

func (a *AroundZero) Accepts(candidateMass, observedMass float64) int {
	if a.tol.Within(observedMass, candidateMass) {
		return 0
	}
	return Rejected
}

func (a *AroundZero) AllowedIntervalsFromTheoretical(candidateMass float64) []Interval {
	return []Interval{{Min: a.tol.Min(candidateMass), Max: a.tol.Max(candidateMass)}}
}

func (a *AroundZero) AllowedIntervalsFromObserved(observedMass float64) []Interval {
	return []Interval{{Min: a.tol.Min(observedMass), Max: a.tol.Max(observedMass)}}
}

func (a *AroundZero) NumNotches() int { return 1 }

func (a *AroundZero) FileNameAddition() string {
	value := strconv.FormatFloat(a.tol.Value, 'f', -1, 64)
	if a.tol.Unit == core.PPM {
		return value + "ppmAroundZero"
	}
	return value + "daltonsAroundZero"
}

// Dot accepts candidates offset from the observed mass by one of a fixed set
// of mass shifts, each shift being its own notch.
type Dot struct {
	name   string
	shifts []float64
	tol    core.Tolerance
}

// NewDot creates a dot acceptor. Shifts are sorted ascending and the notch is
// the index of the shift in that order.
func NewDot(name string, shifts []float64, tol core.Tolerance) *Dot {
	sorted := append([]float64(nil), shifts...)
	sort.Float64s(sorted)
	return &Dot{name: name, shifts: sorted, tol: tol}
}

func (d *Dot) Accepts(candidateMass, observedMass float64) int {
	for notch, shift := range d.shifts {
		if d.tol.Within(observedMass, candidateMass+shift) {
			return notch
		}
	}
	return Rejected
}

func (d *Dot) AllowedIntervalsFromTheoretical(candidateMass float64) []Interval {
	out := make([]Interval, len(d.shifts))
	for notch, shift := range d.shifts {
		mean := candidateMass + shift
		out[notch] = Interval{Min: d.tol.Min(mean), Max: d.tol.Max(mean), Notch: notch}
	}
	return out
}

func (d *Dot) AllowedIntervalsFromObserved(observedMass float64) []Interval {
	out := make([]Interval, len(d.shifts))
	for notch, shift := range d.shifts {
		mean := observedMass - shift
		out[notch] = Interval{Min: d.tol.Min(mean), Max: d.tol.Max(mean), Notch: notch}
	}
	return out
}

func (d *Dot) NumNotches() int { return len(d.shifts) }

func (d *Dot) FileNameAddition() string { return d.name }

// Range is a closed interval of observed minus candidate mass differences.
type Range struct {
	Min, Max float64
}

// IntervalAcceptor accepts any observed minus candidate mass difference that
// falls inside one of its ranges. All ranges share notch 0.
type IntervalAcceptor struct {
	name   string
	ranges []Range
}

// NewInterval creates an interval acceptor.
func NewInterval(name string, ranges []Range) *IntervalAcceptor {
	return &IntervalAcceptor{name: name, ranges: append([]Range(nil), ranges...)}
}

func (a *IntervalAcceptor) Accepts(candidateMass, observedMass float64) int {
	diff := observedMass - candidateMass
	for _, r := range a.ranges {
		if diff >= r.Min && diff <= r.Max {
			return 0
		}
	}
	return Rejected
}

func (a *IntervalAcceptor) AllowedIntervalsFromTheoretical(candidateMass float64) []Interval {
	out := make([]Interval, len(a.ranges))
	for i, r := range a.ranges {
		out[i] = Interval{Min: candidateMass + r.Min, Max: candidateMass + r.Max}
	}
	return out
}

func (a *IntervalAcceptor) AllowedIntervalsFromObserved(observedMass float64) []Interval {
	out := make([]Interval, len(a.ranges))
	for i, r := range a.ranges {
		out[i] = Interval{Min: observedMass - r.Max, Max: observedMass - r.Min}
	}
	return out
}

func (a *IntervalAcceptor) NumNotches() int { return 1 }

func (a *IntervalAcceptor) FileNameAddition() string { return a.name }

// Open accepts every candidate.
type Open struct{}

func (Open) Accepts(candidateMass, observedMass float64) int { return 0 }

func (Open) AllowedIntervalsFromTheoretical(float64) []Interval {
	return []Interval{{Min: math.Inf(-1), Max: math.Inf(1)}}
}

func (Open) AllowedIntervalsFromObserved(float64) []Interval {
	return []Interval{{Min: math.Inf(-1), Max: math.Inf(1)}}
}

func (Open) NumNotches() int { return 1 }

func (Open) FileNameAddition() string { return "OpenSearch" }
