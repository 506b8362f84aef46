package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidTolerance is returned when a tolerance string cannot be parsed.
var ErrInvalidTolerance = errors.New("invalid tolerance")

// ToleranceUnit selects relative (ppm) or absolute (Da) tolerances.
type ToleranceUnit int

const (
	PPM ToleranceUnit = iota
	Absolute
)

// Tolerance is a symmetric mass window.
type Tolerance struct {
	Value float64
	Unit  ToleranceUnit
}

// PpmTolerance returns a relative tolerance in parts per million.
func PpmTolerance(value float64) Tolerance {
	return Tolerance{Value: value, Unit: PPM}
}

// AbsoluteTolerance returns an absolute tolerance in daltons.
func AbsoluteTolerance(value float64) Tolerance {
	return Tolerance{Value: value, Unit: Absolute}
}

// ParseTolerance parses strings such as "5 ppm", "20ppm", "0.01 Da" or "±10 PPM".
func ParseTolerance(s string) (Tolerance, error) {
	str := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "±"))
	lower := strings.ToLower(str)

	var unit ToleranceUnit
	var num string
	switch {
	case strings.HasSuffix(lower, "ppm"):
		unit = PPM
		num = str[:len(str)-3]
	case strings.HasSuffix(lower, "daltons"):
		unit = Absolute
		num = str[:len(str)-7]
	case strings.HasSuffix(lower, "dalton"):
		unit = Absolute
		num = str[:len(str)-6]
	case strings.HasSuffix(lower, "absolute"):
		unit = Absolute
		num = str[:len(str)-8]
	case strings.HasSuffix(lower, "da"):
		unit = Absolute
		num = str[:len(str)-2]
	default:
		return Tolerance{}, fmt.Errorf("%w: '%s' has no unit (expected ppm or Da)", ErrInvalidTolerance, s)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return Tolerance{}, fmt.Errorf("%w: '%s': %v", ErrInvalidTolerance, s, err)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return Tolerance{}, fmt.Errorf("%w: '%s' must be a finite non-negative value", ErrInvalidTolerance, s)
	}
	return Tolerance{Value: value, Unit: unit}, nil
}

// Min returns the lowest mass within tolerance of mass.
func (t Tolerance) Min(mass float64) float64 {
	if t.Unit == PPM {
		return mass * (1 - t.Value/1e6)
	}
	return mass - t.Value
}

// Max returns the highest mass within tolerance of mass.
func (t Tolerance) Max(mass float64) float64 {
	if t.Unit == PPM {
		return mass * (1 + t.Value/1e6)
	}
	return mass + t.Value
}

// Within reports whether experimental is within tolerance of theoretical.
func (t Tolerance) Within(experimental, theoretical float64) bool {
	if t.Unit == PPM {
		return math.Abs((experimental-theoretical)/theoretical*1e6) <= t.Value
	}
	return math.Abs(experimental-theoretical) <= t.Value
}

func (t Tolerance) String() string {
	if t.Unit == PPM {
		return strconv.FormatFloat(t.Value, 'f', -1, 64) + " ppm"
	}
	return strconv.FormatFloat(t.Value, 'f', -1, 64) + " Da"
}
