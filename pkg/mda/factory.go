package mda

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// ErrUnknownAcceptor is returned for unrecognised acceptor names or custom kinds.
var ErrUnknownAcceptor = errors.New("unknown mass difference acceptor")

// Named acceptor selections.
const (
	Exact              = "Exact"
	OneMM              = "OneMM"
	TwoMM              = "TwoMM"
	ThreeMM            = "ThreeMM"
	PlusOrMinusThreeMM = "PlusOrMinusThreeMM"
	ModOpen            = "ModOpen"
	OpenSearch         = "Open"
	Custom             = "Custom"
)

func isotopeShifts(from, to int) []float64 {
	var shifts []float64
	for i := from; i <= to; i++ {
		shifts = append(shifts, float64(i)*core.C13MinusC12)
	}
	return shifts
}

// New builds the acceptor named by selection. custom is only read for Custom.
func New(selection string, precursorTol core.Tolerance, custom string) (Acceptor, error) {
	switch strings.ToLower(strings.TrimSpace(selection)) {
	case "exact", "":
		if precursorTol.Unit == core.PPM {
			return NewPpmAroundZero(precursorTol.Value), nil
		}
		return NewDaltonsAroundZero(precursorTol.Value), nil
	case "onemm":
		return NewDot("1mm", isotopeShifts(0, 1), precursorTol), nil
	case "twomm":
		return NewDot("2mm", isotopeShifts(0, 2), precursorTol), nil
	case "threemm":
		return NewDot("3mm", isotopeShifts(0, 3), precursorTol), nil
	case "plusorminusthreemm":
		return NewDot("PlusOrMinus3Da", isotopeShifts(-3, 3), precursorTol), nil
	case "modopen":
		return NewInterval("-187andUp", []Range{{Min: -187, Max: math.Inf(1)}}), nil
	case "open", "opensearch":
		return Open{}, nil
	case "custom":
		return ParseCustom(custom)
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownAcceptor, selection)
}

// ParseCustom parses a custom acceptor definition. Supported forms:
//
//	<name> dot <tol> <ppm|da> <m1,m2,...>
//	<name> interval [a,b];[c,d]
//	<name> OpenSearch
//	<name> daltonsAroundZero <value>
//	<name> ppmAroundZero <value>
func ParseCustom(s string) (Acceptor, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: custom definition '%s' needs a name and a kind", ErrUnknownAcceptor, s)
	}
	name, kind := fields[0], fields[1]

	switch strings.ToLower(kind) {
	case "dot":
		if len(fields) < 5 {
			return nil, fmt.Errorf("invalid dot acceptor '%s', expected '<name> dot <tol> <ppm|da> <masses>'", s)
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dot tolerance '%s': %w", fields[2], err)
		}
		var tol core.Tolerance
		switch strings.ToLower(fields[3]) {
		case "ppm":
			tol = core.PpmTolerance(value)
		case "da":
			tol = core.AbsoluteTolerance(value)
		default:
			return nil, fmt.Errorf("invalid dot tolerance unit '%s', expected ppm or da", fields[3])
		}
		var shifts []float64
		for _, m := range strings.Split(fields[4], ",") {
			shift, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid dot mass '%s': %w", m, err)
			}
			shifts = append(shifts, shift)
		}
		return NewDot(name, shifts, tol), nil

	case "interval":
		if len(fields) < 3 {
			return nil, fmt.Errorf("invalid interval acceptor '%s', expected '<name> interval [a,b];[c,d]'", s)
		}
		var ranges []Range
		for _, part := range strings.Split(strings.Join(fields[2:], ""), ";") {
			part = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(part), "["), "]")
			bounds := strings.Split(part, ",")
			if len(bounds) != 2 {
				return nil, fmt.Errorf("invalid interval '%s', expected [min,max]", part)
			}
			lo, err := parseBound(bounds[0])
			if err != nil {
				return nil, err
			}
			hi, err := parseBound(bounds[1])
			if err != nil {
				return nil, err
			}
			ranges = append(ranges, Range{Min: lo, Max: hi})
		}
		return NewInterval(name, ranges), nil

	case "opensearch":
		return Open{}, nil

	case "daltonsaroundzero", "ppmaroundzero":
		if len(fields) < 3 {
			return nil, fmt.Errorf("invalid acceptor '%s', expected a tolerance value", s)
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tolerance '%s': %w", fields[2], err)
		}
		if strings.EqualFold(kind, "ppmAroundZero") {
			return NewPpmAroundZero(value), nil
		}
		return NewDaltonsAroundZero(value), nil
	}

	return nil, fmt.Errorf("%w: custom kind '%s'", ErrUnknownAcceptor, kind)
}

func parseBound(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inf", "+inf", "infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval bound '%s': %w", s, err)
	}
	return v, nil
}
