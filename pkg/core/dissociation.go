package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// LowResolutionBinWidth is the m/z spacing of the unit-resolution grid used
// for low-resolution CID spectra.
const LowResolutionBinWidth = 1.0005079

// LowResolutionMz returns the grid m/z at charge one for a neutral mass.
func LowResolutionMz(neutralMass float64) float64 {
	return math.Round(ToMz(neutralMass, 1)/LowResolutionBinWidth) * LowResolutionBinWidth
}

// ErrUnknownDissociation is returned for unrecognised dissociation names.
var ErrUnknownDissociation = errors.New("unknown dissociation type")

// DissociationType is the activation method used to fragment precursors.
type DissociationType int

const (
	HCD DissociationType = iota
	CID
	ETD
	EThcD
	LowCID
)

var dissociationNames = map[DissociationType]string{
	HCD:    "HCD",
	CID:    "CID",
	ETD:    "ETD",
	EThcD:  "EThcD",
	LowCID: "LowCID",
}

func (d DissociationType) String() string {
	if name, ok := dissociationNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DissociationType(%d)", int(d))
}

// ParseDissociationType parses a dissociation name case-insensitively.
func ParseDissociationType(s string) (DissociationType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	for d, name := range dissociationNames {
		if strings.ToLower(name) == key {
			return d, nil
		}
	}
	return HCD, fmt.Errorf("%w: '%s'", ErrUnknownDissociation, s)
}

// ProductTypes returns the backbone ion series generated for the dissociation type.
func (d DissociationType) ProductTypes() []ProductType {
	switch d {
	case ETD:
		return []ProductType{C, Y, ZDot}
	case EThcD:
		return []ProductType{B, Y, C, ZDot}
	default:
		return []ProductType{B, Y}
	}
}

// IsLowResolution reports whether fragments are matched on a unit-resolution grid.
func (d DissociationType) IsLowResolution() bool {
	return d == LowCID
}

// ComplementaryShift returns the neutral mass added to the precursor mass
// before subtracting a fragment of the given type to obtain the mass of its
// complement. Electron-based pairs (c/zDot) carry one extra proton.
func (d DissociationType) ComplementaryShift(t ProductType) float64 {
	switch d {
	case ETD:
		return ProtonMass
	case EThcD:
		if t == C || t == ZDot {
			return ProtonMass
		}
		return 0
	default:
		return 0
	}
}

// ComplementaryShifts returns the distinct complementary shifts of the
// dissociation type's product series.
func (d DissociationType) ComplementaryShifts() []float64 {
	var shifts []float64
	seen := map[float64]bool{}
	for _, t := range d.ProductTypes() {
		s := d.ComplementaryShift(t)
		if !seen[s] {
			seen[s] = true
			shifts = append(shifts, s)
		}
	}
	return shifts
}
