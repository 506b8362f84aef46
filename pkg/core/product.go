package core

import (
	"fmt"
	"strconv"
)

// ProductType identifies an ion series. Backbone series carry a terminus and a
// fragment number; D ions are diagnostic (reporter) ions and M is the
// precursor.
type ProductType int

const (
	A ProductType = iota
	B
	C
	Y
	ZDot
	D
	M
)

// ProductKind tags a product as backbone, diagnostic or precursor.
type ProductKind int

const (
	Backbone ProductKind = iota
	Diagnostic
	Precursor
)

// Terminus is the peptide end a fragment contains.
type Terminus int

const (
	NoTerminus Terminus = iota
	NTerminus
	CTerminus
)

func (t ProductType) String() string {
	switch t {
	case A:
		return "a"
	case B:
		return "b"
	case C:
		return "c"
	case Y:
		return "y"
	case ZDot:
		return "zDot"
	case D:
		return "D"
	case M:
		return "M"
	}
	return fmt.Sprintf("ProductType(%d)", int(t))
}

// Kind returns the tag scoring switches on.
func (t ProductType) Kind() ProductKind {
	switch t {
	case D:
		return Diagnostic
	case M:
		return Precursor
	default:
		return Backbone
	}
}

// Terminus returns the terminus contained by fragments of this type.
func (t ProductType) Terminus() Terminus {
	switch t {
	case A, B, C:
		return NTerminus
	case Y, ZDot:
		return CTerminus
	default:
		return NoTerminus
	}
}

// MassShift is added to the summed residue masses of a fragment.
func (t ProductType) MassShift() float64 {
	switch t {
	case A:
		return -(MassC + MassO)
	case C:
		return AmmoniaMass
	case Y:
		return WaterMass
	case ZDot:
		return MassO - MassN
	default:
		return 0
	}
}

// Product is a theoretical fragment ion.
type Product struct {
	Type              ProductType
	Terminus          Terminus
	NeutralMass       float64
	FragmentNumber    int
	AminoAcidPosition int
	NeutralLoss       float64
}

// Annotation returns labels like "b3", or "(b1-5.00)" when a neutral loss applies.
func (p Product) Annotation() string {
	label := p.Type.String() + strconv.Itoa(p.FragmentNumber)
	if p.NeutralLoss == 0 {
		return label
	}
	return fmt.Sprintf("(%s-%.2f)", label, p.NeutralLoss)
}

// MatchedFragmentIon pairs a product with the observed ion that explained it.
type MatchedFragmentIon struct {
	Product   Product
	Mz        float64
	Intensity float64
	Charge    int
}

// Annotation returns the product annotation followed by the charge, e.g. "b3+1".
func (m MatchedFragmentIon) Annotation() string {
	return m.Product.Annotation() + "+" + strconv.Itoa(m.Charge)
}

// IsDiagnostic reports whether the ion is excluded from the match score.
func (m MatchedFragmentIon) IsDiagnostic() bool {
	return m.Product.Type.Kind() == Diagnostic
}

// MassErrorDa is the observed minus theoretical neutral mass.
func (m MatchedFragmentIon) MassErrorDa() float64 {
	return ToMass(m.Mz, m.Charge) - m.Product.NeutralMass
}

// MassErrorPpm is the mass error relative to the theoretical neutral mass.
func (m MatchedFragmentIon) MassErrorPpm() float64 {
	return m.MassErrorDa() / m.Product.NeutralMass * 1e6
}
