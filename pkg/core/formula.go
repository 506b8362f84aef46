package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var elementMasses = map[string]float64{
	"C":  MassC,
	"H":  MassH,
	"N":  MassN,
	"O":  MassO,
	"S":  MassS,
	"P":  MassP,
	"Na": MassNa,
	"K":  MassK,
	"Se": MassSe,
}

// Formula is an elemental composition. Counts may be negative for mass
// losses such as "H-2O-1".
type Formula map[string]int

// ParseFormula parses formulas such as "C2H3NO", "H-1N-1O" or "C1".
func ParseFormula(s string) (Formula, error) {
	f := Formula{}
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) {
		if !unicode.IsUpper(rune(s[i])) {
			return nil, fmt.Errorf("invalid formula '%s': expected element at position %d", s, i)
		}
		j := i + 1
		for j < len(s) && unicode.IsLower(rune(s[j])) {
			j++
		}
		element := s[i:j]
		if _, ok := elementMasses[element]; !ok {
			return nil, fmt.Errorf("invalid formula '%s': unknown element '%s'", s, element)
		}

		k := j
		if k < len(s) && s[k] == '-' {
			k++
		}
		for k < len(s) && unicode.IsDigit(rune(s[k])) {
			k++
		}
		count := 1
		if k > j {
			n, err := strconv.Atoi(s[j:k])
			if err != nil {
				return nil, fmt.Errorf("invalid formula '%s': bad count for %s: %w", s, element, err)
			}
			count = n
		}
		f[element] += count
		i = k
	}
	return f, nil
}

// Add returns the sum of two formulas without modifying either.
func (f Formula) Add(other Formula) Formula {
	out := make(Formula, len(f)+len(other))
	for el, n := range f {
		out[el] += n
	}
	for el, n := range other {
		out[el] += n
	}
	return out
}

// Equal reports whether both formulas have the same non-zero element counts.
func (f Formula) Equal(other Formula) bool {
	for el, n := range f {
		if other[el] != n {
			return false
		}
	}
	for el, n := range other {
		if f[el] != n {
			return false
		}
	}
	return true
}

// Mass returns the monoisotopic mass of the formula. Unknown elements yield NaN.
func (f Formula) Mass() float64 {
	mass := 0.0
	for el, n := range f {
		m, ok := elementMasses[el]
		if !ok {
			return math.NaN()
		}
		mass += float64(n) * m
	}
	return mass
}

// String renders the formula in Hill order: carbon, hydrogen, then the
// remaining elements alphabetically. A count of one is omitted.
func (f Formula) String() string {
	var elements []string
	for el, n := range f {
		if n != 0 {
			elements = append(elements, el)
		}
	}
	sort.Slice(elements, func(i, j int) bool {
		ri, rj := hillRank(elements[i]), hillRank(elements[j])
		if ri != rj {
			return ri < rj
		}
		return elements[i] < elements[j]
	})

	var sb strings.Builder
	for _, el := range elements {
		sb.WriteString(el)
		if n := f[el]; n != 1 {
			sb.WriteString(strconv.Itoa(n))
		}
	}
	return sb.String()
}

func hillRank(element string) int {
	switch element {
	case "C":
		return 0
	case "H":
		return 1
	default:
		return 2
	}
}
