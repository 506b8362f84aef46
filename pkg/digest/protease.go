// Package digest performs in-silico protein digestion and decoy generation
package digest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownProtease is returned when a protease name is not registered
var ErrUnknownProtease = errors.New("unknown protease")

// Protease cleaves after any residue in CleaveAfter unless the next residue
// is in ExceptBefore. A protease with no cleavage residues never cleaves.
type Protease struct {
	Name         string
	CleaveAfter  string
	ExceptBefore string
}

// cleaves reports whether the protease cuts between seq[i] and seq[i+1]
func (p Protease) cleaves(seq string, i int) bool {
	if i+1 >= len(seq) || !strings.ContainsRune(p.CleaveAfter, rune(seq[i])) {
		return false
	}
	return !strings.ContainsRune(p.ExceptBefore, rune(seq[i+1]))
}

// sites returns the cleavage boundaries of seq, including 0 and len(seq)
func (p Protease) sites(seq string) []int {
	sites := []int{0}
	for i := 0; i < len(seq)-1; i++ {
		if p.cleaves(seq, i) {
			sites = append(sites, i+1)
		}
	}
	if len(seq) > 0 {
		sites = append(sites, len(seq))
	}
	return sites
}

// ProteaseRegistry maps lower-cased names to proteases. It is a plain value:
// callers build one and pass it where digestion is configured.
type ProteaseRegistry map[string]Protease

// DefaultProteases returns the built-in proteases
func DefaultProteases() ProteaseRegistry {
	r := ProteaseRegistry{}
	for _, p := range []Protease{
		{Name: "trypsin", CleaveAfter: "KR", ExceptBefore: "P"},
		{Name: "trypsin/P", CleaveAfter: "KR"},
		{Name: "Lys-C", CleaveAfter: "K", ExceptBefore: "P"},
		{Name: "Arg-C", CleaveAfter: "R", ExceptBefore: "P"},
		{Name: "Glu-C", CleaveAfter: "E", ExceptBefore: "P"},
		{Name: "top-down"},
	} {
		r.Add(p)
	}
	return r
}

// Add registers or replaces a protease
func (r ProteaseRegistry) Add(p Protease) {
	r[strings.ToLower(p.Name)] = p
}

// Get looks up a protease by name, ignoring case
func (r ProteaseRegistry) Get(name string) (Protease, error) {
	p, ok := r[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Protease{}, fmt.Errorf("%w: '%s'", ErrUnknownProtease, name)
	}
	return p, nil
}

// Names returns the registered protease names in sorted order
func (r ProteaseRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for _, p := range r {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
