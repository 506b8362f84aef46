package digest

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// DefaultMaxIsoforms bounds the variable-modification isoforms of one peptide
const DefaultMaxIsoforms = 1024

// DecoyPrefix is prepended to the accession of generated decoy proteins
const DecoyPrefix = "DECOY_"

// Params holds digestion configuration
type Params struct {
	Protease           Protease
	MaxMissedCleavages int
	MinLength          int // 0 = no minimum
	MaxLength          int // 0 = no maximum

	// CleaveInitiatorMethionine also emits N-terminal peptides without the
	// leading methionine.
	CleaveInitiatorMethionine bool

	FixedMods         []*core.Modification
	VariableMods      []*core.Modification
	MaxModsPerPeptide int // variable mods per peptide
	MaxIsoforms       int // 0 = DefaultMaxIsoforms
}

// DefaultParams returns tryptic digestion with two missed cleavages
func DefaultParams() Params {
	return Params{
		Protease:                  Protease{Name: "trypsin", CleaveAfter: "KR", ExceptBefore: "P"},
		MaxMissedCleavages:        2,
		MinLength:                 7,
		CleaveInitiatorMethionine: true,
		MaxModsPerPeptide:         2,
	}
}

// Digest cleaves a protein and returns every modified form of every peptide
// within the configured bounds, in protein order.
func Digest(reg *core.Registry, protein *core.Protein, p Params) []*core.Peptide {
	seq := protein.Sequence
	sites := p.Protease.sites(seq)

	var peptides []*core.Peptide
	emit := func(start, end, missed int) {
		length := end - start
		if length <= 0 || (p.MinLength > 0 && length < p.MinLength) || (p.MaxLength > 0 && length > p.MaxLength) {
			return
		}
		for _, mods := range p.isoforms(seq[start:end]) {
			peptides = append(peptides, core.NewPeptide(reg, protein, start+1, end, mods, missed))
		}
	}

	for i := 0; i < len(sites)-1; i++ {
		for missed := 0; missed <= p.MaxMissedCleavages && i+missed+1 < len(sites); missed++ {
			start, end := sites[i], sites[i+missed+1]
			emit(start, end, missed)
			if start == 0 && p.CleaveInitiatorMethionine && seq[0] == 'M' {
				emit(1, end, missed)
			}
		}
	}
	return peptides
}

// DigestAll digests proteins concurrently and returns the peptides in
// protein order.
func DigestAll(ctx context.Context, reg *core.Registry, proteins []*core.Protein, p Params) ([]*core.Peptide, error) {
	if len(proteins) == 0 {
		return nil, nil
	}
	workers := max(1, min(runtime.NumCPU(), len(proteins)))
	parts := make([][]*core.Peptide, workers)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo := w * len(proteins) / workers
		hi := (w + 1) * len(proteins) / workers
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				parts[w] = append(parts[w], Digest(reg, proteins[i], p)...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to digest proteins: %w", err)
	}

	var all []*core.Peptide
	for _, part := range parts {
		all = append(all, part...)
	}
	return all, nil
}

type modSite struct {
	key  int
	mods []*core.Modification
}

// isoforms returns the modification maps of seq: fixed mods everywhere they
// apply, combined with every placement of up to MaxModsPerPeptide variable
// mods. The unmodified (fixed-only) form comes first.
func (p Params) isoforms(seq string) []map[int]*core.Modification {
	n := len(seq)
	fixed := make(map[int]*core.Modification)
	for i := 0; i < n; i++ {
		for _, m := range p.FixedMods {
			if !m.Applies(rune(seq[i]), i, n) {
				continue
			}
			if key := m.ModKey(i, n); fixed[key] == nil {
				fixed[key] = m
			}
		}
	}

	var sites []modSite
	byKey := make(map[int]int)
	for i := 0; i < n; i++ {
		for _, m := range p.VariableMods {
			if !m.Applies(rune(seq[i]), i, n) {
				continue
			}
			key := m.ModKey(i, n)
			if fixed[key] != nil {
				continue
			}
			idx, ok := byKey[key]
			if !ok {
				idx = len(sites)
				byKey[key] = idx
				sites = append(sites, modSite{key: key})
			}
			sites[idx].mods = append(sites[idx].mods, m)
		}
	}

	limit := p.MaxIsoforms
	if limit <= 0 {
		limit = DefaultMaxIsoforms
	}

	var out []map[int]*core.Modification
	current := make(map[int]*core.Modification, len(fixed))
	for k, m := range fixed {
		current[k] = m
	}

	var walk func(i, count int)
	walk = func(i, count int) {
		if len(out) >= limit {
			return
		}
		if i == len(sites) {
			mods := make(map[int]*core.Modification, len(current))
			for k, m := range current {
				mods[k] = m
			}
			out = append(out, mods)
			return
		}
		walk(i+1, count)
		if count >= p.MaxModsPerPeptide {
			return
		}
		for _, m := range sites[i].mods {
			current[sites[i].key] = m
			walk(i+1, count+1)
			delete(current, sites[i].key)
		}
	}
	walk(0, 0)
	return out
}

// DecoyProtein returns the reversed protein, keeping an initiator methionine in place
func DecoyProtein(p *core.Protein) *core.Protein {
	seq := []byte(p.Sequence)
	from := 0
	if len(seq) > 0 && seq[0] == 'M' {
		from = 1
	}
	for i, j := from, len(seq)-1; i < j; i, j = i+1, j-1 {
		seq[i], seq[j] = seq[j], seq[i]
	}
	return &core.Protein{
		Accession:     DecoyPrefix + p.Accession,
		Name:          p.Name,
		Organism:      p.Organism,
		Sequence:      string(seq),
		IsDecoy:       true,
		IsContaminant: p.IsContaminant,
	}
}

// ReversePeptide builds the on-the-fly decoy of a target peptide: the
// C-terminal residue stays, the rest is reversed, and modifications move with
// their residues. Terminal modifications stay on their termini. A sequence
// that reverses onto itself is mirrored entirely instead.
func ReversePeptide(reg *core.Registry, pep *core.Peptide) *core.Peptide {
	seq := pep.BaseSequence
	n := len(seq)

	// newIndex maps an original residue index to its decoy index
	newIndex := func(j int) int {
		if j == n-1 {
			return j
		}
		return n - 2 - j
	}
	rev := make([]byte, n)
	for j := 0; j < n; j++ {
		rev[newIndex(j)] = seq[j]
	}
	if string(rev) == seq {
		newIndex = func(j int) int { return n - 1 - j }
		for j := 0; j < n; j++ {
			rev[newIndex(j)] = seq[j]
		}
	}

	mods := make(map[int]*core.Modification, len(pep.Mods))
	for key, m := range pep.Mods {
		switch {
		case key == 1 || key == n+2:
			mods[key] = m
		default:
			mods[newIndex(key-2)+2] = m
		}
	}

	parent := pep.Protein
	if parent == nil {
		parent = &core.Protein{}
	}
	prot := &core.Protein{
		Accession:     DecoyPrefix + parent.Accession,
		Name:          parent.Name,
		Organism:      parent.Organism,
		Sequence:      string(rev),
		IsDecoy:       true,
		IsContaminant: parent.IsContaminant,
	}
	return core.NewPeptide(reg, prot, 1, n, mods, pep.MissedCleavages)
}
