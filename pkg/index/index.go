// Package index provides the fragment ion index used by the modern search:
// a mapping from discretised fragment mass to the peptides producing it.
package index

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

const (
	// FragmentBinsPerDalton is the index resolution.
	FragmentBinsPerDalton = 1000

	// DefaultMaxFragmentMass bounds the number of bins.
	DefaultMaxFragmentMass = 30000.0
)

// Params configures index construction.
type Params struct {
	Dissociation    core.DissociationType
	MaxFragmentMass float64 // 0 means DefaultMaxFragmentMass
	Partitions      int     // 0 means runtime.NumCPU()
}

// Index is a read-only fragment index. Bins are stored contiguously: the
// peptide ids of bin b are ids[offsets[b]:offsets[b+1]], ascending, and
// peptide ids are ascending in mass.
type Index struct {
	Peptides     []*core.Peptide
	Dissociation core.DissociationType

	offsets []uint32
	ids     []int32
}

type entry struct {
	bin int32
	id  int32
}

// BinOf returns the bin of a neutral fragment mass. Low-resolution
// dissociation types snap the mass to the unit-resolution grid first.
func BinOf(mass float64, d core.DissociationType) int {
	if d.IsLowResolution() {
		mass = core.ToMass(core.LowResolutionMz(mass), 1)
	}
	return int(math.Round(mass * FragmentBinsPerDalton))
}

// Build sorts peptides by mass and indexes their backbone fragments. Peptides
// are split into contiguous partitions that are fragmented concurrently; the
// partitions are then merged in order, so no bin is ever shared between
// goroutines.
func Build(ctx context.Context, peptides []*core.Peptide, p Params) (*Index, error) {
	maxMass := p.MaxFragmentMass
	if maxMass <= 0 {
		maxMass = DefaultMaxFragmentMass
	}
	partitions := p.Partitions
	if partitions <= 0 {
		partitions = runtime.NumCPU()
	}

	sorted := SortByMass(peptides)
	ix := &Index{Peptides: sorted, Dissociation: p.Dissociation}
	if len(sorted) > math.MaxInt32 {
		return nil, fmt.Errorf("failed to build index: %d peptides exceeds the index capacity", len(sorted))
	}
	partitions = max(1, min(partitions, len(sorted)))

	maxBin := int(math.Ceil(maxMass * FragmentBinsPerDalton))
	parts := make([][]entry, partitions)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < partitions; w++ {
		w := w
		lo := w * len(sorted) / partitions
		hi := (w + 1) * len(sorted) / partitions
		g.Go(func() error {
			var products []core.Product
			var out []entry
			for id := lo; id < hi; id++ {
				if (id-lo)%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				products = sorted[id].FragmentInto(p.Dissociation, products[:0])
				// Fragments sharing a bin each keep an entry, so a peptide's
				// rough count is never below its matched backbone fragments.
				for _, prod := range products {
					if prod.Type.Kind() != core.Backbone || math.IsNaN(prod.NeutralMass) {
						continue
					}
					b := BinOf(prod.NeutralMass, p.Dissociation)
					if b < 0 || b > maxBin {
						continue
					}
					out = append(out, entry{bin: int32(b), id: int32(id)})
				}
			}
			parts[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}

	ix.merge(parts)
	return ix, nil
}

// merge lays the partition entries out by bin. Partitions are visited in
// order, keeping every bin's ids ascending.
func (ix *Index) merge(parts [][]entry) {
	top := -1
	total := 0
	for _, part := range parts {
		total += len(part)
		for _, e := range part {
			top = max(top, int(e.bin))
		}
	}

	nbins := top + 1
	ix.offsets = make([]uint32, nbins+1)
	for _, part := range parts {
		for _, e := range part {
			ix.offsets[e.bin+1]++
		}
	}
	for b := 0; b < nbins; b++ {
		ix.offsets[b+1] += ix.offsets[b]
	}

	ix.ids = make([]int32, total)
	next := make([]uint32, nbins)
	copy(next, ix.offsets[:nbins])
	for _, part := range parts {
		for _, e := range part {
			ix.ids[next[e.bin]] = e.id
			next[e.bin]++
		}
	}
}

// NumBins returns the number of bins.
func (ix *Index) NumBins() int {
	if len(ix.offsets) == 0 {
		return 0
	}
	return len(ix.offsets) - 1
}

// Bin returns the peptide ids in bin b in ascending order, one entry per
// fragment: a peptide with two fragments in the bin appears twice.
// Out-of-range bins are empty.
func (ix *Index) Bin(b int) []int32 {
	if b < 0 || b >= ix.NumBins() {
		return nil
	}
	return ix.ids[ix.offsets[b]:ix.offsets[b+1]]
}

// BinRange returns the inclusive bin range covering mass within tol,
// clamped to the index.
func (ix *Index) BinRange(mass float64, tol core.Tolerance) (lo, hi int) {
	lo = int(math.Floor(tol.Min(mass) * FragmentBinsPerDalton))
	hi = int(math.Ceil(tol.Max(mass) * FragmentBinsPerDalton))
	return max(lo, 0), min(hi, ix.NumBins()-1)
}

// Lookup returns the distinct ids of peptides with a fragment binned near
// mass. Bin membership is necessary but not sufficient: callers re-verify
// against the true fragment masses.
func (ix *Index) Lookup(mass float64, tol core.Tolerance) []int32 {
	if ix.Dissociation.IsLowResolution() {
		mass = core.ToMass(core.LowResolutionMz(mass), 1)
	}
	lo, hi := ix.BinRange(mass, tol)
	seen := make(map[int32]bool)
	var out []int32
	for b := lo; b <= hi; b++ {
		for _, id := range ix.Bin(b) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FilterBin narrows a bin to the peptides with mass in [min, max].
func (ix *Index) FilterBin(bin []int32, min, max float64) []int32 {
	lo := sort.Search(len(bin), func(i int) bool { return ix.Peptides[bin[i]].MonoisotopicMass >= min })
	hi := sort.Search(len(bin), func(i int) bool { return ix.Peptides[bin[i]].MonoisotopicMass > max })
	if lo >= hi {
		return nil
	}
	return bin[lo:hi]
}

// SortByMass returns a copy of peptides stably sorted by monoisotopic mass.
// Peptides with an unknown (NaN) mass cannot be placed and are dropped.
func SortByMass(peptides []*core.Peptide) []*core.Peptide {
	sorted := make([]*core.Peptide, 0, len(peptides))
	for _, p := range peptides {
		if !math.IsNaN(p.MonoisotopicMass) {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonoisotopicMass < sorted[j].MonoisotopicMass
	})
	return sorted
}

// LastAtOrBelow returns the index of the last peptide in a mass-sorted slice
// whose mass does not exceed mass, or 0 when there is none.
func LastAtOrBelow(sorted []*core.Peptide, mass float64) int {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].MonoisotopicMass > mass })
	return max(i-1, 0)
}

// MassRange returns the half-open index range of a mass-sorted slice holding
// peptides with mass in [min, max].
func MassRange(sorted []*core.Peptide, min, max float64) (lo, hi int) {
	lo = sort.Search(len(sorted), func(i int) bool { return sorted[i].MonoisotopicMass >= min })
	hi = sort.Search(len(sorted), func(i int) bool { return sorted[i].MonoisotopicMass > max })
	return lo, hi
}
