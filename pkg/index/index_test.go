package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

func testPeptides() []*core.Peptide {
	reg := core.NewRegistry()
	var out []*core.Peptide
	for i, seq := range []string{"PEPTIDEK", "AAAK", "GGGGGR", "LLLK", "MNLDLDNDLR", "SAMPLER", "EEEK", "PEPTIDEK", "QQQR"} {
		prot := &core.Protein{Accession: "P" + string(rune('0'+i)), Sequence: seq}
		out = append(out, core.NewPeptide(reg, prot, 1, len(seq), nil, 0))
	}
	return out
}

func TestBuildSortsAndIndexes(t *testing.T) {
	ix, err := Build(context.Background(), testPeptides(), Params{Dissociation: core.HCD, Partitions: 3})
	require.NoError(t, err)

	for i := 1; i < len(ix.Peptides); i++ {
		assert.LessOrEqual(t, ix.Peptides[i-1].MonoisotopicMass, ix.Peptides[i].MonoisotopicMass)
	}

	for id, pep := range ix.Peptides {
		for _, prod := range pep.Fragment(core.HCD) {
			bin := ix.Bin(BinOf(prod.NeutralMass, core.HCD))
			assert.Contains(t, bin, int32(id), "peptide %s missing from bin of %s", pep.BaseSequence, prod.Annotation())
		}
	}

	for b := 0; b < ix.NumBins(); b++ {
		bin := ix.Bin(b)
		for i := 1; i < len(bin); i++ {
			require.LessOrEqual(t, bin[i-1], bin[i], "bin %d not ascending", b)
		}
	}
}

func TestBinsKeepOneEntryPerFragment(t *testing.T) {
	ix, err := Build(context.Background(), testPeptides(), Params{Dissociation: core.EThcD, Partitions: 2})
	require.NoError(t, err)

	entries := make(map[int32]int)
	for b := 0; b < ix.NumBins(); b++ {
		for _, id := range ix.Bin(b) {
			entries[id]++
		}
	}
	for id, pep := range ix.Peptides {
		want := 0
		perBin := make(map[int]int)
		for _, prod := range pep.Fragment(core.EThcD) {
			if prod.Type.Kind() != core.Backbone {
				continue
			}
			want++
			perBin[BinOf(prod.NeutralMass, core.EThcD)]++
		}
		assert.Equal(t, want, entries[int32(id)], "entries for %s", pep.BaseSequence)
		for b, n := range perBin {
			got := 0
			for _, other := range ix.Bin(b) {
				if other == int32(id) {
					got++
				}
			}
			assert.Equal(t, n, got, "bin %d of %s", b, pep.BaseSequence)
		}
	}
}

func TestPartitionCountDoesNotChangeIndex(t *testing.T) {
	peptides := testPeptides()
	one, err := Build(context.Background(), peptides, Params{Dissociation: core.EThcD, Partitions: 1})
	require.NoError(t, err)

	for _, n := range []int{2, 4, 64} {
		many, err := Build(context.Background(), peptides, Params{Dissociation: core.EThcD, Partitions: n})
		require.NoError(t, err)
		assert.Equal(t, one.offsets, many.offsets, "partitions=%d", n)
		assert.Equal(t, one.ids, many.ids, "partitions=%d", n)
	}
}

func TestLookup(t *testing.T) {
	ix, err := Build(context.Background(), testPeptides(), Params{Dissociation: core.HCD})
	require.NoError(t, err)

	var target int32 = -1
	for id, pep := range ix.Peptides {
		if pep.BaseSequence == "SAMPLER" {
			target = int32(id)
		}
	}
	require.NotEqual(t, int32(-1), target)

	y1 := 0.0
	for _, prod := range ix.Peptides[target].Fragment(core.HCD) {
		if prod.Type == core.Y && prod.FragmentNumber == 1 {
			y1 = prod.NeutralMass
		}
	}

	assert.Contains(t, ix.Lookup(y1+0.004, core.AbsoluteTolerance(0.01)), target)
	assert.NotContains(t, ix.Lookup(y1+0.05, core.AbsoluteTolerance(0.01)), target)
	assert.Empty(t, ix.Lookup(-5, core.AbsoluteTolerance(0.01)))
	assert.Empty(t, ix.Lookup(1e6, core.AbsoluteTolerance(0.01)))
}

func TestFilterBinAndMassRange(t *testing.T) {
	ix, err := Build(context.Background(), testPeptides(), Params{Dissociation: core.HCD})
	require.NoError(t, err)

	all := make([]int32, len(ix.Peptides))
	for i := range all {
		all[i] = int32(i)
	}
	mid := ix.Peptides[4].MonoisotopicMass
	filtered := ix.FilterBin(all, mid-0.001, mid+0.001)
	require.NotEmpty(t, filtered)
	for _, id := range filtered {
		assert.InDelta(t, mid, ix.Peptides[id].MonoisotopicMass, 0.001)
	}

	lo, hi := MassRange(ix.Peptides, mid-0.001, mid+0.001)
	assert.Equal(t, len(filtered), hi-lo)

	assert.Equal(t, 0, LastAtOrBelow(ix.Peptides, 0))
	assert.Equal(t, len(ix.Peptides)-1, LastAtOrBelow(ix.Peptides, 1e9))
	last := LastAtOrBelow(ix.Peptides, mid)
	assert.LessOrEqual(t, ix.Peptides[last].MonoisotopicMass, mid)
}

func TestBuildEmptyAndCancelled(t *testing.T) {
	ix, err := Build(context.Background(), nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, 0, ix.NumBins())
	assert.Nil(t, ix.Bin(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, testPeptides(), Params{Partitions: 2})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLowResolutionBins(t *testing.T) {
	a := BinOf(500.1, core.LowCID)
	b := BinOf(500.3, core.LowCID)
	assert.Equal(t, a, b)
	assert.NotEqual(t, BinOf(500.1, core.HCD), BinOf(500.3, core.HCD))
}
