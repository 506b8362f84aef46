package digest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

func sequences(peps []*core.Peptide) []string {
	out := make([]string, len(peps))
	for i, p := range peps {
		out[i] = p.BaseSequence
	}
	return out
}

func TestDigestCleavage(t *testing.T) {
	reg := core.NewRegistry()
	proteases := DefaultProteases()
	prot := &core.Protein{Accession: "P1", Sequence: "MKPEPTIDERAAK"}

	tests := []struct {
		name     string
		protease string
		missed   int
		cleaveM  bool
		want     []string
	}{
		{
			name:     "trypsin skips KP",
			protease: "trypsin",
			missed:   1,
			cleaveM:  true,
			want:     []string{"MKPEPTIDER", "KPEPTIDER", "MKPEPTIDERAAK", "KPEPTIDERAAK", "AAK"},
		},
		{
			name:     "trypsin/P cleaves before proline",
			protease: "trypsin/P",
			want:     []string{"MK", "PEPTIDER", "AAK"},
		},
		{
			name:     "top-down keeps the whole protein",
			protease: "top-down",
			missed:   2,
			want:     []string{"MKPEPTIDERAAK"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protease, err := proteases.Get(tt.protease)
			require.NoError(t, err)
			p := Params{Protease: protease, MaxMissedCleavages: tt.missed, CleaveInitiatorMethionine: tt.cleaveM}
			assert.Equal(t, tt.want, sequences(Digest(reg, prot, p)))
		})
	}
}

func TestDigestLengthAndPositions(t *testing.T) {
	reg := core.NewRegistry()
	prot := &core.Protein{Accession: "P1", Sequence: "MKPEPTIDERAAK"}
	p := DefaultParams()
	p.MaxMissedCleavages = 0

	peps := Digest(reg, prot, p)
	require.Equal(t, []string{"MKPEPTIDER", "KPEPTIDER"}, sequences(peps))
	assert.Equal(t, 1, peps[0].StartResidue)
	assert.Equal(t, 10, peps[0].EndResidue)
	assert.Equal(t, 2, peps[1].StartResidue)
	assert.Equal(t, prot, peps[1].Protein)
}

func TestDigestModifications(t *testing.T) {
	reg := core.NewRegistry()
	ox := &core.Modification{Name: "Oxidation", Target: 'M', Mass: 15.994915}
	cam := &core.Modification{Name: "Carbamidomethyl", Target: 'C', Mass: 57.021464}
	prot := &core.Protein{Accession: "P1", Sequence: "AMCMK"}

	p := Params{Protease: Protease{Name: "top-down"}, FixedMods: []*core.Modification{cam}, VariableMods: []*core.Modification{ox}, MaxModsPerPeptide: 2}
	peps := Digest(reg, prot, p)
	require.Len(t, peps, 4)
	assert.Equal(t, "AMC[Carbamidomethyl on C]MK", peps[0].FullSequence())
	for _, pep := range peps {
		assert.Equal(t, cam, pep.Mods[4], "fixed mod on every isoform")
	}
	assert.Equal(t, "AM[Oxidation on M]C[Carbamidomethyl on C]M[Oxidation on M]K", peps[3].FullSequence())

	p.MaxModsPerPeptide = 1
	assert.Len(t, Digest(reg, prot, p), 3)

	p.MaxModsPerPeptide = 2
	p.MaxIsoforms = 2
	assert.Len(t, Digest(reg, prot, p), 2)
}

func TestDigestAllKeepsProteinOrder(t *testing.T) {
	reg := core.NewRegistry()
	var proteins []*core.Protein
	for _, seq := range []string{"AAAKCCCK", "DDDKEEEK", "GGGKHHHK", "LLLK"} {
		proteins = append(proteins, &core.Protein{Accession: seq, Sequence: seq})
	}
	p := Params{Protease: Protease{Name: "trypsin", CleaveAfter: "KR", ExceptBefore: "P"}}

	peps, err := DigestAll(context.Background(), reg, proteins, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAK", "CCCK", "DDDK", "EEEK", "GGGK", "HHHK", "LLLK"}, sequences(peps))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DigestAll(ctx, reg, proteins, p)
	assert.ErrorIs(t, err, context.Canceled)

	peps, err = DigestAll(context.Background(), reg, nil, p)
	assert.NoError(t, err)
	assert.Empty(t, peps)
}

func TestProteaseRegistry(t *testing.T) {
	r := DefaultProteases()
	p, err := r.Get("LYS-C")
	require.NoError(t, err)
	assert.Equal(t, "K", p.CleaveAfter)

	_, err = r.Get("pepsin")
	assert.ErrorIs(t, err, ErrUnknownProtease)

	r.Add(Protease{Name: "Asp-N-ish", CleaveAfter: "D"})
	_, err = r.Get("asp-n-ish")
	assert.NoError(t, err)
	assert.Contains(t, r.Names(), "Asp-N-ish")
}

func TestDecoys(t *testing.T) {
	reg := core.NewRegistry()

	decoy := DecoyProtein(&core.Protein{Accession: "P1", Sequence: "MPEPK", IsContaminant: true})
	assert.Equal(t, "MKPEP", decoy.Sequence)
	assert.Equal(t, "DECOY_P1", decoy.Accession)
	assert.True(t, decoy.IsDecoy)
	assert.True(t, decoy.IsContaminant)

	ox := &core.Modification{Name: "Ox", Target: 'E', Mass: 15.994915}
	acetyl := &core.Modification{Name: "Acetyl", Location: core.NTerminal, Mass: 42.010565}
	target := core.NewPeptide(reg, &core.Protein{Accession: "T", Sequence: "PEPTIDEK"}, 1, 8,
		map[int]*core.Modification{1: acetyl, 3: ox}, 0)

	rev := ReversePeptide(reg, target)
	assert.Equal(t, "EDITPEPK", rev.BaseSequence)
	assert.Equal(t, ox, rev.Mods[7])
	assert.Equal(t, acetyl, rev.Mods[1])
	assert.True(t, rev.IsDecoy())
	assert.InDelta(t, target.MonoisotopicMass, rev.MonoisotopicMass, 1e-9)

	mirror := ReversePeptide(reg, core.NewPeptide(reg, &core.Protein{Sequence: "AAK"}, 1, 3, nil, 0))
	assert.Equal(t, "KAA", mirror.BaseSequence)
}
