package tsv

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

var reg = core.DefaultRegistry()

func peptide(seq, acc string, decoy, contaminant bool) *core.Peptide {
	prot := &core.Protein{Accession: acc, Sequence: seq, Organism: "Bos taurus", IsDecoy: decoy, IsContaminant: contaminant}
	return core.NewPeptide(reg, prot, 1, len(seq), nil, 0)
}

func ion(t core.ProductType, n int, mz, intensity float64) core.MatchedFragmentIon {
	return core.MatchedFragmentIon{Product: core.Product{Type: t, FragmentNumber: n}, Mz: mz, Intensity: intensity, Charge: 1}
}

func newMatch(hs ...psm.Hypothesis) *psm.SpectralMatch {
	acc := psm.NewAccumulator(0)
	for _, h := range hs {
		acc = psm.Fold(acc, h, true)
	}
	spec := &core.Spectrum{ScanNumber: 12, PrecursorCharge: 2, PrecursorMass: hs[0].Peptide.MonoisotopicMass, FileName: "run1.mgf"}
	m := psm.NewSpectralMatch(spec, 0, acc)
	m.ResolveAllAmbiguities()
	return m
}

func column(name string) int {
	for i, h := range Header {
		if h == name {
			return i
		}
	}
	return -1
}

func TestIonSeries(t *testing.T) {
	ions := []core.MatchedFragmentIon{
		ion(core.Y, 2, 300.1, 50),
		ion(core.B, 2, 200.1, 10),
		ion(core.Y, 1, 150.05, 20),
		ion(core.B, 1, 100.05, 30),
	}
	series, mzs, intensities := IonSeries(ions)
	assert.Equal(t, "[b1+1, b2+1];[y1+1, y2+1]", series)
	assert.Equal(t, "[b1+1:100.05000, b2+1:200.10000];[y1+1:150.05000, y2+1:300.10000]", mzs)
	assert.Equal(t, "[b1+1:30, b2+1:10];[y1+1:20, y2+1:50]", intensities)

	loss := core.MatchedFragmentIon{Product: core.Product{Type: core.B, FragmentNumber: 1, NeutralLoss: 5}, Charge: 1}
	series, _, _ = IonSeries([]core.MatchedFragmentIon{loss})
	assert.Equal(t, "[(b1-5.00)+1]", series)
}

func TestFieldsMissingFdr(t *testing.T) {
	m := newMatch(psm.Hypothesis{Peptide: peptide("PEPTIDEK", "P1", false, false), Score: 7.5,
		MatchedIons: []core.MatchedFragmentIon{ion(core.B, 2, 227.1, 100)}})

	row := Fields(m, false)
	require.Len(t, row, len(Header))
	assert.Equal(t, "PEPTIDEK", row[column("Full Sequence")])
	assert.Equal(t, "T", row[column("Decoy/Contaminant/Target")])
	assert.Equal(t, "Bos taurus", row[column("Organism")])
	assert.Equal(t, "[1 to 8]", row[column("Start and End Residues In Protein")])
	assert.Equal(t, "7.500", row[column("Score")])
	assert.Equal(t, "1", row[column("Matched Ion Count")])
	for _, name := range []string{"QValue", "PEP", "PEP_QValue", "Cumulative Target"} {
		assert.Equal(t, Missing, row[column(name)], name)
	}

	m.FdrInfo = psm.NewFdrInfo()
	m.FdrInfo.QValue = 0.004
	row = Fields(m, false)
	assert.Equal(t, "0.004000", row[column("QValue")])
	assert.Equal(t, Missing, row[column("PEP")], "NaN PEP renders as missing")
}

func TestFieldsAmbiguous(t *testing.T) {
	a := psm.Hypothesis{Peptide: peptide("PEPTIDEK", "P1", false, false), Score: 5}
	b := psm.Hypothesis{Peptide: peptide("PEPTLDEK", "P2", false, false), Score: 5, Notch: 1}
	row := Fields(newMatch(a, b), false)

	assert.Equal(t, "PEPTIDEK|PEPTLDEK", row[column("Base Sequence")])
	assert.Equal(t, "P1|P2", row[column("Accession")])
	assert.Equal(t, "0|1", row[column("Notch")])
	assert.Equal(t, "Bos taurus", row[column("Organism")], "shared values are not repeated")
}

func TestWriterKeepBoth(t *testing.T) {
	target := psm.Hypothesis{Peptide: peptide("PEPTIDEK", "P1", false, false), Score: 5}
	contaminant := psm.Hypothesis{Peptide: peptide("PEPTIDEK", "CON_P1", false, true), Score: 5}
	m := newMatch(target, contaminant)

	var buf bytes.Buffer
	w := NewWriter(&buf, psm.KeepBoth, false)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.Write(m))
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, w.Rows())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Len(t, strings.Split(line, "\t"), len(Header))
	}
	labels := []string{
		strings.Split(lines[1], "\t")[column("Decoy/Contaminant/Target")],
		strings.Split(lines[2], "\t")[column("Decoy/Contaminant/Target")],
	}
	assert.ElementsMatch(t, []string{"T", "C"}, labels)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), PSMFile)
	m := newMatch(psm.Hypothesis{Peptide: peptide("ELVISK", "P9", true, false), Score: 3})
	require.NoError(t, WriteFile(path, []*psm.SpectralMatch{nil, m}, psm.RemoveContaminant, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(Header, "\t"), lines[0])
	assert.Equal(t, "D", strings.Split(lines[1], "\t")[column("Decoy/Contaminant/Target")])
}
