package xlsx

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/tsv"
)

var reg = core.DefaultRegistry()

func scored(scan int, seq string, decoy bool, q float64) *psm.SpectralMatch {
	prot := &core.Protein{Accession: "P" + seq, Sequence: seq, IsDecoy: decoy}
	pep := core.NewPeptide(reg, prot, 1, len(seq), nil, 0)
	acc := psm.Fold(psm.NewAccumulator(0), psm.Hypothesis{Peptide: pep, Score: 12}, true)
	spec := &core.Spectrum{ScanNumber: scan, PrecursorCharge: 2, PrecursorMass: pep.MonoisotopicMass}
	m := psm.NewSpectralMatch(spec, scan, acc)
	m.ResolveAllAmbiguities()
	m.FdrInfo = psm.NewFdrInfo()
	m.FdrInfo.QValue = q
	return m
}

func TestWorkbook(t *testing.T) {
	matches := []*psm.SpectralMatch{
		scored(1, "PEPTIDEK", false, 0),
		scored(2, "ELVISK", false, 0.5),
		scored(3, "KEDITPEPK", true, 0),
		nil,
	}
	path := filepath.Join(t.TempDir(), FileName)

	wb := NewWorkbook(0.01, psm.RemoveContaminant)
	require.NoError(t, wb.AddPSMs(matches))
	assert.Equal(t, 1, wb.Rows("PSMs"))
	require.NoError(t, wb.Save(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"PSMs"}, f.GetSheetList())
	rows, err := f.GetRows("PSMs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, tsv.Header[0:3], rows[0][0:3])

	seqCol := -1
	for i, h := range tsv.Header {
		if h == "Full Sequence" {
			seqCol = i
		}
	}
	assert.Equal(t, "PEPTIDEK", rows[1][seqCol])

	scan, err := f.GetCellValue("PSMs", "B2")
	require.NoError(t, err)
	assert.Equal(t, "1", scan)
}

func TestWorkbookPeptideSheetNeedsPeptideFdr(t *testing.T) {
	m := scored(1, "PEPTIDEK", false, 0)
	wb := NewWorkbook(0.01, psm.RemoveContaminant)
	require.NoError(t, wb.AddPeptides([]*psm.SpectralMatch{m}))
	assert.Zero(t, wb.Rows("Peptides"), "no peptide-level FDR info yet")

	m.PeptideFdrInfo = psm.NewFdrInfo()
	wb = NewWorkbook(0.01, psm.RemoveContaminant)
	require.NoError(t, wb.AddPeptides([]*psm.SpectralMatch{m}))
	assert.Equal(t, 1, wb.Rows("Peptides"))
}
