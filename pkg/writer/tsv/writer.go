// Package tsv writes spectral matches as tab-separated tables
package tsv

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

// Missing is written for values that are not available, such as FDR fields
// before the FDR pass.
const Missing = " "

// Output file names.
const (
	PSMFile     = "AllPSMs.psmtsv"
	PeptideFile = "AllPeptides.psmtsv"
)

// Header lists the columns of every row, in order.
var Header = []string{
	"File Name",
	"Scan Number",
	"Scan Retention Time",
	"Precursor Charge",
	"Precursor MZ",
	"Precursor Mass",
	"Score",
	"Delta Score",
	"Notch",
	"Base Sequence",
	"Full Sequence",
	"Mods",
	"Mods Chemical Formulas",
	"Accession",
	"Organism",
	"Start and End Residues In Protein",
	"Peptide Monoisotopic Mass",
	"Mass Diff (Da)",
	"Mass Diff (ppm)",
	"Matched Ion Series",
	"Matched Ion Mass-To-Charge Ratios",
	"Matched Ion Intensities",
	"Matched Ion Count",
	"Decoy/Contaminant/Target",
	"Cumulative Target",
	"Cumulative Decoy",
	"QValue",
	"Cumulative Target Notch",
	"Cumulative Decoy Notch",
	"QValue Notch",
	"PEP",
	"PEP_QValue",
	"PSM Count",
}

// Writer writes one row per reported match.
type Writer struct {
	w            *bufio.Writer
	policy       psm.ContaminantPolicy
	peptideLevel bool
	rows         int
}

// NewWriter creates a writer. With peptideLevel set, FDR columns come from
// the peptide-level FDR info.
func NewWriter(w io.Writer, policy psm.ContaminantPolicy, peptideLevel bool) *Writer {
	return &Writer{w: bufio.NewWriter(w), policy: policy, peptideLevel: peptideLevel}
}

// WriteHeader writes the column names.
func (w *Writer) WriteHeader() error {
	return w.writeLine(Header)
}

// Write writes the rows of one match. KeepBoth matches tied between target
// and contaminant peptides produce two rows.
func (w *Writer) Write(m *psm.SpectralMatch) error {
	for _, row := range m.ReportingRows(w.policy) {
		if err := w.writeLine(Fields(row, w.peptideLevel)); err != nil {
			return err
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int { return w.rows }

// Flush flushes buffered rows.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

var sanitizer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func (w *Writer) writeLine(fields []string) error {
	clean := make([]string, len(fields))
	for i, f := range fields {
		clean[i] = sanitizer.Replace(f)
	}
	if _, err := w.w.WriteString(strings.Join(clean, "\t") + "\n"); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

// WriteFile writes matches to path. Nil matches are skipped.
func WriteFile(path string, matches []*psm.SpectralMatch, policy psm.ContaminantPolicy, peptideLevel bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := NewWriter(f, policy, peptideLevel)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, m := range matches {
		if m == nil {
			continue
		}
		if err := w.Write(m); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

// Fields renders a match as one row in Header order. Per-hypothesis values
// are joined with "|" when the hypotheses disagree.
func Fields(m *psm.SpectralMatch, peptideLevel bool) []string {
	spec := m.Spectrum
	hs := m.Hypotheses()

	var base, full, mods, formulas, accessions, organisms, spans, series, mzs, intensities []string
	var masses []float64
	var counts []int
	for _, h := range hs {
		pep := h.Peptide
		base = append(base, pep.BaseSequence)
		full = append(full, pep.FullSequence())
		mods = append(mods, modSummary(pep))
		formulas = append(formulas, pep.ModsFormula().String())
		accessions = append(accessions, pep.Accession())
		organism := ""
		if pep.Protein != nil {
			organism = pep.Protein.Organism
		}
		organisms = append(organisms, organism)
		spans = append(spans, fmt.Sprintf("[%d to %d]", pep.StartResidue, pep.EndResidue))
		masses = append(masses, pep.MonoisotopicMass)

		s, z, i := IonSeries(h.MatchedIons)
		series = append(series, s)
		mzs = append(mzs, z)
		intensities = append(intensities, i)
		counts = append(counts, len(h.MatchedIons))
	}

	notches := make([]int, len(hs))
	for i, h := range hs {
		notches[i] = h.Notch
	}

	label := "T"
	switch {
	case m.IsDecoy:
		label = "D"
	case m.IsContaminant:
		label = "C"
	}

	info := m.FdrInfo
	if peptideLevel {
		info = m.PeptideFdrInfo
	}

	row := []string{
		spec.FileName,
		strconv.Itoa(spec.ScanNumber),
		formatFloat(spec.RetentionTime, 5),
		strconv.Itoa(spec.PrecursorCharge),
		formatFloat(spec.PrecursorMZ, 5),
		formatFloat(spec.PrecursorMass, 5),
		formatFloat(m.Score, 3),
		formatFloat(m.DeltaScore(), 3),
		psm.JoinInts(notches),
		psm.JoinStrings(base),
		psm.JoinStrings(full),
		psm.JoinStrings(mods),
		psm.JoinStrings(formulas),
		psm.JoinStrings(accessions),
		psm.JoinStrings(organisms),
		psm.JoinStrings(spans),
		psm.JoinFloats(masses),
		psm.JoinFloats(m.PrecursorMassErrorDa),
		psm.JoinFloats(m.PrecursorMassErrorPpm),
		psm.JoinStrings(series),
		psm.JoinStrings(mzs),
		psm.JoinStrings(intensities),
		psm.JoinInts(counts),
		label,
	}
	row = append(row, fdrFields(info)...)
	return append(row, strconv.Itoa(m.PsmCount))
}

func fdrFields(info *psm.FdrInfo) []string {
	if info == nil {
		out := make([]string, 8)
		for i := range out {
			out[i] = Missing
		}
		return out
	}
	return []string{
		formatFloat(info.CumulativeTarget, 3),
		formatFloat(info.CumulativeDecoy, 3),
		formatFloat(info.QValue, 6),
		formatFloat(info.CumulativeTargetNotch, 3),
		formatFloat(info.CumulativeDecoyNotch, 3),
		formatFloat(info.QValueNotch, 6),
		formatFloat(info.PEP, 6),
		formatFloat(info.PEPQValue, 6),
	}
}

// IonSeries renders matched ions grouped by product type, each group sorted
// by fragment number: "[b1+1, b2+1];[y1+1]" with parallel m/z and intensity
// strings.
func IonSeries(ions []core.MatchedFragmentIon) (series, mzs, intensities string) {
	if len(ions) == 0 {
		return "", "", ""
	}
	sorted := append([]core.MatchedFragmentIon(nil), ions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Product, sorted[j].Product
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.FragmentNumber != b.FragmentNumber {
			return a.FragmentNumber < b.FragmentNumber
		}
		return sorted[i].Charge < sorted[j].Charge
	})

	var s, z, in []string
	var gs, gz, gi []string
	flush := func() {
		s = append(s, "["+strings.Join(gs, ", ")+"]")
		z = append(z, "["+strings.Join(gz, ", ")+"]")
		in = append(in, "["+strings.Join(gi, ", ")+"]")
		gs, gz, gi = nil, nil, nil
	}
	for i, ion := range sorted {
		if i > 0 && ion.Product.Type != sorted[i-1].Product.Type {
			flush()
		}
		a := ion.Annotation()
		gs = append(gs, a)
		gz = append(gz, a+":"+strconv.FormatFloat(ion.Mz, 'f', 5, 64))
		gi = append(gi, a+":"+strconv.FormatFloat(ion.Intensity, 'f', 0, 64))
	}
	flush()
	return strings.Join(s, ";"), strings.Join(z, ";"), strings.Join(in, ";")
}

// modSummary lists a peptide's modifications as "Name on X" in position order.
func modSummary(pep *core.Peptide) string {
	keys := pep.ModKeys()
	if len(keys) == 0 {
		return ""
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		mod := pep.Mods[k]
		var site string
		switch {
		case k == 1:
			site = "N-terminus"
		case k == pep.Length()+2:
			site = "C-terminus"
		default:
			site = string(pep.BaseSequence[k-2])
		}
		parts = append(parts, mod.Name+" on "+site)
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64, decimals int) string {
	if math.IsNaN(v) {
		return Missing
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
