// Package xlsx exports confident spectral matches as a spreadsheet workbook
package xlsx

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/tsv"
)

const (
	// FileName is the workbook written next to the TSV results.
	FileName = "confident.xlsx"

	psmSheet     = "PSMs"
	peptideSheet = "Peptides"
)

// numericColumns are written as numbers rather than text.
var numericColumns = map[string]bool{
	"Scan Number":               true,
	"Scan Retention Time":       true,
	"Precursor Charge":          true,
	"Precursor MZ":              true,
	"Precursor Mass":            true,
	"Score":                     true,
	"Delta Score":               true,
	"Peptide Monoisotopic Mass": true,
	"Cumulative Target":         true,
	"Cumulative Decoy":          true,
	"QValue":                    true,
	"QValue Notch":              true,
	"PEP":                       true,
	"PEP_QValue":                true,
	"PSM Count":                 true,
}

// Workbook collects sheets before saving.
type Workbook struct {
	f         *excelize.File
	threshold float64
	policy    psm.ContaminantPolicy
	rows      map[string]int
}

// NewWorkbook creates a workbook keeping target matches with q-value at or
// below threshold.
func NewWorkbook(threshold float64, policy psm.ContaminantPolicy) *Workbook {
	return &Workbook{f: excelize.NewFile(), threshold: threshold, policy: policy, rows: map[string]int{}}
}

// AddPSMs writes the confident PSMs sheet.
func (w *Workbook) AddPSMs(matches []*psm.SpectralMatch) error {
	return w.addSheet(psmSheet, matches, false)
}

// AddPeptides writes the confident peptides sheet.
func (w *Workbook) AddPeptides(matches []*psm.SpectralMatch) error {
	return w.addSheet(peptideSheet, matches, true)
}

// Rows returns the number of data rows written to a sheet.
func (w *Workbook) Rows(sheet string) int { return w.rows[sheet] }

func (w *Workbook) addSheet(sheet string, matches []*psm.SpectralMatch, peptideLevel bool) error {
	idx, err := w.f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to add sheet %s: %w", sheet, err)
	}
	if sheet == psmSheet {
		w.f.SetActiveSheet(idx)
	}

	// Header row
	for i, h := range tsv.Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := w.f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	// Data rows
	rowIdx := 2
	for _, m := range matches {
		if m == nil || m.IsDecoy {
			continue
		}
		info := m.FdrInfo
		if peptideLevel {
			info = m.PeptideFdrInfo
		}
		if info == nil || info.QValue > w.threshold {
			continue
		}
		for _, row := range m.ReportingRows(w.policy) {
			for c, v := range tsv.Fields(row, peptideLevel) {
				cell, _ := excelize.CoordinatesToCellName(c+1, rowIdx)
				if err := w.f.SetCellValue(sheet, cell, cellValue(tsv.Header[c], v)); err != nil {
					return err
				}
			}
			rowIdx++
		}
	}
	w.rows[sheet] = rowIdx - 2
	return nil
}

func cellValue(column, v string) interface{} {
	if !numericColumns[column] {
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// Save writes the workbook to path. The default empty sheet is dropped when
// other sheets were added.
func (w *Workbook) Save(path string) error {
	if len(w.rows) > 0 {
		if err := w.f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("failed to drop default sheet: %w", err)
		}
	}
	if err := w.f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return w.f.Close()
}
