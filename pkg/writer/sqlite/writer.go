// Package sqlite persists search runs and their spectral matches in SQLite
// database files
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/tsv"
)

const (
	// Date format for SearchRun and RunSummary (ISO 8601)
	dateFormat = "2006-01-02 15:04:05"

	// FileName is the database written next to the TSV results.
	FileName = "results.db"
)

// Run describes one search run.
type Run struct {
	ID                 string
	Engine             string
	Dissociation       string
	PrecursorTolerance string
	ProductTolerance   string
	Acceptor           string
	SpectraFile        string
	DatabaseFile       string
	Config             string // effective configuration as YAML
	Created            time.Time
}

// Summary holds the run totals written by Finalize.
type Summary struct {
	Spectra           int
	PSMs              int
	ConfidentPSMs     int
	ConfidentPeptides int
	Failed            int
	Elapsed           time.Duration
}

// Writer handles writing one search run to a SQLite database file
type Writer struct {
	db             *sql.DB
	tx             *sql.Tx
	outputPath     string
	runID          string
	psmStmt        *sql.Stmt
	hypothesisStmt *sql.Stmt
	psmID          int64
}

// NewWriter opens (or creates) the database at outputPath and records run.
func NewWriter(outputPath string, run Run) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
		runID:      run.ID,
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.nextPsmID(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.insertRun(run); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS SearchRun (
		RunId TEXT PRIMARY KEY,
		CreationDate TEXT,
		Engine TEXT,
		Dissociation TEXT,
		PrecursorTolerance TEXT,
		ProductTolerance TEXT,
		Acceptor TEXT,
		SpectraFile TEXT,
		DatabaseFile TEXT,
		Config TEXT
	);

	CREATE TABLE IF NOT EXISTS PsmTable (
		PsmId INTEGER PRIMARY KEY,
		RunId TEXT REFERENCES SearchRun(RunId),
		FileName TEXT,
		ScanNumber INTEGER,
		Title TEXT,
		RetentionTime DOUBLE,
		PrecursorCharge INTEGER,
		PrecursorMZ DOUBLE,
		PrecursorMass DOUBLE,
		Score DOUBLE,
		RunnerUpScore DOUBLE,
		DeltaScore DOUBLE,
		FullSequence TEXT,
		BaseSequence TEXT,
		Accession TEXT,
		Notch INTEGER,
		Label TEXT,
		IsDecoy BOOL,
		IsContaminant BOOL,
		CumulativeTarget DOUBLE,
		CumulativeDecoy DOUBLE,
		QValue DOUBLE,
		QValueNotch DOUBLE,
		PEP DOUBLE,
		PEPQValue DOUBLE,
		PsmCount INTEGER,
		MatchedIonSeries TEXT,
		blobMatchedMz BLOB,
		blobMatchedIntensity BLOB
	);

	CREATE TABLE IF NOT EXISTS HypothesisTable (
		PsmId INTEGER REFERENCES PsmTable(PsmId),
		Rank INTEGER,
		FullSequence TEXT,
		Accession TEXT,
		StartResidue INTEGER,
		EndResidue INTEGER,
		Notch INTEGER,
		Score DOUBLE,
		PeptideMass DOUBLE,
		IsDecoy BOOL,
		IsContaminant BOOL,
		MatchedIonCount INTEGER
	);

	CREATE TABLE IF NOT EXISTS RunSummary (
		RunId TEXT REFERENCES SearchRun(RunId),
		FinishedDate TEXT,
		Spectra INTEGER,
		Psms INTEGER,
		ConfidentPsms INTEGER,
		ConfidentPeptides INTEGER,
		Failed INTEGER,
		ElapsedSeconds DOUBLE
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// nextPsmID continues numbering after rows of earlier runs in the same file
func (w *Writer) nextPsmID() error {
	var last sql.NullInt64
	if err := w.db.QueryRow(`SELECT MAX(PsmId) FROM PsmTable`).Scan(&last); err != nil {
		return fmt.Errorf("failed to read last psm id: %w", err)
	}
	w.psmID = last.Int64 + 1
	return nil
}

func (w *Writer) insertRun(run Run) error {
	created := run.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := w.db.Exec(`
		INSERT INTO SearchRun (RunId, CreationDate, Engine, Dissociation, PrecursorTolerance, ProductTolerance, Acceptor, SpectraFile, DatabaseFile, Config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, created.Format(dateFormat), run.Engine, run.Dissociation, run.PrecursorTolerance,
		run.ProductTolerance, run.Acceptor, run.SpectraFile, run.DatabaseFile, run.Config)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// prepareStatements prepares SQL statements for batch insertion inside one
// transaction
func (w *Writer) prepareStatements() error {
	var err error

	w.tx, err = w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	w.psmStmt, err = w.tx.Prepare(`
		INSERT INTO PsmTable (
			PsmId, RunId, FileName, ScanNumber, Title, RetentionTime,
			PrecursorCharge, PrecursorMZ, PrecursorMass, Score, RunnerUpScore,
			DeltaScore, FullSequence, BaseSequence, Accession, Notch, Label,
			IsDecoy, IsContaminant, CumulativeTarget, CumulativeDecoy, QValue,
			QValueNotch, PEP, PEPQValue, PsmCount, MatchedIonSeries,
			blobMatchedMz, blobMatchedIntensity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		w.tx.Rollback()
		return fmt.Errorf("failed to prepare psm statement: %w", err)
	}

	w.hypothesisStmt, err = w.tx.Prepare(`
		INSERT INTO HypothesisTable (
			PsmId, Rank, FullSequence, Accession, StartResidue, EndResidue,
			Notch, Score, PeptideMass, IsDecoy, IsContaminant, MatchedIonCount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		w.tx.Rollback()
		return fmt.Errorf("failed to prepare hypothesis statement: %w", err)
	}

	return nil
}

// WriteMatch writes a match and its hypotheses. Nil matches are skipped.
func (w *Writer) WriteMatch(m *psm.SpectralMatch) error {
	if m == nil {
		return nil
	}
	spec := m.Spectrum

	label := "T"
	switch {
	case m.IsDecoy:
		label = "D"
	case m.IsContaminant:
		label = "C"
	}

	var notch interface{}
	if m.Notch != nil {
		notch = *m.Notch
	}

	// FDR columns stay NULL before the FDR pass
	var cumTarget, cumDecoy, q, qNotch, pep, pepQ interface{}
	if fi := m.FdrInfo; fi != nil {
		cumTarget, cumDecoy = fi.CumulativeTarget, fi.CumulativeDecoy
		q, qNotch = fi.QValue, fi.QValueNotch
		pep, pepQ = nullFloat(fi.PEP), nullFloat(fi.PEPQValue)
	}

	series, _, _ := tsv.IonSeries(m.MatchedIons)
	mzs := make([]float64, len(m.MatchedIons))
	intensities := make([]float64, len(m.MatchedIons))
	for i, ion := range m.MatchedIons {
		mzs[i] = ion.Mz
		intensities[i] = ion.Intensity
	}

	_, err := w.psmStmt.Exec(
		w.psmID,              // PsmId
		w.runID,              // RunId
		spec.FileName,        // FileName
		spec.ScanNumber,      // ScanNumber
		spec.Name(),          // Title
		spec.RetentionTime,   // RetentionTime
		spec.PrecursorCharge, // PrecursorCharge
		spec.PrecursorMZ,     // PrecursorMZ
		spec.PrecursorMass,   // PrecursorMass
		m.Score,              // Score
		m.RunnerUpScore,      // RunnerUpScore
		m.DeltaScore(),       // DeltaScore
		nullString(m.FullSequence),
		nullString(m.BaseSequence),
		nullString(m.Accession),
		notch,           // Notch
		label,           // Label
		m.IsDecoy,       // IsDecoy
		m.IsContaminant, // IsContaminant
		cumTarget,
		cumDecoy,
		q,
		qNotch,
		pep,
		pepQ,
		m.PsmCount, // PsmCount
		series,     // MatchedIonSeries
		encodeFloat64s(mzs),
		encodeFloat64s(intensities),
	)
	if err != nil {
		return fmt.Errorf("failed to insert psm for scan %d: %w", spec.ScanNumber, err)
	}

	for rank, h := range m.Hypotheses() {
		pep := h.Peptide
		_, err := w.hypothesisStmt.Exec(
			w.psmID,
			rank,
			pep.FullSequence(),
			pep.Accession(),
			pep.StartResidue,
			pep.EndResidue,
			h.Notch,
			h.Score,
			pep.MonoisotopicMass,
			pep.IsDecoy(),
			pep.IsContaminant(),
			len(h.MatchedIons),
		)
		if err != nil {
			return fmt.Errorf("failed to insert hypothesis for scan %d: %w", spec.ScanNumber, err)
		}
	}

	w.psmID++
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// encodeFloat64s encodes values as a little-endian float64 blob
func encodeFloat64s(values []float64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloat64s reverses the blob encoding used for matched ion columns.
func DecodeFloat64s(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(blob))
	}
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out, nil
}

// Finalize writes the run summary, commits and closes the database
func (w *Writer) Finalize(summary Summary) error {
	// Write RunSummary
	_, err := w.tx.Exec(`
		INSERT INTO RunSummary (RunId, FinishedDate, Spectra, Psms, ConfidentPsms, ConfidentPeptides, Failed, ElapsedSeconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.runID, time.Now().Format(dateFormat), summary.Spectra, summary.PSMs, summary.ConfidentPSMs,
		summary.ConfidentPeptides, summary.Failed, summary.Elapsed.Seconds())
	if err != nil {
		w.abort()
		return fmt.Errorf("failed to insert summary: %w", err)
	}

	// Close prepared statements
	w.psmStmt.Close()
	w.hypothesisStmt.Close()

	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return fmt.Errorf("failed to commit results: %w", err)
	}

	// Close database
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Close discards uncommitted rows and closes the database. Use Finalize to
// keep the results.
func (w *Writer) Close() error {
	w.abort()
	return nil
}

func (w *Writer) abort() {
	if w.psmStmt != nil {
		w.psmStmt.Close()
	}
	if w.hypothesisStmt != nil {
		w.hypothesisStmt.Close()
	}
	if w.tx != nil {
		w.tx.Rollback()
	}
	w.db.Close()
}
