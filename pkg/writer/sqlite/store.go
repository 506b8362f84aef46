package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
)

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("search run not found")

// RunRow is a SearchRun row.
type RunRow struct {
	RunID              string `db:"RunId"`
	CreationDate       string `db:"CreationDate"`
	Engine             string `db:"Engine"`
	Dissociation       string `db:"Dissociation"`
	PrecursorTolerance string `db:"PrecursorTolerance"`
	ProductTolerance   string `db:"ProductTolerance"`
	Acceptor           string `db:"Acceptor"`
	SpectraFile        string `db:"SpectraFile"`
	DatabaseFile       string `db:"DatabaseFile"`
	Config             string `db:"Config"`
}

// MatchRow is a PsmTable row.
type MatchRow struct {
	PsmID            int64           `db:"PsmId"`
	ScanNumber       int             `db:"ScanNumber"`
	Title            string          `db:"Title"`
	PrecursorCharge  int             `db:"PrecursorCharge"`
	PrecursorMass    float64         `db:"PrecursorMass"`
	Score            float64         `db:"Score"`
	DeltaScore       float64         `db:"DeltaScore"`
	FullSequence     sql.NullString  `db:"FullSequence"`
	Accession        sql.NullString  `db:"Accession"`
	Notch            sql.NullInt64   `db:"Notch"`
	Label            string          `db:"Label"`
	IsDecoy          bool            `db:"IsDecoy"`
	QValue           sql.NullFloat64 `db:"QValue"`
	PEP              sql.NullFloat64 `db:"PEP"`
	PsmCount         int             `db:"PsmCount"`
	MatchedIonSeries string          `db:"MatchedIonSeries"`
	MatchedMz        []byte          `db:"blobMatchedMz"`
}

// SummaryRow is a RunSummary row.
type SummaryRow struct {
	RunID             string  `db:"RunId"`
	FinishedDate      string  `db:"FinishedDate"`
	Spectra           int     `db:"Spectra"`
	PSMs              int     `db:"Psms"`
	ConfidentPSMs     int     `db:"ConfidentPsms"`
	ConfidentPeptides int     `db:"ConfidentPeptides"`
	Failed            int     `db:"Failed"`
	ElapsedSeconds    float64 `db:"ElapsedSeconds"`
}

// Store reads results back from a database written by Writer.
type Store struct {
	db *sqlx.DB
}

// Open opens an existing results database.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadRuns returns every run, oldest first.
func (s *Store) LoadRuns(ctx context.Context) ([]RunRow, error) {
	var runs []RunRow
	err := s.db.SelectContext(ctx, &runs, `
		SELECT RunId, CreationDate, Engine, Dissociation, PrecursorTolerance, ProductTolerance,
			Acceptor, SpectraFile, DatabaseFile, Config
		FROM SearchRun
		ORDER BY CreationDate, RunId
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	return runs, nil
}

// LoadRun returns one run.
func (s *Store) LoadRun(ctx context.Context, runID string) (*RunRow, error) {
	var run RunRow
	err := s.db.GetContext(ctx, &run, `
		SELECT RunId, CreationDate, Engine, Dissociation, PrecursorTolerance, ProductTolerance,
			Acceptor, SpectraFile, DatabaseFile, Config
		FROM SearchRun
		WHERE RunId = ?
	`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

// LoadMatches returns the matches of a run in insertion order.
func (s *Store) LoadMatches(ctx context.Context, runID string) ([]MatchRow, error) {
	var rows []MatchRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT PsmId, ScanNumber, Title, PrecursorCharge, PrecursorMass, Score, DeltaScore,
			FullSequence, Accession, Notch, Label, IsDecoy, QValue, PEP, PsmCount,
			MatchedIonSeries, blobMatchedMz
		FROM PsmTable
		WHERE RunId = ?
		ORDER BY PsmId
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches of run %s: %w", runID, err)
	}
	return rows, nil
}

// LoadSummary returns the totals recorded when the run finished.
func (s *Store) LoadSummary(ctx context.Context, runID string) (*SummaryRow, error) {
	var sum SummaryRow
	err := s.db.GetContext(ctx, &sum, `
		SELECT RunId, FinishedDate, Spectra, Psms, ConfidentPsms, ConfidentPeptides, Failed, ElapsedSeconds
		FROM RunSummary
		WHERE RunId = ?
	`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s has no summary", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary of run %s: %w", runID, err)
	}
	return &sum, nil
}

// HypothesisCount returns the number of hypotheses stored for a match.
func (s *Store) HypothesisCount(ctx context.Context, psmID int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM HypothesisTable WHERE PsmId = ?`, psmID); err != nil {
		return 0, fmt.Errorf("failed to count hypotheses of psm %d: %w", psmID, err)
	}
	return n, nil
}
