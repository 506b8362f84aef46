package cmd

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmsearch/pkg/config"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/sqlite"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"run.mgf", "mgf"},
		{"/data/Lib.MSP", "msp"},
		{"human.fasta", "fasta"},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := detectFormat(tt.path); got != tt.want {
			t.Errorf("detectFormat(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNewRunID(t *testing.T) {
	a, b := newRunID(), newRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestCollectStats(t *testing.T) {
	rows := []sqlite.MatchRow{
		{Score: 20, FullSequence: sql.NullString{String: "PEPTIDEK", Valid: true}, QValue: sql.NullFloat64{Float64: 0, Valid: true}},
		{Score: 10, QValue: sql.NullFloat64{Float64: 0.5, Valid: true}},
		{Score: 5, IsDecoy: true, FullSequence: sql.NullString{String: "KEDITPEPK", Valid: true}, QValue: sql.NullFloat64{Float64: 0, Valid: true}},
	}
	s := collectStats(rows, 0.01)
	assert.Equal(t, 3, s.Matches)
	assert.Equal(t, 2, s.Targets)
	assert.Equal(t, 1, s.Decoys)
	assert.Equal(t, 1, s.Ambiguous)
	assert.Equal(t, 1, s.Confident)

	p, err := scorePercentiles(s.Scores)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p[1])

	_, err = scorePercentiles(nil)
	assert.Error(t, err)
}

func TestValidateFasta(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "db.fasta")
	require.NoError(t, os.WriteFile(good, []byte(">P1\nPEPTIDEK\n>DECOY_P1\nKEDITPEP\n"), 0o644))
	assert.NoError(t, validateFasta(good))

	bad := filepath.Join(dir, "bad.fasta")
	require.NoError(t, os.WriteFile(bad, []byte(">P1\nPEP1IDEK\n"), 0o644))
	assert.Error(t, validateFasta(bad))

	empty := filepath.Join(dir, "empty.fasta")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.Error(t, validateFasta(empty))
}

func TestValidateSpectra(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "run.mgf")
	mgf := "BEGIN IONS\nTITLE=s1\nPEPMASS=500.25\nCHARGE=2+\n200.1 10\n300.2 20\nEND IONS\n"
	require.NoError(t, os.WriteFile(good, []byte(mgf), 0o644))
	assert.NoError(t, validateSpectra(good))

	noCharge := filepath.Join(dir, "nocharge.mgf")
	require.NoError(t, os.WriteFile(noCharge, []byte("BEGIN IONS\nPEPMASS=500.25\n200.1 10\nEND IONS\n"), 0o644))
	assert.Error(t, validateSpectra(noCharge))

	_, _, err := openSpectra(filepath.Join(dir, "run.raw"))
	assert.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "settings.yaml")
	c := config.Defaults()
	require.NoError(t, c.Save(good))
	assert.NoError(t, validateSettings(good))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("search:\n  acceptor: Sideways\n"), 0o644))
	assert.Error(t, validateSettings(bad))
}
