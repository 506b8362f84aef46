package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/digest"
	"github.com/ChrisMcGann/psmsearch/pkg/mda"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
)

func TestDefaultsAreValid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, EngineModern, c.Search.Engine)
	assert.Equal(t, "5 ppm", c.Search.PrecursorTolerance)
	assert.Equal(t, "trypsin", c.Digestion.Protease)
	assert.Equal(t, 0.01, c.FDR.QValueThreshold)
	assert.True(t, c.Output.TSV)
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	settings := `
search:
  engine: classic
  acceptor: Open
  precursor-tolerance: 10 ppm
digestion:
  missed-cleavages: 1
  decoys: false
fdr:
  q-value: 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, EngineClassic, c.Search.Engine)
	assert.Equal(t, mda.OpenSearch, c.Search.Acceptor)
	assert.Equal(t, 1, c.Digestion.MissedCleavages)
	assert.False(t, c.Digestion.Decoys)
	assert.Equal(t, 0.05, c.FDR.QValueThreshold)

	// untouched keys keep their defaults
	assert.Equal(t, "20 ppm", c.Search.ProductTolerance)
	assert.Equal(t, 7, c.Digestion.MinLength)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PSMSEARCH_SEARCH_SCORE_CUTOFF", "12.5")
	t.Setenv("PSMSEARCH_FDR_PEPTIDE_LEVEL", "false")

	v := viper.New()
	SetDefaults(v)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 12.5, c.Search.ScoreCutoff)
	assert.False(t, c.FDR.PeptideLevel)
}

func TestValidateAggregates(t *testing.T) {
	c := Defaults()
	c.Search.Engine = "quantum"
	c.Search.ProductTolerance = "20"
	c.Digestion.Protease = "nope"
	c.FDR.QValueThreshold = 2

	err := c.Validate()
	require.Error(t, err)

	var vErr *core.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "search.engine")
	assert.Contains(t, vErr.Message, "product tolerance")
	assert.Contains(t, vErr.Message, "nope")
	assert.Contains(t, vErr.Message, "fdr.q-value")
}

func TestSearchParams(t *testing.T) {
	c := Defaults()
	c.Search.Dissociation = "etd"
	c.Search.ContaminantPolicy = "KeepBoth"

	p, err := c.SearchParams(nil)
	require.NoError(t, err)
	assert.Equal(t, core.ETD, p.Dissociation)
	assert.Equal(t, psm.KeepBoth, p.ContaminantPolicy)
	assert.Equal(t, 2, p.Acceptor.NumNotches())
	assert.Equal(t, core.PPM, p.ProductTolerance.Unit)

	c.Search.Acceptor = "Sideways"
	_, err = c.SearchParams(nil)
	assert.ErrorIs(t, err, mda.ErrUnknownAcceptor)

	c = Defaults()
	c.Search.Dissociation = "photons"
	_, err = c.SearchParams(nil)
	assert.ErrorIs(t, err, core.ErrUnknownDissociation)

	c = Defaults()
	c.Search.PrecursorTolerance = "five"
	_, err = c.SearchParams(nil)
	assert.ErrorIs(t, err, core.ErrInvalidTolerance)
}

func TestDigestParams(t *testing.T) {
	c := Defaults()
	p, err := c.DigestParams(core.DefaultRegistry(), digest.DefaultProteases())
	require.NoError(t, err)
	assert.Equal(t, "trypsin", p.Protease.Name)
	require.Len(t, p.FixedMods, 1)
	require.Len(t, p.VariableMods, 1)

	c.Digestion.VariableMods = "Oxidation"
	_, err = c.DigestParams(core.DefaultRegistry(), digest.DefaultProteases())
	assert.Error(t, err)
}

func TestFDRParams(t *testing.T) {
	c := Defaults()
	p := c.FDRParams(3, nil)
	assert.Equal(t, 3, p.NumNotches)
	assert.NotNil(t, p.PEPModel)

	c.FDR.PEP = false
	assert.Nil(t, c.FDRParams(3, nil).PEPModel)
}

func TestSaveRoundTrip(t *testing.T) {
	c := Defaults()
	c.RunID = "0192b3c4-0000-7000-8000-000000000000"
	c.Filter.TopN = 150
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, c.Save(path))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	got, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, c, *got)
}
