// Package config is for run wide settings that are unmarshalled
// from Viper (see: /cmd/psmsearch/cmd)
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/digest"
	"github.com/ChrisMcGann/psmsearch/pkg/fdr"
	"github.com/ChrisMcGann/psmsearch/pkg/filter"
	"github.com/ChrisMcGann/psmsearch/pkg/index"
	"github.com/ChrisMcGann/psmsearch/pkg/mda"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/search"
)

// EnvPrefix prefixes environment overrides, e.g. PSMSEARCH_SEARCH_ENGINE.
const EnvPrefix = "PSMSEARCH"

// FileName is the effective configuration written next to the results.
const FileName = "search_config.yaml"

// Engine names.
const (
	EngineModern  = "modern"
	EngineClassic = "classic"
)

// SearchConfig settings about the search engine
type SearchConfig struct {
	// modern (fragment index) or classic (brute force)
	Engine string `mapstructure:"engine" yaml:"engine"`

	Dissociation       string `mapstructure:"dissociation" yaml:"dissociation"`
	PrecursorTolerance string `mapstructure:"precursor-tolerance" yaml:"precursor-tolerance"`
	ProductTolerance   string `mapstructure:"product-tolerance" yaml:"product-tolerance"`

	// a named acceptor, or Custom with CustomAcceptor holding its definition
	Acceptor       string `mapstructure:"acceptor" yaml:"acceptor"`
	CustomAcceptor string `mapstructure:"custom-acceptor" yaml:"custom-acceptor"`

	ScoreCutoff          float64 `mapstructure:"score-cutoff" yaml:"score-cutoff"`
	AddComplementaryIons bool    `mapstructure:"comp-ions" yaml:"comp-ions"`
	ReportAllAmbiguity   bool    `mapstructure:"report-all-ambiguity" yaml:"report-all-ambiguity"`
	MatchAllCharges      bool    `mapstructure:"match-all-charges" yaml:"match-all-charges"`
	ContaminantPolicy    string  `mapstructure:"contaminant-policy" yaml:"contaminant-policy"`

	// reverse decoys generated per candidate during a classic search
	DecoysOnTheFly bool `mapstructure:"decoys-on-the-fly" yaml:"decoys-on-the-fly"`

	Workers         int     `mapstructure:"workers" yaml:"workers"`
	MaxFragmentMass float64 `mapstructure:"max-fragment-mass" yaml:"max-fragment-mass"`
	IndexPartitions int     `mapstructure:"index-partitions" yaml:"index-partitions"`
}

// DigestionConfig settings about in-silico digestion
type DigestionConfig struct {
	Protease                  string `mapstructure:"protease" yaml:"protease"`
	MissedCleavages           int    `mapstructure:"missed-cleavages" yaml:"missed-cleavages"`
	MinLength                 int    `mapstructure:"min-length" yaml:"min-length"`
	MaxLength                 int    `mapstructure:"max-length" yaml:"max-length"`
	CleaveInitiatorMethionine bool   `mapstructure:"cleave-initiator-methionine" yaml:"cleave-initiator-methionine"`

	// mod lists like "Carbamidomethyl@C;Oxidation@M"
	FixedMods         string `mapstructure:"fixed-mods" yaml:"fixed-mods"`
	VariableMods      string `mapstructure:"variable-mods" yaml:"variable-mods"`
	MaxModsPerPeptide int    `mapstructure:"max-mods" yaml:"max-mods"`
	MaxIsoforms       int    `mapstructure:"max-isoforms" yaml:"max-isoforms"`

	// extra modifications in name,mass,target[,formula] CSV format
	ModificationsCSV string `mapstructure:"modifications-csv" yaml:"modifications-csv"`

	// append reversed decoy proteins to the database
	Decoys bool `mapstructure:"decoys" yaml:"decoys"`

	// FASTA of contaminant proteins searched alongside the database
	Contaminants string `mapstructure:"contaminants" yaml:"contaminants"`
}

// FilterConfig settings about peak preprocessing
type FilterConfig struct {
	TopN            int     `mapstructure:"top-n" yaml:"top-n"`
	IntensityCutoff float64 `mapstructure:"cutoff" yaml:"cutoff"`
	MinMZ           float64 `mapstructure:"min-mz" yaml:"min-mz"`
	MaxMZ           float64 `mapstructure:"max-mz" yaml:"max-mz"`
	WindowWidth     float64 `mapstructure:"window-width" yaml:"window-width"`
	TopNPerWindow   int     `mapstructure:"top-n-per-window" yaml:"top-n-per-window"`
	PrecursorWindow float64 `mapstructure:"precursor-window" yaml:"precursor-window"`
}

// FDRConfig settings about target-decoy statistics
type FDRConfig struct {
	UseDeltaScore      bool    `mapstructure:"delta-score" yaml:"delta-score"`
	PEP                bool    `mapstructure:"pep" yaml:"pep"`
	MinPEPTrainingSize int     `mapstructure:"min-pep-training" yaml:"min-pep-training"`
	PeptideLevel       bool    `mapstructure:"peptide-level" yaml:"peptide-level"`
	QValueThreshold    float64 `mapstructure:"q-value" yaml:"q-value"`
}

// OutputConfig settings about what gets written
type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	TSV       bool   `mapstructure:"tsv" yaml:"tsv"`
	SQLite    bool   `mapstructure:"sqlite" yaml:"sqlite"`
	XLSX      bool   `mapstructure:"xlsx" yaml:"xlsx"`
}

// Config is the root-level settings struct and is a mix
// of settings available in a settings file, the environment
// and those available from the command line
type Config struct {
	// id of the run these settings were used for
	RunID string `mapstructure:"run-id" yaml:"run-id,omitempty"`

	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Digestion DigestionConfig `mapstructure:"digestion" yaml:"digestion"`
	Filter    FilterConfig    `mapstructure:"filter" yaml:"filter"`
	FDR       FDRConfig       `mapstructure:"fdr" yaml:"fdr"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	d := digest.DefaultParams()
	return Config{
		Search: SearchConfig{
			Engine:             EngineModern,
			Dissociation:       core.HCD.String(),
			PrecursorTolerance: "5 ppm",
			ProductTolerance:   "20 ppm",
			Acceptor:           mda.OneMM,
			ScoreCutoff:        5,
			ReportAllAmbiguity: true,
			ContaminantPolicy:  psm.RemoveContaminant.String(),
			MaxFragmentMass:    index.DefaultMaxFragmentMass,
		},
		Digestion: DigestionConfig{
			Protease:                  d.Protease.Name,
			MissedCleavages:           d.MaxMissedCleavages,
			MinLength:                 d.MinLength,
			CleaveInitiatorMethionine: d.CleaveInitiatorMethionine,
			FixedMods:                 "Carbamidomethyl@C",
			VariableMods:              "Oxidation@M",
			MaxModsPerPeptide:         d.MaxModsPerPeptide,
			MaxIsoforms:               digest.DefaultMaxIsoforms,
			Decoys:                    true,
		},
		FDR: FDRConfig{
			PEP:                true,
			MinPEPTrainingSize: fdr.DefaultMinPEPTrainingSize,
			PeptideLevel:       true,
			QValueThreshold:    fdr.DefaultQValueThreshold,
		},
		Output: OutputConfig{
			Directory: "results",
			TSV:       true,
			SQLite:    true,
		},
	}
}

// SetDefaults registers every default with v and wires environment overrides.
func SetDefaults(v *viper.Viper) {
	var settings map[string]interface{}
	raw, _ := yaml.Marshal(Defaults())
	_ = yaml.Unmarshal(raw, &settings)
	setNested(v, "", settings)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func setNested(v *viper.Viper, prefix string, settings map[string]interface{}) {
	for k, val := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]interface{}); ok {
			setNested(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load decodes v into a Config and validates it. A settings file set on v
// with SetConfigFile is read first.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode settings: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	switch c.Search.Engine {
	case EngineModern, EngineClassic:
	default:
		add(fmt.Errorf("search.engine must be %s or %s, got '%s'", EngineModern, EngineClassic, c.Search.Engine))
	}
	_, err := c.SearchParams(nil)
	add(err)
	if c.Search.Workers < 0 {
		add(fmt.Errorf("search.workers must not be negative"))
	}
	if c.Search.ScoreCutoff < 0 {
		add(fmt.Errorf("search.score-cutoff must not be negative"))
	}

	if _, err := digest.DefaultProteases().Get(c.Digestion.Protease); err != nil {
		add(err)
	}
	if c.Digestion.MaxLength > 0 && c.Digestion.MinLength > c.Digestion.MaxLength {
		add(fmt.Errorf("digestion.min-length %d exceeds max-length %d", c.Digestion.MinLength, c.Digestion.MaxLength))
	}
	if c.Digestion.MissedCleavages < 0 {
		add(fmt.Errorf("digestion.missed-cleavages must not be negative"))
	}

	f := c.FilterConfig()
	add(f.Validate())

	if c.FDR.QValueThreshold <= 0 || c.FDR.QValueThreshold > 1 {
		add(fmt.Errorf("fdr.q-value must be in (0, 1], got %g", c.FDR.QValueThreshold))
	}

	if len(problems) > 0 {
		return &core.ValidationError{Field: "config", Message: strings.Join(problems, "; ")}
	}
	return nil
}

// SearchParams builds engine parameters. Unparseable tolerances, dissociation
// types, acceptors and policies fail here, before any engine exists.
func (c *Config) SearchParams(logger *slog.Logger) (search.Params, error) {
	s := c.Search
	d, err := core.ParseDissociationType(s.Dissociation)
	if err != nil {
		return search.Params{}, err
	}
	precursorTol, err := core.ParseTolerance(s.PrecursorTolerance)
	if err != nil {
		return search.Params{}, fmt.Errorf("precursor tolerance: %w", err)
	}
	productTol, err := core.ParseTolerance(s.ProductTolerance)
	if err != nil {
		return search.Params{}, fmt.Errorf("product tolerance: %w", err)
	}
	acceptor, err := mda.New(s.Acceptor, precursorTol, s.CustomAcceptor)
	if err != nil {
		return search.Params{}, err
	}
	policy, err := psm.ParseContaminantPolicy(s.ContaminantPolicy)
	if err != nil {
		return search.Params{}, err
	}

	return search.Params{
		Dissociation:         d,
		ProductTolerance:     productTol,
		Acceptor:             acceptor,
		AddComplementaryIons: s.AddComplementaryIons,
		ScoreCutoff:          s.ScoreCutoff,
		ReportAllAmbiguity:   s.ReportAllAmbiguity,
		ContaminantPolicy:    policy,
		MatchAllCharges:      s.MatchAllCharges,
		Workers:              s.Workers,
		Logger:               logger,
	}, nil
}

// IndexParams builds fragment index parameters.
func (c *Config) IndexParams(d core.DissociationType) index.Params {
	return index.Params{
		Dissociation:    d,
		MaxFragmentMass: c.Search.MaxFragmentMass,
		Partitions:      c.Search.IndexPartitions,
	}
}

// DigestParams builds digestion parameters, resolving modifications in reg.
func (c *Config) DigestParams(reg *core.Registry, proteases digest.ProteaseRegistry) (digest.Params, error) {
	dc := c.Digestion
	protease, err := proteases.Get(dc.Protease)
	if err != nil {
		return digest.Params{}, err
	}
	fixed, err := reg.ParseModSpec(dc.FixedMods)
	if err != nil {
		return digest.Params{}, fmt.Errorf("fixed mods: %w", err)
	}
	variable, err := reg.ParseModSpec(dc.VariableMods)
	if err != nil {
		return digest.Params{}, fmt.Errorf("variable mods: %w", err)
	}
	return digest.Params{
		Protease:                  protease,
		MaxMissedCleavages:        dc.MissedCleavages,
		MinLength:                 dc.MinLength,
		MaxLength:                 dc.MaxLength,
		CleaveInitiatorMethionine: dc.CleaveInitiatorMethionine,
		FixedMods:                 fixed,
		VariableMods:              variable,
		MaxModsPerPeptide:         dc.MaxModsPerPeptide,
		MaxIsoforms:               dc.MaxIsoforms,
	}, nil
}

// FilterConfig builds the peak filter.
func (c *Config) FilterConfig() *filter.Config {
	f := c.Filter
	return &filter.Config{
		TopN:            f.TopN,
		IntensityCutoff: f.IntensityCutoff,
		MinMZ:           f.MinMZ,
		MaxMZ:           f.MaxMZ,
		WindowWidth:     f.WindowWidth,
		TopNPerWindow:   f.TopNPerWindow,
		PrecursorWindow: f.PrecursorWindow,
	}
}

// FDRParams builds FDR parameters for an acceptor with numNotches notches.
func (c *Config) FDRParams(numNotches int, logger *slog.Logger) fdr.Params {
	p := fdr.Params{
		NumNotches:         numNotches,
		UseDeltaScore:      c.FDR.UseDeltaScore,
		MinPEPTrainingSize: c.FDR.MinPEPTrainingSize,
		PeptideLevel:       c.FDR.PeptideLevel,
		QValueThreshold:    c.FDR.QValueThreshold,
		Logger:             logger,
	}
	if c.FDR.PEP {
		p.PEPModel = fdr.NewLogisticModel()
	}
	return p
}

// YAML returns the configuration as a YAML document.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode settings: %w", err)
	}
	return string(data), nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
