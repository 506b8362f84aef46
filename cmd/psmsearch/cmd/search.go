package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisMcGann/psmsearch/pkg/config"
	"github.com/ChrisMcGann/psmsearch/pkg/core"
	"github.com/ChrisMcGann/psmsearch/pkg/digest"
	"github.com/ChrisMcGann/psmsearch/pkg/fdr"
	"github.com/ChrisMcGann/psmsearch/pkg/index"
	"github.com/ChrisMcGann/psmsearch/pkg/psm"
	"github.com/ChrisMcGann/psmsearch/pkg/reader/fasta"
	"github.com/ChrisMcGann/psmsearch/pkg/reader/mgf"
	"github.com/ChrisMcGann/psmsearch/pkg/reader/msp"
	"github.com/ChrisMcGann/psmsearch/pkg/search"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/sqlite"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/tsv"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/xlsx"
)

var (
	spectraFile  string
	databaseFile string
)

// searchFlags maps search command flags to settings keys.
var searchFlags = map[string]string{
	"out":                "output.directory",
	"engine":             "search.engine",
	"dissociation":       "search.dissociation",
	"precursor-tol":      "search.precursor-tolerance",
	"product-tol":        "search.product-tolerance",
	"acceptor":           "search.acceptor",
	"custom-acceptor":    "search.custom-acceptor",
	"score-cutoff":       "search.score-cutoff",
	"comp-ions":          "search.comp-ions",
	"contaminant-policy": "search.contaminant-policy",
	"workers":            "search.workers",
	"protease":           "digestion.protease",
	"missed-cleavages":   "digestion.missed-cleavages",
	"fixed-mods":         "digestion.fixed-mods",
	"variable-mods":      "digestion.variable-mods",
	"decoys":             "digestion.decoys",
	"contaminants":       "digestion.contaminants",
	"top-n":              "filter.top-n",
	"cutoff":             "filter.cutoff",
	"q-value":            "fdr.q-value",
	"pep":                "fdr.pep",
	"xlsx":               "output.xlsx",
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search spectra against a protein database",
	Long: `Digest a FASTA protein database, search MGF or MSP spectra against it and
write target-decoy scored matches.

Examples:
  # Search with default settings
  psmsearch search --spectra run.mgf --db human.fasta --out results

  # Open search with the brute force engine
  psmsearch search --spectra run.mgf --db human.fasta --engine classic --acceptor Open

  # Use a settings file and keep the 150 most intense peaks
  psmsearch search --config settings.yaml --spectra run.mgf --db human.fasta --top-n 150`,
	RunE: runSearch,
}

func init() {
	d := config.Defaults()
	f := searchCmd.Flags()

	f.StringVarP(&spectraFile, "spectra", "s", "", "Spectra file, mgf or msp (required)")
	f.StringVarP(&databaseFile, "db", "d", "", "Protein database in FASTA format (required)")
	f.StringP("out", "o", d.Output.Directory, "Output directory")
	f.String("engine", d.Search.Engine, "Search engine: modern or classic")
	f.String("dissociation", d.Search.Dissociation, "Dissociation type: HCD, CID, ETD, EThcD or LowCID")
	f.String("precursor-tol", d.Search.PrecursorTolerance, "Precursor mass tolerance, e.g. '5 ppm' or '0.01 Da'")
	f.String("product-tol", d.Search.ProductTolerance, "Product mass tolerance")
	f.String("acceptor", d.Search.Acceptor, "Mass difference acceptor: Exact, OneMM, TwoMM, ThreeMM, PlusOrMinusThreeMM, ModOpen, Open or Custom")
	f.String("custom-acceptor", "", "Custom acceptor definition, e.g. 'phospho dot 5 ppm 0,79.966331'")
	f.Float64("score-cutoff", d.Search.ScoreCutoff, "Minimum score for a match to be kept")
	f.Bool("comp-ions", false, "Add complementary ions")
	f.String("contaminant-policy", d.Search.ContaminantPolicy, "RemoveContaminant, RemoveTarget or KeepBoth")
	f.Int("workers", 0, "Number of search workers (0 = number of CPUs)")
	f.String("protease", d.Digestion.Protease, "Protease used for digestion")
	f.Int("missed-cleavages", d.Digestion.MissedCleavages, "Maximum missed cleavages")
	f.String("fixed-mods", d.Digestion.FixedMods, "Fixed modifications, e.g. 'Carbamidomethyl@C'")
	f.String("variable-mods", d.Digestion.VariableMods, "Variable modifications, e.g. 'Oxidation@M;Acetyl@nterm'")
	f.Bool("decoys", d.Digestion.Decoys, "Append reversed decoy proteins")
	f.String("contaminants", "", "FASTA file of contaminant proteins")
	f.Int("top-n", 0, "Keep only top N most intense peaks (0 = no limit)")
	f.Float64("cutoff", 0, "Intensity cutoff as % of base peak (0 = no cutoff)")
	f.Float64("q-value", d.FDR.QValueThreshold, "q-value threshold for confident matches")
	f.Bool("pep", d.FDR.PEP, "Train the posterior error probability model")
	f.Bool("xlsx", d.Output.XLSX, "Write confident matches to a spreadsheet")

	searchCmd.MarkFlagRequired("spectra")
	searchCmd.MarkFlagRequired("db")

	for name, key := range searchFlags {
		if err := viper.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	for _, path := range []string{spectraFile, databaseFile} {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", path)
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	cfg.RunID = newRunID()
	logger := slog.Default().With("run", cfg.RunID)

	reg := core.DefaultRegistry()
	if cfg.Digestion.ModificationsCSV != "" {
		if err := loadModifications(reg, cfg.Digestion.ModificationsCSV); err != nil {
			return err
		}
	}

	searchParams, err := cfg.SearchParams(logger)
	if err != nil {
		return err
	}
	digestParams, err := cfg.DigestParams(reg, digest.DefaultProteases())
	if err != nil {
		return err
	}

	fmt.Printf("Searching %s against %s...\n", spectraFile, databaseFile)
	fmt.Printf("Run: %s\n", cfg.RunID)
	fmt.Printf("Engine: %s\n", cfg.Search.Engine)
	fmt.Printf("Dissociation: %s\n", searchParams.Dissociation)
	fmt.Printf("Acceptor: %s (%d notches)\n", searchParams.Acceptor.FileNameAddition(), searchParams.Acceptor.NumNotches())

	proteins, err := loadProteins(cfg)
	if err != nil {
		return err
	}
	peptides, err := digest.DigestAll(ctx, reg, proteins, digestParams)
	if err != nil {
		return err
	}
	fmt.Printf("Digested %d proteins into %d peptides\n", len(proteins), len(peptides))

	spectra, skipped, err := loadSpectra(spectraFile, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d spectra\n", len(spectra))
	if skipped > 0 {
		fmt.Printf("Skipped: %d spectra (validation errors)\n", skipped)
	}

	engine, err := newEngine(ctx, cfg, reg, peptides, searchParams)
	if err != nil {
		return err
	}
	result, err := engine.Search(ctx, spectra)
	if err != nil && result == nil {
		return err
	}
	if err != nil {
		return fmt.Errorf("search stopped after %d matches: %w", result.Count(), err)
	}
	fmt.Printf("Matched %d of %d spectra in %s\n", result.Count(), len(spectra), result.Elapsed.Round(time.Millisecond))
	if len(result.Failed) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d spectra failed to search\n", len(result.Failed))
	}

	analysis, err := fdr.Run(ctx, result.PSMs, cfg.FDRParams(searchParams.Acceptor.NumNotches(), logger))
	if err != nil {
		return fmt.Errorf("fdr analysis stopped: %w", err)
	}

	summary := sqlite.Summary{
		Spectra:           len(spectra),
		PSMs:              len(analysis.PSMs),
		ConfidentPSMs:     analysis.ConfidentPSMs,
		ConfidentPeptides: analysis.ConfidentPeptides,
		Failed:            len(result.Failed),
		Elapsed:           time.Since(start),
	}
	if err := writeOutputs(cfg, searchParams, analysis, summary); err != nil {
		return err
	}

	fmt.Printf("\nSearch complete!\n")
	fmt.Printf("PSMs: %d (%d at q <= %g)\n", len(analysis.PSMs), analysis.ConfidentPSMs, cfg.FDR.QValueThreshold)
	if cfg.FDR.PeptideLevel {
		fmt.Printf("Peptides: %d (%d at q <= %g)\n", len(analysis.Peptides), analysis.ConfidentPeptides, cfg.FDR.QValueThreshold)
	}
	fmt.Printf("Output: %s\n", cfg.Output.Directory)

	return nil
}

// newRunID returns a time ordered id, falling back to a random one.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func loadModifications(reg *core.Registry, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open modifications file: %w", err)
	}
	defer f.Close()

	if err := reg.LoadModificationsCSV(f); err != nil {
		return fmt.Errorf("failed to load modifications from %s: %w", path, err)
	}
	return nil
}

// loadProteins reads the database and contaminants, then appends decoys.
func loadProteins(cfg *config.Config) ([]*core.Protein, error) {
	proteins, err := readFasta(databaseFile, false)
	if err != nil {
		return nil, err
	}
	if cfg.Digestion.Contaminants != "" {
		contaminants, err := readFasta(cfg.Digestion.Contaminants, true)
		if err != nil {
			return nil, err
		}
		proteins = append(proteins, contaminants...)
	}

	if cfg.Digestion.Decoys {
		targets := len(proteins)
		for i := 0; i < targets; i++ {
			if proteins[i].IsDecoy {
				continue
			}
			proteins = append(proteins, digest.DecoyProtein(proteins[i]))
		}
	}
	return proteins, nil
}

func readFasta(path string, contaminants bool) ([]*core.Protein, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open protein database: %w", err)
	}
	defer f.Close()

	r := fasta.NewReader(f)
	r.Contaminants = contaminants
	proteins, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return proteins, nil
}

// spectrumReader is implemented by the mgf and msp readers.
type spectrumReader interface {
	Next() bool
	Spectrum() *core.Spectrum
	Err() error
}

func openSpectra(path string) (spectrumReader, *os.File, error) {
	format := detectFormat(path)
	if format != "mgf" && format != "msp" {
		return nil, nil, fmt.Errorf("cannot detect spectra format from extension '.%s', expected mgf or msp", format)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open spectra file: %w", err)
	}
	if format == "msp" {
		return msp.NewReader(f), f, nil
	}
	return mgf.NewReader(f), f, nil
}

// loadSpectra reads, filters and prepares query spectra. Spectra that fail
// filtering or validation are skipped with a warning.
func loadSpectra(path string, cfg *config.Config) ([]*core.Spectrum, int, error) {
	reader, f, err := openSpectra(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	filterConfig := cfg.FilterConfig()
	var spectra []*core.Spectrum
	skipped := 0

	for reader.Next() {
		spec := reader.Spectrum()

		if err := filterConfig.Apply(spec); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to filter spectrum %s: %v\n", spec.Name(), err)
			skipped++
			continue
		}

		spec.Prepare()
		if err := spec.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: invalid spectrum %s: %v\n", spec.Name(), err)
			skipped++
			continue
		}

		spectra = append(spectra, spec)
		if len(spectra)%1000 == 0 {
			fmt.Printf("Read %d spectra...\n", len(spectra))
		}
	}

	if err := reader.Err(); err != nil {
		return nil, skipped, fmt.Errorf("error reading spectra file: %w", err)
	}
	return spectra, skipped, nil
}

func newEngine(ctx context.Context, cfg *config.Config, reg *core.Registry, peptides []*core.Peptide, p search.Params) (search.Engine, error) {
	if cfg.Search.Engine == config.EngineClassic {
		var decoyRegistry *core.Registry
		if cfg.Search.DecoysOnTheFly {
			decoyRegistry = reg
		}
		return search.NewClassic(peptides, p, decoyRegistry), nil
	}

	if cfg.Search.DecoysOnTheFly {
		fmt.Fprintf(os.Stderr, "Warning: decoys-on-the-fly is only used by the classic engine\n")
	}
	ix, err := index.Build(ctx, peptides, cfg.IndexParams(p.Dissociation))
	if err != nil {
		return nil, err
	}
	fmt.Printf("Indexed %d peptides into %d fragment bins\n", len(peptides), ix.NumBins())
	return search.NewModern(ix, p), nil
}

func writeOutputs(cfg *config.Config, p search.Params, analysis *fdr.Result, summary sqlite.Summary) error {
	dir := cfg.Output.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := cfg.Save(filepath.Join(dir, config.FileName)); err != nil {
		return err
	}

	if cfg.Output.TSV {
		if err := tsv.WriteFile(filepath.Join(dir, tsv.PSMFile), analysis.PSMs, p.ContaminantPolicy, false); err != nil {
			return err
		}
		if cfg.FDR.PeptideLevel {
			if err := tsv.WriteFile(filepath.Join(dir, tsv.PeptideFile), analysis.Peptides, p.ContaminantPolicy, true); err != nil {
				return err
			}
		}
	}

	if cfg.Output.SQLite {
		if err := writeDatabase(filepath.Join(dir, sqlite.FileName), cfg, p, analysis.PSMs, summary); err != nil {
			return err
		}
	}

	if cfg.Output.XLSX {
		wb := xlsx.NewWorkbook(cfg.FDR.QValueThreshold, p.ContaminantPolicy)
		if err := wb.AddPSMs(analysis.PSMs); err != nil {
			return err
		}
		if cfg.FDR.PeptideLevel {
			if err := wb.AddPeptides(analysis.Peptides); err != nil {
				return err
			}
		}
		if err := wb.Save(filepath.Join(dir, xlsx.FileName)); err != nil {
			return err
		}
	}
	return nil
}

func writeDatabase(path string, cfg *config.Config, p search.Params, matches []*psm.SpectralMatch, summary sqlite.Summary) error {
	settings, err := cfg.YAML()
	if err != nil {
		return err
	}

	writer, err := sqlite.NewWriter(path, sqlite.Run{
		ID:                 cfg.RunID,
		Engine:             cfg.Search.Engine,
		Dissociation:       p.Dissociation.String(),
		PrecursorTolerance: cfg.Search.PrecursorTolerance,
		ProductTolerance:   cfg.Search.ProductTolerance,
		Acceptor:           p.Acceptor.FileNameAddition(),
		SpectraFile:        spectraFile,
		DatabaseFile:       databaseFile,
		Config:             settings,
		Created:            time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to create output database: %w", err)
	}

	for _, m := range matches {
		if err := writer.WriteMatch(m); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write match for %s: %w", m.Spectrum.Name(), err)
		}
	}

	if err := writer.Finalize(summary); err != nil {
		return fmt.Errorf("failed to finalize database: %w", err)
	}
	return nil
}
