package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/psmsearch/pkg/fdr"
	"github.com/ChrisMcGann/psmsearch/pkg/writer/sqlite"
)

var (
	summaryRun       string
	summaryThreshold float64
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [results.db]",
	Short: "Summarize a search run",
	Long: `Print summary statistics about a search run stored in a results database,
including match counts, target/decoy split and score percentiles.`,
	Args: cobra.ExactArgs(1),
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVar(&summaryRun, "run", "", "Run id (default: most recent run)")
	summarizeCmd.Flags().Float64Var(&summaryThreshold, "q-value", fdr.DefaultQValueThreshold, "q-value threshold for confident matches")
}

// runStats holds the per-run counts printed by summarize.
type runStats struct {
	Matches   int
	Targets   int
	Decoys    int
	Ambiguous int
	Confident int
	Scores    []float64
}

func collectStats(rows []sqlite.MatchRow, threshold float64) runStats {
	var s runStats
	for _, r := range rows {
		s.Matches++
		s.Scores = append(s.Scores, r.Score)
		if r.IsDecoy {
			s.Decoys++
		} else {
			s.Targets++
		}
		if !r.FullSequence.Valid {
			s.Ambiguous++
		}
		if !r.IsDecoy && r.QValue.Valid && r.QValue.Float64 <= threshold {
			s.Confident++
		}
	}
	return s
}

// scorePercentiles returns the nearest rank 5th, 50th and 95th score percentiles.
func scorePercentiles(scores []float64) ([3]float64, error) {
	var out [3]float64
	for i, pct := range []float64{5, 50, 95} {
		v, err := stats.PercentileNearestRank(scores, pct)
		if err != nil {
			return out, fmt.Errorf("failed to compute score percentile: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := sqlite.Open(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.LoadRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("%s contains no search runs", args[0])
	}

	run := &runs[len(runs)-1]
	if summaryRun != "" {
		if run, err = store.LoadRun(ctx, summaryRun); err != nil {
			return err
		}
	}

	rows, err := store.LoadMatches(ctx, run.RunID)
	if err != nil {
		return err
	}
	s := collectStats(rows, summaryThreshold)

	fmt.Printf("Run: %s (%s)\n", run.RunID, run.CreationDate)
	fmt.Printf("Engine: %s, %s\n", run.Engine, run.Dissociation)
	fmt.Printf("Tolerances: precursor %s, product %s, acceptor %s\n", run.PrecursorTolerance, run.ProductTolerance, run.Acceptor)
	fmt.Printf("Spectra file: %s\n", run.SpectraFile)
	fmt.Printf("Database: %s\n", run.DatabaseFile)
	if len(runs) > 1 {
		fmt.Printf("Runs in database: %d\n", len(runs))
	}

	sum, err := store.LoadSummary(ctx, run.RunID)
	switch {
	case errors.Is(err, sqlite.ErrRunNotFound):
		fmt.Fprintf(os.Stderr, "Warning: run %s did not finish\n", run.RunID)
	case err != nil:
		return err
	default:
		fmt.Printf("Spectra: %d (%d failed)\n", sum.Spectra, sum.Failed)
		fmt.Printf("Elapsed: %.1fs\n", sum.ElapsedSeconds)
	}

	fmt.Printf("Matches: %d (%d target, %d decoy, %d ambiguous)\n", s.Matches, s.Targets, s.Decoys, s.Ambiguous)
	fmt.Printf("Confident at q <= %g: %d\n", summaryThreshold, s.Confident)

	if len(s.Scores) > 0 {
		p, err := scorePercentiles(s.Scores)
		if err != nil {
			return err
		}
		mean, _ := stats.Mean(s.Scores)
		fmt.Printf("Score: mean %.2f, p5 %.2f, median %.2f, p95 %.2f\n", mean, p[0], p[1], p[2])
	}

	return nil
}
