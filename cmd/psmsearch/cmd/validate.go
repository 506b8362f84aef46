package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChrisMcGann/psmsearch/pkg/config"
	"github.com/ChrisMcGann/psmsearch/pkg/reader/fasta"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate input file format and contents",
	Long: `Validate that a spectra file (mgf, msp), protein database (fasta) or settings
file (yaml) is properly formatted and contains usable data.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", path)
	}

	switch format := detectFormat(path); format {
	case "mgf", "msp":
		return validateSpectra(path)
	case "fasta", "fa", "faa":
		return validateFasta(path)
	case "yaml", "yml":
		return validateSettings(path)
	default:
		return fmt.Errorf("cannot validate files with extension '.%s'", format)
	}
}

func validateSpectra(path string) error {
	reader, f, err := openSpectra(path)
	if err != nil {
		return err
	}
	defer f.Close()

	count, invalid := 0, 0
	for reader.Next() {
		spec := reader.Spectrum()
		count++
		spec.Prepare()
		if err := spec.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: invalid spectrum %s: %v\n", spec.Name(), err)
			invalid++
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("error reading spectra file after %d spectra: %w", count, err)
	}

	fmt.Printf("Spectra: %d\n", count)
	if invalid > 0 {
		return fmt.Errorf("%d of %d spectra are invalid", invalid, count)
	}
	fmt.Printf("%s is valid\n", path)
	return nil
}

func validateFasta(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open protein database: %w", err)
	}
	defer f.Close()

	r := fasta.NewReader(f)
	count, decoys, contaminants, residues := 0, 0, 0, 0
	for r.Next() {
		p := r.Protein()
		count++
		residues += len(p.Sequence)
		if p.IsDecoy {
			decoys++
		}
		if p.IsContaminant {
			contaminants++
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("error reading protein database after %d proteins: %w", count, err)
	}
	if count == 0 {
		return fmt.Errorf("%s contains no proteins", path)
	}

	fmt.Printf("Proteins: %d (%d residues)\n", count, residues)
	if decoys > 0 {
		fmt.Printf("Decoys: %d\n", decoys)
	}
	if contaminants > 0 {
		fmt.Printf("Contaminants: %d\n", contaminants)
	}
	fmt.Printf("%s is valid\n", path)
	return nil
}

func validateSettings(path string) error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(path)

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	fmt.Printf("Engine: %s\n", cfg.Search.Engine)
	fmt.Printf("Acceptor: %s\n", cfg.Search.Acceptor)
	fmt.Printf("%s is valid\n", path)
	return nil
}
