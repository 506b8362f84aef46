// psmsearch - peptide spectrum match search engine
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/psmsearch/cmd/psmsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
