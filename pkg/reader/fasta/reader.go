// Package fasta provides streaming readers for protein FASTA databases
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// ContaminantPrefix marks contaminant accessions in combined databases.
const ContaminantPrefix = "CON_"

// DecoyPrefix marks decoy entries of a database that already carries decoys.
const DecoyPrefix = "DECOY_"

// Reader provides streaming access to FASTA files
type Reader struct {
	// Contaminants flags every protein read as a contaminant, for a
	// dedicated contaminant database.
	Contaminants bool

	scanner *bufio.Scanner
	lineNum int
	pending string // header line read ahead of the current entry
	current *core.Protein
	err     error
}

// NewReader creates a new FASTA reader
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{scanner: scanner}
}

// Next advances to the next protein. Returns false when no more proteins or error.
func (r *Reader) Next() bool {
	r.current = nil

	prot, err := r.readProtein()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.current = prot
	return true
}

// Protein returns the current protein
func (r *Reader) Protein() *core.Protein {
	return r.current
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// ReadAll reads every remaining protein.
func (r *Reader) ReadAll() ([]*core.Protein, error) {
	var out []*core.Protein
	for r.Next() {
		out = append(out, r.Protein())
	}
	return out, r.Err()
}

func (r *Reader) readProtein() (*core.Protein, error) {
	header := r.pending
	r.pending = ""
	var seq strings.Builder

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, ">") {
			if header == "" {
				header = line
				continue
			}
			r.pending = line
			return r.build(header, seq.String())
		}

		if header == "" {
			return nil, fmt.Errorf("line %d: sequence data before the first header", r.lineNum)
		}
		seq.WriteString(strings.ToUpper(strings.TrimSuffix(line, "*")))
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if header == "" {
		return nil, io.EOF
	}
	return r.build(header, seq.String())
}

func (r *Reader) build(header, seq string) (*core.Protein, error) {
	if seq == "" {
		return nil, fmt.Errorf("line %d: entry %q has no sequence", r.lineNum, header)
	}
	for _, aa := range seq {
		if aa < 'A' || aa > 'Z' {
			return nil, fmt.Errorf("line %d: invalid residue %q in %q", r.lineNum, aa, header)
		}
	}
	prot := ParseHeader(header)
	prot.Sequence = seq
	if r.Contaminants || strings.HasPrefix(prot.Accession, ContaminantPrefix) {
		prot.IsContaminant = true
	}
	prot.IsDecoy = strings.HasPrefix(prot.Accession, DecoyPrefix)
	return prot, nil
}

// ParseHeader reads accession, name and organism from a header line. UniProt
// headers (">sp|P02769|ALBU_BOVIN Albumin OS=Bos taurus OX=9913") yield the
// accession between the bars; any other header uses its first word.
func ParseHeader(header string) *core.Protein {
	header = strings.TrimPrefix(header, ">")
	id, desc, _ := strings.Cut(header, " ")
	prot := &core.Protein{Accession: id}

	if parts := strings.Split(id, "|"); len(parts) >= 3 && (parts[0] == "sp" || parts[0] == "tr") {
		prot.Accession = parts[1]
	}

	if i := strings.Index(desc, "OS="); i >= 0 {
		organism := desc[i+len("OS="):]
		if j := strings.Index(organism, "="); j >= 0 {
			// Cut before the next "XX=" key.
			if k := strings.LastIndex(organism[:j], " "); k >= 0 {
				organism = organism[:k]
			}
		}
		prot.Organism = strings.TrimSpace(organism)
		desc = desc[:i]
	}
	prot.Name = strings.TrimSpace(desc)
	return prot
}
