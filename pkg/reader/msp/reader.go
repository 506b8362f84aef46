// Package msp provides streaming readers for MSP format query spectra
package msp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// Reader provides streaming access to MSP format files
type Reader struct {
	scanner     *bufio.Scanner
	lineNum     int
	count       int
	currentSpec *core.Spectrum
	err         error
}

// NewReader creates a new MSP reader
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Next advances to the next spectrum. Returns false when no more spectra or error.
func (r *Reader) Next() bool {
	r.currentSpec = nil

	spec, err := r.readSpectrum()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.count++
	if spec.ScanNumber == 0 {
		spec.ScanNumber = r.count
	}
	r.currentSpec = spec
	return true
}

// Spectrum returns the current spectrum
func (r *Reader) Spectrum() *core.Spectrum {
	return r.currentSpec
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// ReadAll reads every remaining spectrum.
func (r *Reader) ReadAll() ([]*core.Spectrum, error) {
	var out []*core.Spectrum
	for r.Next() {
		out = append(out, r.Spectrum())
	}
	return out, r.Err()
}

// readSpectrum reads a single spectrum entry from the MSP file
func (r *Reader) readSpectrum() (*core.Spectrum, error) {
	spec := &core.Spectrum{
		SourceFormat: "msp",
		Peaks:        []core.Peak{},
	}

	var numPeaks int
	inPeaks := false
	started := false
	peaksRead := 0

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())

		// Skip empty lines between entries
		if line == "" && !started {
			continue
		}
		started = true

		if !inPeaks {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: expected 'Key: value', got %q", r.lineNum, line)
			}
			value = strings.TrimSpace(value)

			switch strings.ToLower(strings.TrimSpace(key)) {
			case "name":
				r.parseName(spec, value)
			case "precursormz", "precursor_mz":
				mz, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid precursor m/z: %w", r.lineNum, err)
				}
				spec.PrecursorMZ = mz
			case "charge":
				z, err := parseCharge(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
				}
				spec.PrecursorCharge = z
			case "comment":
				if err := r.parseComment(spec, value); err != nil {
					return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
				}
			case "num peaks":
				n, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid num peaks: %w", r.lineNum, err)
				}
				numPeaks = n
				inPeaks = true
				if numPeaks == 0 {
					return spec, nil
				}
			}
		} else {
			// Parse peak line
			peak, err := r.parsePeak(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			spec.Peaks = append(spec.Peaks, peak)
			peaksRead++

			// Check if we've read all peaks
			if peaksRead >= numPeaks {
				return spec, nil
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	if started {
		return nil, fmt.Errorf("line %d: truncated entry %q: read %d of %d peaks", r.lineNum, spec.Title, peaksRead, numPeaks)
	}

	return nil, io.EOF
}

// parseName keeps the name as the title; a trailing "/CHARGE" sets the
// precursor charge
func (r *Reader) parseName(spec *core.Spectrum, name string) {
	spec.Title = name
	if i := strings.LastIndex(name, "/"); i > 0 {
		if z, err := strconv.Atoi(name[i+1:]); err == nil && z > 0 {
			spec.PrecursorCharge = z
		}
	}
}

// parseComment extracts metadata from Comment field
func (r *Reader) parseComment(spec *core.Spectrum, comment string) error {
	// Comment format: key=value key=value...
	// Example: Parent=414.71 Scan=1203 RetentionTime=61.01 Charge=2 Dissociation=HCD

	fields := strings.Fields(comment)
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}

		switch key {
		case "Parent":
			mz, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("invalid parent m/z %q: %w", value, err)
			}
			spec.PrecursorMZ = mz

		case "Charge":
			z, err := parseCharge(value)
			if err != nil {
				return err
			}
			spec.PrecursorCharge = z

		case "Scan", "ScanNumber":
			n, err := strconv.Atoi(value)
			if err == nil {
				spec.ScanNumber = n
			}

		case "RetentionTime", "RT":
			rt, err := strconv.ParseFloat(value, 64)
			if err == nil {
				spec.RetentionTime = rt
			}

		case "PrecursorIntensity":
			v, err := strconv.ParseFloat(value, 64)
			if err == nil {
				spec.PrecursorIntensity = v
			}

		case "Dissociation":
			d, err := core.ParseDissociationType(value)
			if err != nil {
				return err
			}
			spec.Dissociation = d
		}
	}

	return nil
}

// parseCharge accepts "2", "2+" and "+2"
func parseCharge(s string) (int, error) {
	z, err := strconv.Atoi(strings.Trim(s, "+"))
	if err != nil || z <= 0 {
		return 0, fmt.Errorf("invalid charge %q", s)
	}
	return z, nil
}

// parsePeak parses a single peak line (format: "mz\tintensity[\t\"annotation\"]")
func (r *Reader) parsePeak(line string) (core.Peak, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return core.Peak{}, fmt.Errorf("invalid peak format, expected at least 2 fields")
	}

	mz, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid m/z value: %w", err)
	}

	intensity, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid intensity value: %w", err)
	}

	return core.Peak{MZ: mz, Intensity: intensity}, nil
}
