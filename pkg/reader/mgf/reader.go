// Package mgf provides streaming readers for Mascot Generic Format query spectra
package mgf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// Reader provides streaming access to MGF files
type Reader struct {
	scanner     *bufio.Scanner
	lineNum     int
	count       int
	currentSpec *core.Spectrum
	err         error
}

// NewReader creates a new MGF reader
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

// readSpectrum reads one BEGIN IONS ... END IONS block. Global parameters
// before the first block are ignored.
func (r *Reader) readSpectrum() (*core.Spectrum, error) {
	var spec *core.Spectrum

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if spec == nil {
			if line == "BEGIN IONS" {
				spec = &core.Spectrum{SourceFormat: "mgf", Peaks: []core.Peak{}}
			}
			continue
		}

		if line == "END IONS" {
			return spec, nil
		}

		if key, value, ok := strings.Cut(line, "="); ok && !isNumericStart(line) {
			if err := r.parseHeader(spec, strings.ToUpper(key), strings.TrimSpace(value)); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			continue
		}

		peak, err := parsePeak(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		spec.Peaks = append(spec.Peaks, peak)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if spec != nil {
		return nil, fmt.Errorf("line %d: missing END IONS", r.lineNum)
	}
	return nil, io.EOF
}

func (r *Reader) parseHeader(spec *core.Spectrum, key, value string) error {
	switch key {
	case "TITLE":
		spec.Title = value

	case "PEPMASS":
		// PEPMASS=mz [intensity]
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return fmt.Errorf("empty PEPMASS")
		}
		mz, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return fmt.Errorf("invalid PEPMASS %q: %w", value, err)
		}
		spec.PrecursorMZ = mz
		if len(fields) > 1 {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
				spec.PrecursorIntensity = v
			}
		}

	case "CHARGE":
		// CHARGE=2+ or CHARGE=2+ and 3+; the first charge wins
		first := strings.Fields(strings.ReplaceAll(value, ",", " "))
		if len(first) == 0 {
			return fmt.Errorf("empty CHARGE")
		}
		z, err := parseCharge(first[0])
		if err != nil {
			return err
		}
		spec.PrecursorCharge = z

	case "RTINSECONDS":
		rt, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid RTINSECONDS %q: %w", value, err)
		}
		spec.RetentionTime = rt / 60

	case "SCANS":
		// SCANS=1203 or SCANS=1203-1205; the first scan wins
		first, _, _ := strings.Cut(value, "-")
		n, err := strconv.Atoi(strings.TrimSpace(first))
		if err != nil {
			return fmt.Errorf("invalid SCANS %q: %w", value, err)
		}
		spec.ScanNumber = n
	}
	return nil
}

// parseCharge accepts "2", "2+", "+2" and "2-"; negative modes are rejected
func parseCharge(s string) (int, error) {
	if strings.HasSuffix(s, "-") || strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative charge %q is not supported", s)
	}
	z, err := strconv.Atoi(strings.Trim(s, "+"))
	if err != nil || z <= 0 {
		return 0, fmt.Errorf("invalid charge %q", s)
	}
	return z, nil
}

func isNumericStart(line string) bool {
	c := line[0]
	return (c >= '0' && c <= '9') || c == '.'
}

// parsePeak parses "mz intensity [charge]"
func parsePeak(line string) (core.Peak, error) {
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

	peak := core.Peak{MZ: mz, Intensity: intensity}
	if len(fields) > 2 {
		if z, err := parseCharge(fields[2]); err == nil {
			peak.Charge = z
		}
	}
	return peak, nil
}
