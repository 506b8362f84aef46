package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Spectrum is a query tandem mass spectrum with its precursor annotation.
// It is treated as immutable once Prepare has run, except for the one-time
// Xcorr transform applied to low-resolution spectra.
type Spectrum struct {
	// Required fields
	ScanNumber      int
	PrecursorMZ     float64
	PrecursorCharge int
	Peaks           []Peak
	Dissociation    DissociationType

	// Optional metadata
	RetentionTime      float64
	PrecursorMass      float64 // neutral monoisotopic mass; derived from m/z when zero
	PrecursorIntensity float64
	Title              string

	// Envelopes are deconvoluted fragment envelopes sorted by monoisotopic mass.
	Envelopes []Envelope

	TotalIonCurrent float64
	XcorrProcessed  bool

	// Internal tracking
	FileName     string
	SourceFormat string // mgf, msp
}

// Peak represents a single m/z, intensity pair.
type Peak struct {
	MZ        float64
	Intensity float64
	Charge    int // Fragment charge (0 when unknown)
}

// Envelope is a deconvoluted fragment isotopic envelope.
type Envelope struct {
	MonoisotopicMass float64
	Charge           int
	Intensity        float64 // intensity of the monoisotopic peak
	TotalIntensity   float64
}

// ValidationError represents an error found during spectrum validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a spectrum meets all requirements for searching.
func (s *Spectrum) Validate() error {
	var errs []string

	if s.PrecursorCharge <= 0 {
		errs = append(errs, "precursor charge must be positive")
	}
	if s.PrecursorMZ <= 0 && s.PrecursorMass <= 0 {
		errs = append(errs, "precursor m/z or mass must be positive")
	}
	if len(s.Peaks) == 0 {
		errs = append(errs, "at least one peak is required")
	}

	for i, peak := range s.Peaks {
		if math.IsNaN(peak.MZ) || math.IsInf(peak.MZ, 0) {
			errs = append(errs, fmt.Sprintf("peak %d has invalid m/z", i))
		}
		if math.IsNaN(peak.Intensity) || math.IsInf(peak.Intensity, 0) {
			errs = append(errs, fmt.Sprintf("peak %d has invalid intensity", i))
		}
		if peak.MZ <= 0 {
			errs = append(errs, fmt.Sprintf("peak %d m/z must be positive", i))
		}
		if peak.Intensity < 0 {
			errs = append(errs, fmt.Sprintf("peak %d intensity must be non-negative", i))
		}
	}

	if !s.ArePeaksSorted() {
		errs = append(errs, "peaks must be sorted by m/z")
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "Spectrum",
			Message: strings.Join(errs, "; "),
		}
	}

	return nil
}

// ArePeaksSorted checks if peaks are sorted by m/z in ascending order.
func (s *Spectrum) ArePeaksSorted() bool {
	for i := 1; i < len(s.Peaks); i++ {
		if s.Peaks[i].MZ < s.Peaks[i-1].MZ {
			return false
		}
	}
	return true
}

// SortPeaks sorts peaks by m/z in ascending order.
func (s *Spectrum) SortPeaks() {
	sort.SliceStable(s.Peaks, func(i, j int) bool {
		return s.Peaks[i].MZ < s.Peaks[j].MZ
	})
}

// Prepare sorts peaks, computes the total ion current, derives the precursor
// mass from m/z when missing, and builds envelopes from peaks when none were
// supplied. A peak without a charge annotation becomes a charge-one envelope.
func (s *Spectrum) Prepare() {
	s.SortPeaks()

	s.TotalIonCurrent = 0
	for _, p := range s.Peaks {
		s.TotalIonCurrent += p.Intensity
	}

	if s.PrecursorMass == 0 && s.PrecursorMZ > 0 && s.PrecursorCharge > 0 {
		s.PrecursorMass = ToMass(s.PrecursorMZ, s.PrecursorCharge)
	}
	if s.PrecursorMZ == 0 && s.PrecursorMass > 0 && s.PrecursorCharge > 0 {
		s.PrecursorMZ = ToMz(s.PrecursorMass, s.PrecursorCharge)
	}

	if len(s.Envelopes) == 0 {
		s.Envelopes = make([]Envelope, 0, len(s.Peaks))
		for _, p := range s.Peaks {
			z := p.Charge
			if z <= 0 {
				z = 1
			}
			s.Envelopes = append(s.Envelopes, Envelope{
				MonoisotopicMass: ToMass(p.MZ, z),
				Charge:           z,
				Intensity:        p.Intensity,
				TotalIntensity:   p.Intensity,
			})
		}
	}
	sort.SliceStable(s.Envelopes, func(i, j int) bool {
		return s.Envelopes[i].MonoisotopicMass < s.Envelopes[j].MonoisotopicMass
	})
}

// ClosestEnvelope returns the index of the envelope whose monoisotopic mass is
// nearest to mass, or -1 when there are no envelopes.
func (s *Spectrum) ClosestEnvelope(mass float64) int {
	n := len(s.Envelopes)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return s.Envelopes[i].MonoisotopicMass >= mass })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	case mass-s.Envelopes[i-1].MonoisotopicMass <= s.Envelopes[i].MonoisotopicMass-mass:
		return i - 1
	default:
		return i
	}
}

// EnvelopesInRange returns the envelopes with monoisotopic mass in [min, max].
func (s *Spectrum) EnvelopesInRange(min, max float64) []Envelope {
	lo := sort.Search(len(s.Envelopes), func(i int) bool { return s.Envelopes[i].MonoisotopicMass >= min })
	hi := sort.Search(len(s.Envelopes), func(i int) bool { return s.Envelopes[i].MonoisotopicMass > max })
	if lo >= hi {
		return nil
	}
	return s.Envelopes[lo:hi]
}

// ClosestPeak returns the index of the peak whose m/z is nearest to mz, or -1
// when the spectrum has no peaks.
func (s *Spectrum) ClosestPeak(mz float64) int {
	n := len(s.Peaks)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return s.Peaks[i].MZ >= mz })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	case mz-s.Peaks[i-1].MZ <= s.Peaks[i].MZ-mz:
		return i - 1
	default:
		return i
	}
}

// Name returns the title, or "scan=N" when the spectrum has none.
func (s *Spectrum) Name() string {
	if s.Title != "" {
		return s.Title
	}
	return fmt.Sprintf("scan=%d", s.ScanNumber)
}
