// Package filter provides peak filtering applied to query spectra before search
package filter

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

// Config holds filtering configuration
type Config struct {
	TopN            int     // Keep only top N most intense peaks (0 = no limit)
	IntensityCutoff float64 // Keep only peaks above this % of base peak (0 = no cutoff)
	MinMZ           float64 // Lower m/z bound (0 = none)
	MaxMZ           float64 // Upper m/z bound (0 = none)

	// WindowWidth splits the m/z range into windows of this width and keeps
	// the TopNPerWindow most intense peaks of each (0 = disabled).
	WindowWidth   float64
	TopNPerWindow int

	// PrecursorWindow removes peaks within this many Th of the precursor m/z.
	PrecursorWindow float64
}

// Validate checks the configuration for contradictory settings.
func (c *Config) Validate() error {
	switch {
	case c.TopN < 0:
		return fmt.Errorf("top-n must not be negative, got %d", c.TopN)
	case c.IntensityCutoff < 0 || c.IntensityCutoff > 100:
		return fmt.Errorf("intensity cutoff must be a percentage, got %g", c.IntensityCutoff)
	case c.MaxMZ > 0 && c.MinMZ >= c.MaxMZ:
		return fmt.Errorf("m/z window [%g, %g] is empty", c.MinMZ, c.MaxMZ)
	case c.WindowWidth < 0 || c.TopNPerWindow < 0:
		return fmt.Errorf("window filter settings must not be negative")
	case c.WindowWidth > 0 && c.TopNPerWindow == 0:
		return fmt.Errorf("window width %g set without peaks per window", c.WindowWidth)
	}
	return nil
}

// Apply applies all configured filters to a spectrum
func (c *Config) Apply(spec *core.Spectrum) error {
	RemoveZeroIntensityPeaks(spec)

	if c.MinMZ > 0 || c.MaxMZ > 0 {
		c.filterByRange(spec)
	}

	if c.PrecursorWindow > 0 && spec.PrecursorMZ > 0 {
		c.filterPrecursor(spec)
	}

	// Apply intensity filters
	if c.IntensityCutoff > 0 {
		c.filterByIntensity(spec)
	}

	if c.WindowWidth > 0 && c.TopNPerWindow > 0 {
		c.filterByWindow(spec)
	}

	// Apply top-N filter
	if c.TopN > 0 {
		c.filterTopN(spec)
	}

	// Ensure peaks are sorted after all filtering
	spec.SortPeaks()

	if len(spec.Peaks) == 0 {
		return fmt.Errorf("no peaks left in %s after filtering", spec.Name())
	}
	return nil
}

// filterByRange keeps peaks inside [MinMZ, MaxMZ]
func (c *Config) filterByRange(spec *core.Spectrum) {
	hi := c.MaxMZ
	if hi <= 0 {
		hi = math.Inf(1)
	}
	spec.Peaks = keep(spec.Peaks, func(p core.Peak) bool { return p.MZ >= c.MinMZ && p.MZ <= hi })
}

// filterPrecursor drops the unfragmented precursor and its close neighbours
func (c *Config) filterPrecursor(spec *core.Spectrum) {
	spec.Peaks = keep(spec.Peaks, func(p core.Peak) bool {
		return math.Abs(p.MZ-spec.PrecursorMZ) > c.PrecursorWindow
	})
}

// filterByIntensity removes peaks below the intensity cutoff percentage
func (c *Config) filterByIntensity(spec *core.Spectrum) {
	if len(spec.Peaks) == 0 {
		return
	}

	// Find maximum intensity
	maxIntensity := 0.0
	for _, peak := range spec.Peaks {
		if peak.Intensity > maxIntensity {
			maxIntensity = peak.Intensity
		}
	}

	// Calculate threshold
	threshold := (c.IntensityCutoff / 100.0) * maxIntensity
	spec.Peaks = keep(spec.Peaks, func(p core.Peak) bool { return p.Intensity >= threshold })
}

// filterByWindow keeps the most intense peaks of every m/z window
func (c *Config) filterByWindow(spec *core.Spectrum) {
	byWindow := make(map[int][]core.Peak)
	for _, p := range spec.Peaks {
		w := int(math.Floor(p.MZ / c.WindowWidth))
		byWindow[w] = append(byWindow[w], p)
	}

	var filtered []core.Peak
	for _, peaks := range byWindow {
		filtered = append(filtered, mostIntense(peaks, c.TopNPerWindow)...)
	}
	spec.Peaks = filtered
}

// filterTopN keeps only the N most intense peaks
func (c *Config) filterTopN(spec *core.Spectrum) {
	spec.Peaks = mostIntense(spec.Peaks, c.TopN)
}

// mostIntense returns up to n peaks by descending intensity. Equal
// intensities keep the lower m/z so the result does not depend on input order.
func mostIntense(peaks []core.Peak, n int) []core.Peak {
	if len(peaks) <= n {
		return peaks
	}

	// Create a copy and sort by intensity descending
	sorted := make([]core.Peak, len(peaks))
	copy(sorted, peaks)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Intensity != sorted[j].Intensity {
			return sorted[i].Intensity > sorted[j].Intensity
		}
		return sorted[i].MZ < sorted[j].MZ
	})

	return sorted[:n]
}

func keep(peaks []core.Peak, pred func(core.Peak) bool) []core.Peak {
	var filtered []core.Peak
	for _, peak := range peaks {
		if pred(peak) {
			filtered = append(filtered, peak)
		}
	}
	return filtered
}

// RemoveZeroIntensityPeaks removes peaks with zero or negative intensity
func RemoveZeroIntensityPeaks(spec *core.Spectrum) {
	spec.Peaks = keep(spec.Peaks, func(p core.Peak) bool { return p.Intensity > 0 })
}
