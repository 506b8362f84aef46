package scoring

import (
	"math"

	"github.com/ChrisMcGann/psmsearch/pkg/core"
)

const (
	xcorrWindows        = 10
	xcorrWindowMax      = 50.0
	xcorrOffset         = 75
	xcorrPrecursorRange = 1.5
)

// XcorrPrepare applies the Xcorr preprocessing to a low-resolution spectrum:
// peaks are binned on the unit-resolution grid with square-rooted intensities,
// each of ten windows is normalised to a maximum of 50, and the mean of the
// surrounding 75 bins on either side is subtracted. Peaks within 1.5 m/z of
// the precursor are discarded. The transform runs at most once per spectrum.
func XcorrPrepare(spec *core.Spectrum) {
	if spec.XcorrProcessed {
		return
	}
	spec.XcorrProcessed = true
	if len(spec.Peaks) == 0 {
		return
	}

	spec.SortPeaks()
	w := core.LowResolutionBinWidth
	first := math.Round(spec.Peaks[0].MZ / w)
	last := math.Round(spec.Peaks[len(spec.Peaks)-1].MZ / w)
	n := int(last-first) + 1

	bins := make([]float64, n)
	for _, p := range spec.Peaks {
		if spec.PrecursorMZ > 0 && math.Abs(p.MZ-spec.PrecursorMZ) <= xcorrPrecursorRange {
			continue
		}
		i := int(math.Round(p.MZ/w) - first)
		if v := math.Sqrt(p.Intensity); v > bins[i] {
			bins[i] = v
		}
	}

	windowWidth := (n + xcorrWindows - 1) / xcorrWindows
	for start := 0; start < n; start += windowWidth {
		end := min(start+windowWidth, n)
		top := 0.0
		for i := start; i < end; i++ {
			top = max(top, bins[i])
		}
		if top == 0 {
			continue
		}
		for i := start; i < end; i++ {
			bins[i] = bins[i] / top * xcorrWindowMax
		}
	}

	// prefix sums make the sliding mean linear in the number of bins
	prefix := make([]float64, n+1)
	for i, v := range bins {
		prefix[i+1] = prefix[i] + v
	}

	peaks := make([]core.Peak, 0, len(spec.Peaks))
	for i := range bins {
		lo := max(0, i-xcorrOffset)
		hi := min(n, i+xcorrOffset+1)
		mean := (prefix[hi] - prefix[lo]) / float64(2*xcorrOffset+1)
		if v := bins[i] - mean; v > 0 {
			peaks = append(peaks, core.Peak{MZ: (first + float64(i)) * w, Intensity: v, Charge: 1})
		}
	}

	spec.Peaks = peaks
	spec.Envelopes = nil
	spec.Prepare()
}
