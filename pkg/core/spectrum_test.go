package core

import (
	"math"
	"testing"
)

func TestSpectrumValidation(t *testing.T) {
	tests := []struct {
		name    string
		spec    *Spectrum
		wantErr bool
	}{
		{
			name: "valid spectrum",
			spec: &Spectrum{
				PrecursorCharge: 2,
				PrecursorMZ:     400.5,
				Peaks: []Peak{
					{MZ: 100.0, Intensity: 1000.0},
					{MZ: 200.0, Intensity: 2000.0},
				},
			},
			wantErr: false,
		},
		{
			name: "mass without m/z",
			spec: &Spectrum{
				PrecursorCharge: 2,
				PrecursorMass:   799.36,
				Peaks:           []Peak{{MZ: 100.0, Intensity: 1000.0}},
			},
			wantErr: false,
		},
		{
			name: "zero charge",
			spec: &Spectrum{
				PrecursorCharge: 0,
				PrecursorMZ:     400.5,
				Peaks:           []Peak{{MZ: 100.0, Intensity: 1000.0}},
			},
			wantErr: true,
		},
		{
			name: "no precursor",
			spec: &Spectrum{
				PrecursorCharge: 2,
				Peaks:           []Peak{{MZ: 100.0, Intensity: 1000.0}},
			},
			wantErr: true,
		},
		{
			name: "no peaks",
			spec: &Spectrum{
				PrecursorCharge: 2,
				PrecursorMZ:     400.5,
				Peaks:           []Peak{},
			},
			wantErr: true,
		},
		{
			name: "unsorted peaks",
			spec: &Spectrum{
				PrecursorCharge: 2,
				PrecursorMZ:     400.5,
				Peaks: []Peak{
					{MZ: 200.0, Intensity: 2000.0},
					{MZ: 100.0, Intensity: 1000.0},
				},
			},
			wantErr: true,
		},
		{
			name: "NaN m/z",
			spec: &Spectrum{
				PrecursorCharge: 2,
				PrecursorMZ:     400.5,
				Peaks:           []Peak{{MZ: math.NaN(), Intensity: 1000.0}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSortPeaks(t *testing.T) {
	spec := &Spectrum{
		Peaks: []Peak{
			{MZ: 300.0, Intensity: 100.0},
			{MZ: 100.0, Intensity: 200.0},
			{MZ: 200.0, Intensity: 150.0},
		},
	}

	spec.SortPeaks()

	if len(spec.Peaks) != 3 {
		t.Fatalf("Expected 3 peaks, got %d", len(spec.Peaks))
	}

	expected := []float64{100.0, 200.0, 300.0}
	for i, peak := range spec.Peaks {
		if peak.MZ != expected[i] {
			t.Errorf("Peak %d: expected m/z %.1f, got %.1f", i, expected[i], peak.MZ)
		}
	}
}

func TestPrepare(t *testing.T) {
	spec := &Spectrum{
		PrecursorMZ:     400.687258,
		PrecursorCharge: 2,
		Peaks: []Peak{
			{MZ: 300.0, Intensity: 100.0},
			{MZ: 100.0, Intensity: 200.0},
			{MZ: 200.5, Intensity: 50.0, Charge: 2},
		},
	}

	spec.Prepare()

	if spec.TotalIonCurrent != 350 {
		t.Errorf("TotalIonCurrent = %v, want 350", spec.TotalIonCurrent)
	}
	if math.Abs(spec.PrecursorMass-799.359964) > 1e-5 {
		t.Errorf("PrecursorMass = %.6f, want 799.359964", spec.PrecursorMass)
	}
	if len(spec.Envelopes) != 3 {
		t.Fatalf("len(Envelopes) = %d, want 3", len(spec.Envelopes))
	}
	for i := 1; i < len(spec.Envelopes); i++ {
		if spec.Envelopes[i].MonoisotopicMass < spec.Envelopes[i-1].MonoisotopicMass {
			t.Errorf("Envelopes not sorted by mass at %d", i)
		}
	}
	charged := spec.Envelopes[spec.ClosestEnvelope(ToMass(200.5, 2))]
	if charged.Charge != 2 || charged.TotalIntensity != 50 {
		t.Errorf("charge-2 envelope = %+v", charged)
	}
}

func TestClosestLookups(t *testing.T) {
	spec := &Spectrum{
		Peaks: []Peak{{MZ: 100, Intensity: 1}, {MZ: 200, Intensity: 1}, {MZ: 300, Intensity: 1}},
	}
	spec.Prepare()

	tests := []struct {
		mz   float64
		want int
	}{
		{mz: 50, want: 0},
		{mz: 149, want: 0},
		{mz: 151, want: 1},
		{mz: 299.9, want: 2},
		{mz: 1000, want: 2},
	}

	for _, tt := range tests {
		if got := spec.ClosestPeak(tt.mz); got != tt.want {
			t.Errorf("ClosestPeak(%v) = %d, want %d", tt.mz, got, tt.want)
		}
		if got := spec.ClosestEnvelope(ToMass(tt.mz, 1)); got != tt.want {
			t.Errorf("ClosestEnvelope(%v) = %d, want %d", tt.mz, got, tt.want)
		}
	}

	empty := &Spectrum{}
	if empty.ClosestPeak(100) != -1 || empty.ClosestEnvelope(100) != -1 {
		t.Errorf("closest lookups on an empty spectrum should return -1")
	}
}

func TestSpectrumName(t *testing.T) {
	tests := []struct {
		spec *Spectrum
		want string
	}{
		{spec: &Spectrum{ScanNumber: 12}, want: "scan=12"},
		{spec: &Spectrum{ScanNumber: 12, Title: "run1.12.12.2"}, want: "run1.12.12.2"},
	}

	for _, tt := range tests {
		if got := tt.spec.Name(); got != tt.want {
			t.Errorf("Name() = %s, want %s", got, tt.want)
		}
	}
}
