package core

import (
	"math"
	"testing"
)

func TestPeptideMass(t *testing.T) {
	reg := NewRegistry()
	oxidation := &Modification{Name: "Oxidation", Target: 'M', Mass: 15.994915}

	tests := []struct {
		name      string
		sequence  string
		mods      map[int]*Modification
		wantMass  float64
		tolerance float64
	}{
		{
			name:      "simple tripeptide",
			sequence:  "AAA",
			wantMass:  231.121906,
			tolerance: 1e-5,
		},
		{
			name:      "PEPTIDE",
			sequence:  "PEPTIDE",
			wantMass:  799.359964,
			tolerance: 1e-5,
		},
		{
			name:      "with modification",
			sequence:  "AAM",
			mods:      map[int]*Modification{4: oxidation},
			wantMass:  reg.PeptideMass("AAM", nil) + 15.994915,
			tolerance: 1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.PeptideMass(tt.sequence, tt.mods)
			if math.Abs(got-tt.wantMass) > tt.tolerance {
				t.Errorf("PeptideMass() = %.6f, want %.6f (within %g)", got, tt.wantMass, tt.tolerance)
			}
		})
	}
}

func TestPeptideMassUnknownResidue(t *testing.T) {
	reg := NewRegistry()
	if got := reg.PeptideMass("QXQ", nil); !math.IsNaN(got) {
		t.Errorf("PeptideMass() = %v, want NaN", got)
	}

	reg.AddResidue('X', Formula{"C": 1})
	got := reg.PeptideMass("QXQ", nil)
	want := reg.PeptideMass("QQ", nil) + 12
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("PeptideMass() = %.6f, want %.6f", got, want)
	}
}

func TestMzConversions(t *testing.T) {
	tests := []struct {
		name   string
		mass   float64
		charge int
		wantMZ float64
	}{
		{"charge 1", 799.359964, 1, 800.367240},
		{"charge 2", 799.359964, 2, 400.687258},
		{"charge 3", 799.359964, 3, 267.460598},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mz := ToMz(tt.mass, tt.charge)
			if math.Abs(mz-tt.wantMZ) > 1e-5 {
				t.Errorf("ToMz() = %.6f, want %.6f", mz, tt.wantMZ)
			}
			if back := ToMass(mz, tt.charge); math.Abs(back-tt.mass) > 1e-9 {
				t.Errorf("ToMass() = %.6f, want %.6f", back, tt.mass)
			}
		})
	}
}

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		val       float64
		precision int
		want      float64
	}{
		{1.23456, 2, 1.23},
		{11801.30474, 2, 11801.3},
		{-0.000004, 5, 0},
	}

	for _, tt := range tests {
		got := RoundFloat(tt.val, tt.precision)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("RoundFloat(%v, %d) = %v, want %v", tt.val, tt.precision, got, tt.want)
		}
	}
}

func TestParseModSpec(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name       string
		spec       string
		wantCount  int
		wantTarget []rune
		wantLoc    []ModLocation
		wantErr    bool
	}{
		{name: "empty", spec: "", wantCount: 0},
		{
			name:       "named residue and terminus",
			spec:       "Carbamidomethyl@C;Acetyl@nterm",
			wantCount:  2,
			wantTarget: []rune{'C', 0},
			wantLoc:    []ModLocation{Anywhere, NTerminal},
		},
		{
			name:       "mass only",
			spec:       "15.994915@M",
			wantCount:  1,
			wantTarget: []rune{'M'},
			wantLoc:    []ModLocation{Anywhere},
		},
		{
			name:       "residue at terminus",
			spec:       "Gln->pyro-Glu@Q-nterm",
			wantCount:  1,
			wantTarget: []rune{'Q'},
			wantLoc:    []ModLocation{NTerminal},
		},
		{name: "unknown name", spec: "NotAMod@C", wantErr: true},
		{name: "missing target", spec: "Oxidation", wantErr: true},
		{name: "bad target", spec: "Oxidation@methionine", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mods, err := reg.ParseModSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModSpec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(mods) != tt.wantCount {
				t.Fatalf("ParseModSpec() returned %d mods, want %d", len(mods), tt.wantCount)
			}
			for i, m := range mods {
				if m.Target != tt.wantTarget[i] || m.Location != tt.wantLoc[i] {
					t.Errorf("mod %d = %c/%v, want %c/%v", i, m.Target, m.Location, tt.wantTarget[i], tt.wantLoc[i])
				}
			}
		})
	}

	base, _ := reg.Modification("Carbamidomethyl")
	if base.Target != 0 {
		t.Errorf("ParseModSpec() mutated catalogue entry target to %c", base.Target)
	}
}
