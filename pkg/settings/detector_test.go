package settings

import "testing"

func TestDetectorValidate(t *testing.T) {
	tests := []struct {
		name    string
		det     Detector
		wantErr bool
	}{
		{
			name: "etd secondary electrons",
			det:  Detector{Type: DetectorETD, Mode: ModeSecondaryElectrons, Brightness: 0.5, Contrast: 0.5},
		},
		{
			name: "cbs angular",
			det:  Detector{Type: DetectorCBS, Mode: ModeAngular, Brightness: 0.2, Contrast: 0.8},
		},
		{
			name: "ebsd none mode",
			det:  Detector{Type: DetectorEBSD, Mode: ModeNone, Brightness: 0, Contrast: 0},
		},
		{
			name:    "etd rejects angular",
			det:     Detector{Type: DetectorETD, Mode: ModeAngular, Brightness: 0.5, Contrast: 0.5},
			wantErr: true,
		},
		{
			name:    "tld rejects secondary ions",
			det:     Detector{Type: DetectorTLD, Mode: ModeSecondaryIons, Brightness: 0.5, Contrast: 0.5},
			wantErr: true,
		},
		{
			name:    "unknown type",
			det:     Detector{Type: DetectorType("SIRIUS"), Mode: ModeAll, Brightness: 0.5, Contrast: 0.5},
			wantErr: true,
		},
		{
			name:    "brightness above one",
			det:     Detector{Type: DetectorETD, Mode: ModeAll, Brightness: 1.1, Contrast: 0.5},
			wantErr: true,
		},
		{
			name:    "negative contrast",
			det:     Detector{Type: DetectorETD, Mode: ModeAll, Brightness: 0.5, Contrast: -0.1},
			wantErr: true,
		},
		{
			name: "brightness edges",
			det:  Detector{Type: DetectorETD, Mode: ModeAll, Brightness: 0, Contrast: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.det.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectorApplied(t *testing.T) {
	det, err := NewDetector(DetectorETD, ModeSecondaryElectrons, 0.45, 0.80)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	tests := []struct {
		name string
		live DetectorReadback
		want bool
	}{
		{
			name: "exact",
			live: DetectorReadback{Type: DetectorETD, Mode: ModeSecondaryElectrons, Brightness: 0.45, Contrast: 0.80},
			want: true,
		},
		{
			name: "within cb tolerance",
			live: DetectorReadback{Type: DetectorETD, Mode: ModeSecondaryElectrons, Brightness: 0.45005, Contrast: 0.79995},
			want: true,
		},
		{
			name: "brightness drifted",
			live: DetectorReadback{Type: DetectorETD, Mode: ModeSecondaryElectrons, Brightness: 0.46, Contrast: 0.80},
			want: false,
		},
		{
			name: "wrong mode",
			live: DetectorReadback{Type: DetectorETD, Mode: ModeBackscatterElectrons, Brightness: 0.45, Contrast: 0.80},
			want: false,
		},
		{
			name: "wrong type",
			live: DetectorReadback{Type: DetectorTLD, Mode: ModeSecondaryElectrons, Brightness: 0.45, Contrast: 0.80},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := det.Applied(tt.live); got != tt.want {
				t.Errorf("Applied(%+v) = %v, want %v", tt.live, got, tt.want)
			}
		})
	}
}

func TestDetectorAppliedAutoCB(t *testing.T) {
	det := Detector{Type: DetectorETD, Mode: ModeSecondaryElectrons, AutoCB: true}

	// Levels are wherever the auto routine left them; only routing counts.
	live := DetectorReadback{Type: DetectorETD, Mode: ModeSecondaryElectrons, Brightness: 0.91, Contrast: 0.12}
	if !det.Applied(live) {
		t.Error("auto CB should accept any brightness/contrast levels")
	}

	live.Mode = ModeAll
	if det.Applied(live) {
		t.Error("auto CB still requires matching routing")
	}
}
