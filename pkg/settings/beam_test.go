package settings

import "testing"

func validBeamSettings() BeamSettings {
	return BeamSettings{
		VoltageKV:      30,
		VoltageTolKV:   1.5,
		CurrentNA:      10,
		CurrentTolNA:   0.5,
		HFWMM:          0.9,
		WorkingDistMM:  4.093,
		DynamicFocus:   false,
		TiltCorrection: false,
	}
}

func TestBeamSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*BeamSettings)
		beamType BeamType
		wantErr  bool
	}{
		{name: "valid electron", mutate: func(s *BeamSettings) {}, beamType: BeamElectron},
		{name: "valid ion", mutate: func(s *BeamSettings) {}, beamType: BeamIon},
		{
			name:     "electron with dynamic focus",
			mutate:   func(s *BeamSettings) { s.DynamicFocus = true },
			beamType: BeamElectron,
		},
		{
			name:     "ion rejects dynamic focus",
			mutate:   func(s *BeamSettings) { s.DynamicFocus = true },
			beamType: BeamIon,
			wantErr:  true,
		},
		{
			name:     "ion rejects tilt correction",
			mutate:   func(s *BeamSettings) { s.TiltCorrection = true },
			beamType: BeamIon,
			wantErr:  true,
		},
		{
			name:     "zero voltage",
			mutate:   func(s *BeamSettings) { s.VoltageKV = 0 },
			beamType: BeamElectron,
			wantErr:  true,
		},
		{
			name:     "negative current",
			mutate:   func(s *BeamSettings) { s.CurrentNA = -1 },
			beamType: BeamElectron,
			wantErr:  true,
		},
		{
			name:     "negative voltage tolerance",
			mutate:   func(s *BeamSettings) { s.VoltageTolKV = -0.1 },
			beamType: BeamElectron,
			wantErr:  true,
		},
		{
			name:     "zero hfw",
			mutate:   func(s *BeamSettings) { s.HFWMM = 0 },
			beamType: BeamElectron,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validBeamSettings()
			tt.mutate(&s)
			err := s.Validate(tt.beamType)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.beamType, err, tt.wantErr)
			}
		})
	}
}

func TestBeamSettingsApplied(t *testing.T) {
	s := validBeamSettings()

	tests := []struct {
		name string
		live BeamReadback
		want bool
	}{
		{
			name: "exact match",
			live: BeamReadback{VoltageKV: 30, CurrentNA: 10},
			want: true,
		},
		{
			name: "within tolerance",
			live: BeamReadback{VoltageKV: 31.2, CurrentNA: 9.6},
			want: true,
		},
		{
			name: "voltage drifted out",
			live: BeamReadback{VoltageKV: 32, CurrentNA: 10},
			want: false,
		},
		{
			name: "current drifted out",
			live: BeamReadback{VoltageKV: 30, CurrentNA: 9.4},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Applied(tt.live); got != tt.want {
				t.Errorf("Applied(%+v) = %v, want %v", tt.live, got, tt.want)
			}
		})
	}
}

func TestNewBeamDispatch(t *testing.T) {
	s := validBeamSettings()

	eb, err := NewBeam(BeamElectron, s)
	if err != nil {
		t.Fatalf("NewBeam(electron): %v", err)
	}
	if eb.Type() != BeamElectron || eb.DeviceID() != DeviceElectronBeam {
		t.Errorf("electron beam got type %v device %v", eb.Type(), eb.DeviceID())
	}

	ib, err := NewBeam(BeamIon, s)
	if err != nil {
		t.Fatalf("NewBeam(ion): %v", err)
	}
	if ib.Type() != BeamIon || ib.DeviceID() != DeviceIonBeam {
		t.Errorf("ion beam got type %v device %v", ib.Type(), ib.DeviceID())
	}

	if _, err := NewBeam(BeamType("laser"), s); err == nil {
		t.Error("expected error for unknown beam type")
	}
}
