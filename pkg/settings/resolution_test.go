package settings

import "testing"

func TestNewResolution(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		wantErr bool
	}{
		{name: "preset", width: 1024, height: 884, wantErr: false},
		{name: "arbitrary within limits", width: 800, height: 600, wantErr: false},
		{name: "minimum edge", width: 12, height: 12, wantErr: false},
		{name: "maximum edge", width: 65535, height: 65535, wantErr: false},
		{name: "width below limit", width: 11, height: 512, wantErr: true},
		{name: "height below limit", width: 512, height: 11, wantErr: true},
		{name: "width above limit", width: 65536, height: 512, wantErr: true},
		{name: "zero", width: 0, height: 0, wantErr: true},
		{name: "negative", width: -1024, height: 884, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewResolution(tt.width, tt.height)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewResolution(%d, %d) error = %v, wantErr %v", tt.width, tt.height, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if res.Width() != tt.width || res.Height() != tt.height {
				t.Errorf("got %dx%d, want %dx%d", res.Width(), res.Height(), tt.width, tt.height)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "1024x884", want: "1024x884"},
		{key: "6144x4096", want: "6144x4096"},
		{key: "800x600", want: "800x600"},
		{key: "1024", wantErr: true},
		{key: "1024x", wantErr: true},
		{key: "x884", wantErr: true},
		{key: "1024x884x2", wantErr: true},
		{key: "axb", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			res, err := ParseResolution(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolution(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if res.Key() != tt.want {
				t.Errorf("Key() = %q, want %q", res.Key(), tt.want)
			}
		})
	}
}

func TestResolutionKeyRoundTrip(t *testing.T) {
	for _, key := range PresetKeys() {
		res, err := ParseResolution(key)
		if err != nil {
			t.Fatalf("ParseResolution(%q) failed: %v", key, err)
		}
		if res.Key() != key {
			t.Errorf("round trip: got %q, want %q", res.Key(), key)
		}
		if !res.IsPreset() {
			t.Errorf("%q should be a preset", key)
		}
	}
}

func TestPresetKeysAscendingWidth(t *testing.T) {
	keys := PresetKeys()
	if len(keys) == 0 {
		t.Fatal("no preset keys")
	}
	prev := 0
	for _, key := range keys {
		res, err := ParseResolution(key)
		if err != nil {
			t.Fatalf("ParseResolution(%q) failed: %v", key, err)
		}
		if res.Width() <= prev {
			t.Fatalf("preset keys out of width order: %v", keys)
		}
		prev = res.Width()
	}
}

func TestResolutionIsPreset(t *testing.T) {
	res, err := NewResolution(800, 600)
	if err != nil {
		t.Fatalf("NewResolution: %v", err)
	}
	if res.IsPreset() {
		t.Error("800x600 should not be a preset")
	}
}

func TestFromPreset(t *testing.T) {
	res, err := FromPreset("3072x2048")
	if err != nil {
		t.Fatalf("FromPreset: %v", err)
	}
	if res.Width() != 3072 || res.Height() != 2048 {
		t.Errorf("got %dx%d, want 3072x2048", res.Width(), res.Height())
	}

	if _, err := FromPreset("800x600"); err == nil {
		t.Error("expected error for non-preset key")
	}
}

func TestResolutionEquality(t *testing.T) {
	a, _ := NewResolution(1536, 1024)
	b, _ := ParseResolution("1536x1024")
	if a != b {
		t.Error("identical resolutions should compare equal")
	}
}
