package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// ScanResolutionLimit bounds the accepted scan width and height in pixels.
// The upper bound is the instrument's 16-bit scan generator limit.
var ScanResolutionLimit = Limit{Min: 12, Max: 65535}

// Resolution is a scan resolution in pixels. Preset and custom resolutions
// share this one representation: a preset is just a Resolution constructed
// from a well-known name, and two resolutions with equal dimensions compare
// equal regardless of origin.
type Resolution struct {
	width  int
	height int
}

// presetResolutions are the instrument's named scanning resolutions in
// ascending width order.
var presetResolutions = []Resolution{
	{width: 512, height: 442},
	{width: 768, height: 512},
	{width: 1024, height: 884},
	{width: 1536, height: 1024},
	{width: 2048, height: 1768},
	{width: 3072, height: 2048},
	{width: 4096, height: 3536},
	{width: 6144, height: 4096},
}

// NewResolution constructs a custom resolution from pixel dimensions.
func NewResolution(width, height int) (Resolution, error) {
	if !InInterval(float64(width), ScanResolutionLimit, IntervalClosed) {
		return Resolution{}, validationErrorf("resolution.width",
			"%d px outside limits of %v and %v px", width, ScanResolutionLimit.Min, ScanResolutionLimit.Max)
	}
	if !InInterval(float64(height), ScanResolutionLimit, IntervalClosed) {
		return Resolution{}, validationErrorf("resolution.height",
			"%d px outside limits of %v and %v px", height, ScanResolutionLimit.Min, ScanResolutionLimit.Max)
	}
	return Resolution{width: width, height: height}, nil
}

// ParseResolution constructs a resolution from its "{width}x{height}" key,
// e.g. "1024x884". Both preset and custom keys parse through the same path.
func ParseResolution(key string) (Resolution, error) {
	parts := strings.Split(key, "x")
	if len(parts) != 2 {
		return Resolution{}, validationErrorf("resolution",
			"%q is not of the form {width}x{height}", key)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return Resolution{}, validationErrorf("resolution.width", "%q is not an integer", parts[0])
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return Resolution{}, validationErrorf("resolution.height", "%q is not an integer", parts[1])
	}
	return NewResolution(width, height)
}

// FromPreset constructs a resolution from a named preset key such as
// "1024x884". It yields exactly the same value a custom construction with
// the preset's dimensions would; unknown names are rejected.
func FromPreset(name string) (Resolution, error) {
	for _, p := range presetResolutions {
		if p.Key() == name {
			return p, nil
		}
	}
	return Resolution{}, validationErrorf("resolution",
		"%q is not a preset resolution, valid presets: %s", name, strings.Join(PresetKeys(), ", "))
}

// Width returns the horizontal pixel count.
func (r Resolution) Width() int { return r.width }

// Height returns the vertical pixel count.
func (r Resolution) Height() int { return r.height }

// Key returns the canonical "{width}x{height}" form. The key is always
// derived from the dimensions, never independently settable.
func (r Resolution) Key() string {
	return fmt.Sprintf("%dx%d", r.width, r.height)
}

// String implements fmt.Stringer.
func (r Resolution) String() string { return r.Key() }

// MarshalText encodes the resolution as its canonical key, so YAML and
// JSON documents carry "1024x884" rather than a struct.
func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.Key()), nil
}

// UnmarshalText parses a resolution from its canonical key.
func (r *Resolution) UnmarshalText(text []byte) error {
	parsed, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r Resolution) MarshalYAML() (interface{}, error) {
	return r.Key(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Resolution) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var key string
	if err := unmarshal(&key); err != nil {
		return err
	}
	return r.UnmarshalText([]byte(key))
}

// IsPreset reports whether the resolution matches one of the instrument's
// named presets. Capture paths use this to pick between the preset frame
// grab and the slower custom-resolution scan.
func (r Resolution) IsPreset() bool {
	for _, p := range presetResolutions {
		if p == r {
			return true
		}
	}
	return false
}

// PresetKeys returns the canonical keys of all named presets in ascending
// width order, for error messages and front-end pickers.
func PresetKeys() []string {
	keys := make([]string, 0, len(presetResolutions))
	for _, p := range presetResolutions {
		keys = append(keys, p.Key())
	}
	return keys
}
