package plan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Supported plan file schema versions, inclusive. Plans written for a
// newer engine are rejected rather than partially understood.
const (
	MinSupportedVersion = 1.0
	MaxSupportedVersion = 1.0
)

// Loader parses and validates experiment plan files.
type Loader struct {
	validate *validator.Validate
	schemas  *SchemaRegistry
}

// NewLoader creates a plan loader with the built-in step schemas.
func NewLoader() *Loader {
	return &Loader{
		validate: validator.New(),
		schemas:  NewSchemaRegistry(),
	}
}

// Load reads, parses, and fully validates a plan file. The returned plan
// carries the hash of the file's bytes so a resume checkpoint can detect
// plan edits.
func (l *Loader) Load(ctx context.Context, path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	p, err := l.Parse(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse parses and validates plan bytes. Parsing the same bytes always
// yields the same plan and hash.
func (l *Loader) Parse(ctx context.Context, raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	// Unset frequencies mean every slice.
	for i := range p.Steps {
		if p.Steps[i].Frequency == 0 {
			p.Steps[i].Frequency = 1
		}
	}

	if err := checkVersion(p.Version); err != nil {
		return nil, err
	}
	if err := l.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("plan validation: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	for _, step := range p.Steps {
		if err := l.schemas.ValidateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
	}

	sum := sha256.Sum256(raw)
	p.Hash = hex.EncodeToString(sum[:])
	return &p, nil
}

// checkVersion rejects plan files outside the supported schema range.
func checkVersion(version string) error {
	if version == "" {
		return fmt.Errorf("config_file_version is required")
	}
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return fmt.Errorf("config_file_version %q is not a number", version)
	}
	if v < MinSupportedVersion || v > MaxSupportedVersion {
		return fmt.Errorf("config_file_version %v is outside the supported range [%v, %v]",
			v, MinSupportedVersion, MaxSupportedVersion)
	}
	return nil
}
