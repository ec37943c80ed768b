package plan

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// SchemaRegistry manages CUE schemas for step payload validation. The Go
// types catch structural problems; the schemas pin the physical envelopes
// (unit ranges, enumerations) in one declarative place.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[StepKind]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in step
// schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[StepKind]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema(KindImage, builtinImageSchema)
	sr.RegisterSchema(KindFIB, builtinFIBSchema)
	sr.RegisterSchema(KindEDS, builtinAnalysisSchema)
	sr.RegisterSchema(KindEBSD, builtinAnalysisSchema)
	sr.RegisterSchema(KindCustom, builtinCustomSchema)
}

// RegisterSchema registers a CUE schema for the given step kind.
func (sr *SchemaRegistry) RegisterSchema(kind StepKind, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", kind, err)
	}

	sr.schemas[kind] = val
	return nil
}

// GetSchema retrieves a schema by step kind.
func (sr *SchemaRegistry) GetSchema(kind StepKind) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[kind]
	return val, ok
}

// ValidateStep validates a step's payload against the schema for its kind.
func (sr *SchemaRegistry) ValidateStep(ctx context.Context, step StepSpec) error {
	schema, ok := sr.GetSchema(step.Kind)
	if !ok {
		return fmt.Errorf("no schema for step kind %s", step.Kind)
	}

	var payload interface{}
	switch step.Kind {
	case KindImage:
		payload = step.Image
	case KindFIB:
		payload = step.FIB
	case KindEDS, KindEBSD:
		payload = step.Analysis
	case KindCustom:
		payload = step.Custom
	}
	if payload == nil {
		return fmt.Errorf("step kind %s has no payload", step.Kind)
	}

	// Validate the serialized form so schemas see exactly what the plan
	// file carries (resolutions as "WxH" keys and so on).
	generic, err := toGeneric(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	dataVal := sr.ctx.Encode(generic)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

func toGeneric(payload interface{}) (interface{}, error) {
	raw, err := yaml.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// Built-in schema definitions

const builtinBeamSchema = `
#Beam: {
	// Voltage and current are physical setpoints; tolerances bound the
	// accepted readback drift.
	voltage_kv:     number & >0 & <=30
	voltage_tol_kv: number & >=0
	current_na:     number & >0 & <=1000
	current_tol_na: number & >=0

	hfw_mm:          number & >0
	working_dist_mm: number & >0

	dynamic_focus?:   bool
	tilt_correction?: bool
}
`

const builtinImagePayloadSchema = builtinBeamSchema + `
#Image: {
	beam_type: "electron" | "ion"
	beam:      #Beam

	detector: {
		type:       "ETD" | "TLD" | "ICE" | "ABS" | "CBS" | "EBSD" | "EDS"
		mode:       string
		brightness: number & >=0 & <=1
		contrast:   number & >=0 & <=1
		auto_cb?:   bool
	}

	scan: {
		rotation_deg:  number & >=-360 & <=360
		dwell_time_us: number & >0
		resolution:    string & =~"^[0-9]+x[0-9]+$"
	}

	bit_depth: 8 | 16
}
`

const builtinImageSchema = builtinImagePayloadSchema + `
#Image
`

const builtinFIBSchema = builtinImagePayloadSchema + `
{
	image: #Image & {beam_type: "ion"}

	mill_beam: #Beam

	application: string & !=""

	pattern: {
		type:        "rectangle" | "regular_cross_section" | "cleaning_cross_section"
		center_x_um: number
		center_y_um: number
		width_um:    number & >0
		height_um:   number & >0
		depth_um:    number & >0
		scan_direction: "TopToBottom" | "BottomToTop" | "LeftToRight" | "RightToLeft"
	}
}
`

const builtinAnalysisSchema = builtinImagePayloadSchema + `
{
	image: #Image & {beam_type: "electron"}
}
`

const builtinCustomSchema = `
{
	executable: string & !=""
	script:     string & !=""
}
`
