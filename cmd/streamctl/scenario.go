package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/wippyai/wasm-async/errors"
	"go.bytecodealliance.org/wit"
)

var validate = validator.New()

// Scenario is a scripted sequence of stream, future and error-context
// operations replayed against one store.
type Scenario struct {
	Name         string         `toml:"name" json:"name" validate:"required" jsonschema:"description=Scenario name"`
	MemoryPages  uint32         `toml:"memory_pages" json:"memory_pages,omitempty" validate:"omitempty,min=1,max=1024" jsonschema:"description=Linear memory pages per instance"`
	MaxTransmits int            `toml:"max_transmits" json:"max_transmits,omitempty" validate:"omitempty,min=1"`
	Instances    []InstanceSpec `toml:"instances" json:"instances" validate:"required,min=1,unique=Name,dive"`
	Types        []TypeSpec     `toml:"types" json:"types,omitempty" validate:"dive"`
	Steps        []Step         `toml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// InstanceSpec declares a guest instance.
type InstanceSpec struct {
	Name string `toml:"name" json:"name" validate:"required"`
}

// TypeSpec declares a stream or future type on an instance. Type indices
// count from zero per instance in declaration order.
type TypeSpec struct {
	Instance string `toml:"instance" json:"instance" validate:"required"`
	Kind     string `toml:"kind" json:"kind" validate:"required,oneof=stream future" jsonschema:"enum=stream,enum=future"`
	Elem     string `toml:"elem" json:"elem,omitempty" validate:"omitempty,elem"`
}

// Step is one operation.
type Step struct {
	Op       string `toml:"op" json:"op" validate:"required,oneof=new transfer lower lift write read cancel-read cancel-write close-readable close-writable host-new host-write host-read host-cancel-read host-cancel-write host-close-reader host-close-writer error-context error-context-drop remove-instance"`
	Instance string `toml:"instance" json:"instance,omitempty"`
	Type     uint32 `toml:"type" json:"type,omitempty"`
	To       string `toml:"to" json:"to,omitempty"`
	ToType   uint32 `toml:"to_type" json:"to_type,omitempty"`
	Handle   string `toml:"handle" json:"handle,omitempty"`
	Bind     string `toml:"bind" json:"bind,omitempty"`
	Kind     string `toml:"kind" json:"kind,omitempty" validate:"omitempty,oneof=stream future"`
	Elem     string `toml:"elem" json:"elem,omitempty" validate:"omitempty,elem"`
	Count    uint32 `toml:"count" json:"count,omitempty"`
	Values   []any  `toml:"values" json:"values,omitempty"`
	Message  string `toml:"message" json:"message,omitempty"`
	ErrCtx   string `toml:"error_context" json:"error_context,omitempty" jsonschema:"description=Error context binding passed to close-writable"`
	Expect   string `toml:"expect" json:"expect,omitempty" jsonschema:"description=Expected status: a count or blocked or closed or closed|N or error"`
}

var elemTypes = map[string]wit.Type{
	"bool":   wit.Bool{},
	"u8":     wit.U8{},
	"u16":    wit.U16{},
	"u32":    wit.U32{},
	"u64":    wit.U64{},
	"s8":     wit.S8{},
	"s16":    wit.S16{},
	"s32":    wit.S32{},
	"s64":    wit.S64{},
	"f32":    wit.F32{},
	"f64":    wit.F64{},
	"char":   wit.Char{},
	"string": wit.String{},
}

func init() {
	validate.RegisterValidation("elem", func(fl validator.FieldLevel) bool {
		_, ok := elemTypes[fl.Field().String()]
		return ok
	})
}

// elemType returns the WIT type named name; the empty name is no payload.
func elemType(name string) wit.Type {
	return elemTypes[name]
}

func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return parseScenario(string(data))
}

func parseScenario(data string) (*Scenario, error) {
	var sc Scenario
	if _, err := toml.Decode(data, &sc); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode scenario")
	}
	if sc.MemoryPages == 0 {
		sc.MemoryPages = 1
	}
	if err := validate.Struct(&sc); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "validate scenario")
	}
	if err := sc.check(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// check verifies references that struct tags cannot express.
func (sc *Scenario) check() error {
	instances := make(map[string]bool, len(sc.Instances))
	for _, in := range sc.Instances {
		instances[in.Name] = true
	}
	for i, ty := range sc.Types {
		if !instances[ty.Instance] {
			return invalid("type %d: unknown instance %q", i, ty.Instance)
		}
	}

	bound := make(map[string]bool)
	for i, st := range sc.Steps {
		n := i + 1
		if st.Instance != "" && !instances[st.Instance] {
			return invalid("step %d: unknown instance %q", n, st.Instance)
		}
		if st.To != "" && !instances[st.To] {
			return invalid("step %d: unknown instance %q", n, st.To)
		}
		for _, ref := range []string{st.Handle, st.ErrCtx} {
			if ref != "" && !bound[ref] {
				return invalid("step %d: %q is not bound by an earlier step", n, ref)
			}
		}
		switch st.Op {
		case "new", "error-context":
			if st.Instance == "" {
				return invalid("step %d: %s needs an instance", n, st.Op)
			}
		case "transfer", "lower":
			if st.Handle == "" || st.To == "" {
				return invalid("step %d: %s needs a handle and a destination", n, st.Op)
			}
		case "host-new":
			if st.Kind == "" {
				return invalid("step %d: host-new needs a kind", n)
			}
		case "remove-instance":
			if st.Instance == "" {
				return invalid("step %d: remove-instance needs an instance", n)
			}
		default:
			if st.Handle == "" {
				return invalid("step %d: %s needs a handle", n, st.Op)
			}
		}
		if st.Bind != "" {
			bound[st.Bind] = true
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidData).Detail(format, args...).Build()
}

// scenarioSchema returns the JSON Schema of the scenario file format.
func scenarioSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Scenario{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}

// matches reports whether status satisfies the expectation want. Values
// appended to a status after a space are ignored.
func matches(want, status string) bool {
	want = strings.TrimSpace(want)
	return want == "" || status == want || strings.HasPrefix(status, want+" ")
}
