package catalog

import (
	"fmt"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
)

// Compile turns a Spec into an engine Definition
func Compile(spec Spec) (engine.Definition, error) {
	calculate, err := buildCalculate(spec.Calculate)
	if err != nil {
		return engine.Definition{}, wrapSpec(spec, err)
	}
	shouldEmit, err := buildShouldEmit(spec.Emit)
	if err != nil {
		return engine.Definition{}, wrapSpec(spec, err)
	}

	def := engine.Definition{
		Name:                 spec.Name,
		Params:               append([]string(nil), spec.Params...),
		Outputs:              append([]string(nil), spec.Outputs...),
		SetParam:             spec.SetParam,
		Calculate:            calculate,
		ShouldEmit:           shouldEmit,
		ResolveSetParamValue: buildResolveSetParam(spec.SetParamOnChangeOnly),
	}
	if len(spec.Outputs) == 0 {
		def.Outputs = nil
	}
	if err := def.Validate(); err != nil {
		return engine.Definition{}, wrapSpec(spec, err)
	}
	return def, nil
}

// CompileAll compiles every enabled spec. Names must be unique.
func CompileAll(specs []Spec) ([]engine.Definition, error) {
	seen := make(map[string]struct{}, len(specs))
	defs := make([]engine.Definition, 0, len(specs))
	for _, spec := range specs {
		if !spec.IsEnabled() {
			continue
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: definition %q declared twice", errors.ErrInvalidConfig, spec.Name),
				"Catalog", "CompileAll", "check unique names")
		}
		seen[spec.Name] = struct{}{}

		def, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func wrapSpec(spec Spec, err error) error {
	return errors.Wrap(err, "Catalog", "Compile", fmt.Sprintf("compile definition %q", spec.Name))
}
