package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/paramstream/errors"
)

// ErrSkip is returned by Calculate, ShouldEmit or ResolveSetParamValue to skip
// the rest of a round. From Calculate or ShouldEmit it aborts the round without
// touching state; from ResolveSetParamValue it only suppresses the write-back.
var ErrSkip = errors.New("skip")

// ErrInvalidDefinition is wrapped by definition validation errors
var ErrInvalidDefinition = errors.New("invalid definition")

// Definition is a named computation over a fixed set of parameter labels.
// A Definition must not be modified after it has been added.
type Definition struct {
	// Name uniquely identifies the definition
	Name string

	// Params are the required labels, in the order Calculate receives them
	Params []string

	// Outputs names other definitions whose latest result is passed to
	// Calculate. Unknown or never-evaluated names yield nil.
	Outputs []string

	// SetParam, when set, receives each evaluated result as a parameter write
	SetParam string

	Calculate  func(ctx context.Context, in Input) (any, error)
	ShouldEmit func(ctx context.Context, r Round) (bool, error)

	// ResolveSetParamValue picks the value written to SetParam. When nil the
	// current result is written.
	ResolveSetParamValue func(ctx context.Context, r Round) (any, error)
}

// Input is passed to Calculate
type Input struct {
	Previous    any
	HasPrevious bool

	// Params holds the slot values in Definition.Params order
	Params []string

	// Outputs holds the referenced definitions' previous results in
	// Definition.Outputs order, or nil when none are declared
	Outputs []any
}

// Round describes one evaluation for ShouldEmit and ResolveSetParamValue
type Round struct {
	Previous    any
	HasPrevious bool
	Current     any

	// Elapsed is the time since the last completed evaluation.
	// HasElapsed is false on the first evaluation.
	Elapsed    time.Duration
	HasElapsed bool
}

// Validate checks that the definition can be added
func (d Definition) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...)),
			"Engine", "AddDefinition", "validate definition")
	}

	if d.Name == "" {
		return invalid("name is required")
	}
	if len(d.Params) == 0 {
		return invalid("definition %q needs at least one param", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if p == "" {
			return invalid("definition %q has an empty param", d.Name)
		}
		if _, dup := seen[p]; dup {
			return invalid("definition %q lists param %q twice", d.Name, p)
		}
		seen[p] = struct{}{}
	}
	for _, o := range d.Outputs {
		if o == "" {
			return invalid("definition %q has an empty output reference", d.Name)
		}
	}
	if d.Calculate == nil {
		return invalid("definition %q has no calculate function", d.Name)
	}
	if d.ShouldEmit == nil {
		return invalid("definition %q has no should-emit function", d.Name)
	}
	return nil
}

func (d Definition) listens(label string) bool {
	for _, p := range d.Params {
		if p == label {
			return true
		}
	}
	return false
}
