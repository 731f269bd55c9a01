package engine

import (
	"fmt"
)

// Stage names the step of an evaluation that failed
type Stage string

// Evaluation stages
const (
	StageCalculate       Stage = "calculate"
	StageShouldEmit      Stage = "should_emit"
	StageResolveSetParam Stage = "resolve_set_param"
	StageWriteBack       Stage = "write_back"
)

// EvaluationError reports a failed callback or write-back for one definition
type EvaluationError struct {
	Definition string
	Stage      Stage
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("engine: definition %q: %s failed: %v", e.Definition, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives every evaluation error
type ErrorHandler func(*EvaluationError)
