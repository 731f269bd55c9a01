package catalog

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sosodev/duration"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
)

type comparison func(cmp int) bool

var comparisons = map[string]comparison{
	OpGreaterThan:      func(c int) bool { return c > 0 },
	OpGreaterThanEqual: func(c int) bool { return c >= 0 },
	OpLessThan:         func(c int) bool { return c < 0 },
	OpLessThanEqual:    func(c int) bool { return c <= 0 },
	OpEqual:            func(c int) bool { return c == 0 },
	OpNotEqual:         func(c int) bool { return c != 0 },
}

// buildShouldEmit returns the ShouldEmit function for spec
func buildShouldEmit(spec EmitSpec) (func(context.Context, engine.Round) (bool, error), error) {
	minInterval, err := parseInterval(spec.MinInterval)
	if err != nil {
		return nil, err
	}

	var predicate func(engine.Round) (bool, error)
	switch op := operatorOf(spec); op {
	case OpAlways:
		predicate = func(engine.Round) (bool, error) { return true, nil }
	case OpChanged:
		predicate = func(r engine.Round) (bool, error) {
			return !r.HasPrevious || !sameValue(r.Previous, r.Current), nil
		}
	default:
		compare, ok := comparisons[op]
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: unsupported operator %q", errors.ErrInvalidConfig, op),
				"Catalog", "buildShouldEmit", "look up operator")
		}
		if spec.Value == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: operator %q needs a value", errors.ErrInvalidConfig, op),
				"Catalog", "buildShouldEmit", "check threshold")
		}
		threshold := decimal.NewFromFloat(*spec.Value)
		predicate = func(r engine.Round) (bool, error) {
			current, ok := toDecimal(r.Current)
			if !ok {
				return false, fmt.Errorf("cannot compare %v (%T) with operator %q", r.Current, r.Current, op)
			}
			return compare(current.Cmp(threshold)), nil
		}
	}

	return func(_ context.Context, r engine.Round) (bool, error) {
		if minInterval > 0 && r.HasElapsed && r.Elapsed < minInterval {
			return false, nil
		}
		return predicate(r)
	}, nil
}

// buildResolveSetParam suppresses write-backs of an unchanged result
func buildResolveSetParam(onChangeOnly bool) func(context.Context, engine.Round) (any, error) {
	if !onChangeOnly {
		return nil
	}
	return func(_ context.Context, r engine.Round) (any, error) {
		if r.HasPrevious && sameValue(r.Previous, r.Current) {
			return nil, engine.ErrSkip
		}
		return r.Current, nil
	}
}

func operatorOf(spec EmitSpec) string {
	if spec.Operator == "" {
		return OpChanged
	}
	return spec.Operator
}

func sameValue(a, b any) bool {
	da, okA := toDecimal(a)
	db, okB := toDecimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	return reflect.DeepEqual(a, b)
}

// parseInterval accepts Go duration strings and ISO 8601 durations
func parseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: invalid min_interval %q", errors.ErrInvalidConfig, s),
			"Catalog", "parseInterval", "parse duration")
	}
	return d.ToTimeDuration(), nil
}
