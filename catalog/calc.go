package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/c360/paramstream/engine"
	"github.com/c360/paramstream/errors"
)

type reducer func(operands []decimal.Decimal) decimal.Decimal

var reducers = map[string]reducer{
	CalcFirst: func(ops []decimal.Decimal) decimal.Decimal { return ops[0] },
	CalcLast:  func(ops []decimal.Decimal) decimal.Decimal { return ops[len(ops)-1] },
	CalcSum:   spread(decimal.Sum),
	CalcMean:  spread(decimal.Avg),
	CalcMin:   spread(decimal.Min),
	CalcMax:   spread(decimal.Max),
}

// spread adapts decimal's variadic aggregates. Operands are never empty
// because every definition has at least one param.
func spread(fn func(decimal.Decimal, ...decimal.Decimal) decimal.Decimal) reducer {
	return func(ops []decimal.Decimal) decimal.Decimal {
		return fn(ops[0], ops[1:]...)
	}
}

// buildCalculate returns the Calculate function for a calculation name.
// Operands are the slot values followed by any non-nil output results.
// Results are float64.
func buildCalculate(name string) (func(context.Context, engine.Input) (any, error), error) {
	if name == CalcCount {
		return func(_ context.Context, in engine.Input) (any, error) {
			if !in.HasPrevious {
				return 1.0, nil
			}
			prev, ok := in.Previous.(float64)
			if !ok {
				return 1.0, nil
			}
			return prev + 1, nil
		}, nil
	}

	reduce, ok := reducers[name]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown calculation %q", errors.ErrInvalidConfig, name),
			"Catalog", "buildCalculate", "look up calculation")
	}

	return func(_ context.Context, in engine.Input) (any, error) {
		operands, err := operandsOf(in)
		if err != nil {
			return nil, err
		}
		return reduce(operands).InexactFloat64(), nil
	}, nil
}

func operandsOf(in engine.Input) ([]decimal.Decimal, error) {
	operands := make([]decimal.Decimal, 0, len(in.Params)+len(in.Outputs))
	for _, p := range in.Params {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("parameter value %q is not numeric: %w", p, err)
		}
		operands = append(operands, d)
	}
	for _, o := range in.Outputs {
		if o == nil {
			continue
		}
		d, ok := toDecimal(o)
		if !ok {
			return nil, fmt.Errorf("output value %v (%T) is not numeric", o, o)
		}
		operands = append(operands, d)
	}
	return operands, nil
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case int32:
		return decimal.NewFromInt32(t), true
	case decimal.Decimal:
		return t, true
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}
