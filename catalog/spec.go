package catalog

// Calculation names
const (
	CalcFirst = "first"
	CalcLast  = "last"
	CalcSum   = "sum"
	CalcMean  = "mean"
	CalcMin   = "min"
	CalcMax   = "max"
	CalcCount = "count"
)

// Emit operators
const (
	OpGreaterThan      = "gt"
	OpGreaterThanEqual = "gte"
	OpLessThan         = "lt"
	OpLessThanEqual    = "lte"
	OpEqual            = "eq"
	OpNotEqual         = "ne"
	OpChanged          = "changed"
	OpAlways           = "always"
)

// Spec is one declarative definition as read from a catalog file.
// Keys are matched after conversion to snake_case, so setParam, SetParam
// and set-param all populate SetParam.
type Spec struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Params      []string `json:"params"`
	Outputs     []string `json:"outputs,omitempty"`

	// Calculate is one of the Calc* names
	Calculate string   `json:"calculate"`
	Emit      EmitSpec `json:"emit"`

	SetParam             string `json:"set_param,omitempty"`
	SetParamOnChangeOnly bool   `json:"set_param_on_change_only,omitempty"`

	// Enabled defaults to true
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether the definition should be loaded
func (s Spec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EmitSpec decides when a result is emitted
type EmitSpec struct {
	// Operator defaults to OpChanged
	Operator string `json:"operator,omitempty"`

	// Value is the threshold for the comparison operators
	Value *float64 `json:"value,omitempty"`

	// MinInterval suppresses emission until this long after the previous
	// evaluation. Accepts Go ("500ms") or ISO 8601 ("PT0.5S") durations.
	MinInterval string `json:"min_interval,omitempty"`
}

// File is the top-level shape of a catalog file
type File struct {
	Definitions []Spec `json:"definitions"`
}
