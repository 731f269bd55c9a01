package catalog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/errors"
)

func float(v float64) *float64 { return &v }
func boolean(v bool) *bool     { return &v }

func TestParse_YAMLAcceptsAnyKeyCase(t *testing.T) {
	doc := `
definitions:
  - name: A
    params: [p1, p2]
    calculate: sum
    emit:
      operator: gt
      value: 10
      minInterval: PT5S
  - Name: B
    Params: [q]
    Outputs: [A]
    Calculate: last
    setParam: b_out
    set-param-on-change-only: true
    enabled: false
`
	specs, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)

	want := []Spec{
		{
			Name:      "A",
			Params:    []string{"p1", "p2"},
			Calculate: CalcSum,
			Emit:      EmitSpec{Operator: OpGreaterThan, Value: float(10), MinInterval: "PT5S"},
		},
		{
			Name:                 "B",
			Params:               []string{"q"},
			Outputs:              []string{"A"},
			Calculate:            CalcLast,
			SetParam:             "b_out",
			SetParamOnChangeOnly: true,
			Enabled:              boolean(false),
		},
	}
	if diff := cmp.Diff(want, specs); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, specs[0].IsEnabled())
	assert.False(t, specs[1].IsEnabled())
}

func TestParse_JSONShapes(t *testing.T) {
	want := []Spec{{Name: "A", Params: []string{"p"}, Calculate: CalcMax}}

	tests := map[string]string{
		"definitions object": `{"definitions":[{"name":"A","params":["p"],"calculate":"max"}]}`,
		"bare list":          `[{"name":"A","params":["p"],"calculate":"max"}]`,
		"single definition":  `{"name":"A","params":["p"],"calculate":"max"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			specs, err := Parse([]byte(doc), FormatJSON)
			require.NoError(t, err)
			if diff := cmp.Diff(want, specs); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_TOML(t *testing.T) {
	doc := `
[[definitions]]
name = "A"
params = ["p1", "p2"]
calculate = "mean"
setParam = "avg"

[definitions.emit]
operator = "lte"
value = 2.5

[[definitions]]
name = "B"
params = ["q"]
calculate = "count"
`
	specs, err := Parse([]byte(doc), FormatTOML)
	require.NoError(t, err)

	want := []Spec{
		{
			Name:      "A",
			Params:    []string{"p1", "p2"},
			Calculate: CalcMean,
			SetParam:  "avg",
			Emit:      EmitSpec{Operator: OpLessThanEqual, Value: float(2.5)},
		},
		{Name: "B", Params: []string{"q"}, Calculate: CalcCount},
	}
	if diff := cmp.Diff(want, specs); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_EmptyDocuments(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatJSON, FormatTOML} {
		specs, err := Parse([]byte("  \n"), format)
		require.NoError(t, err, format)
		assert.Empty(t, specs, format)
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := map[string]string{
		"unknown calculation": `[{"name":"A","params":["p"],"calculate":"median"}]`,
		"missing params":      `[{"name":"A","calculate":"sum"}]`,
		"empty params":        `[{"name":"A","params":[],"calculate":"sum"}]`,
		"duplicate params":    `[{"name":"A","params":["p","p"],"calculate":"sum"}]`,
		"unknown field":       `[{"name":"A","params":["p"],"calculate":"sum","window":5}]`,
		"unknown operator":    `[{"name":"A","params":["p"],"calculate":"sum","emit":{"operator":"between"}}]`,
		"string threshold":    `[{"name":"A","params":["p"],"calculate":"sum","emit":{"operator":"gt","value":"10"}}]`,
		"missing name":        `[{"params":["p"],"calculate":"sum"}]`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), FormatJSON)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestParse_MalformedInput(t *testing.T) {
	_, err := Parse([]byte(`{"definitions": [`), FormatJSON)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = Parse([]byte("definitions: [\n"), FormatYAML)
	require.Error(t, err)

	_, err = Parse([]byte("[[definitions]\n"), FormatTOML)
	require.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"defs.yaml":        FormatYAML,
		"defs.YML":         FormatYAML,
		"dir/defs.json":    FormatJSON,
		"/etc/x/defs.toml": FormatTOML,
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFromPath("defs.ini")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
