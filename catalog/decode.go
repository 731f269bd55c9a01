package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/iancoleman/strcase"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/paramstream/errors"
)

//go:embed schema.json
var schemaJSON string

// Format is a catalog file encoding
type Format string

// Supported formats
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unsupported catalog file extension %q", errors.ErrInvalidConfig, filepath.Ext(path)),
			"Catalog", "FormatFromPath", "detect format")
	}
}

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// Parse decodes a catalog document. A document may hold a definitions list,
// a bare list of definitions or a single definition.
func Parse(data []byte, format Format) ([]Spec, error) {
	raw, err := decodeRaw(data, format)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Parse", "decode "+string(format))
	}
	if raw == nil {
		return nil, nil
	}

	doc := normalizeKeys(raw)
	switch v := doc.(type) {
	case []any:
		doc = map[string]any{"definitions": v}
	case map[string]any:
		if _, ok := v["definitions"]; !ok {
			if _, single := v["name"]; single {
				doc = map[string]any{"definitions": []any{v}}
			}
		}
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Parse", "re-encode document")
	}
	var file File
	if err := json.Unmarshal(encoded, &file); err != nil {
		return nil, errors.WrapInvalid(err, "Catalog", "Parse", "decode definitions")
	}
	return file.Definitions, nil
}

func decodeRaw(data []byte, format Format) (any, error) {
	var raw any
	switch format {
	case FormatJSON:
		if len(strings.TrimSpace(string(data))) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case FormatTOML:
		var table map[string]any
		if err := toml.Unmarshal(data, &table); err != nil {
			return nil, err
		}
		if len(table) == 0 {
			return nil, nil
		}
		raw = table
	default:
		return nil, fmt.Errorf("%w: unknown format %q", errors.ErrInvalidConfig, format)
	}
	return raw, nil
}

// normalizeKeys converts every map key to snake_case. Values are untouched.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strcase.ToSnake(k)] = normalizeKeys(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strcase.ToSnake(fmt.Sprint(k))] = normalizeKeys(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}

func validateDocument(doc any) error {
	schema, err := compiledSchema()
	if err != nil {
		return errors.WrapFatal(err, "Catalog", "validateDocument", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Catalog", "validateDocument", "validate document")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"Catalog", "validateDocument", "check schema")
}
