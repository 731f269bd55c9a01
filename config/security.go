package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits on configuration input
const (
	maxConfigSize = 10 << 20 // bytes per layer file
	maxJSONDepth  = 100
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

// errUnsafeInput marks configuration input rejected before parsing
var errUnsafeInput = errors.New("unsafe configuration input")

// validateConfigPath accepts absolute paths and relative paths that stay
// inside the working directory. Only .json layers are read.
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty config path", errUnsafeInput)
	case len(path) > maxPathLen:
		return fmt.Errorf("%w: path too long: %d > %d", errUnsafeInput, len(path), maxPathLen)
	case !strings.EqualFold(filepath.Ext(path), ".json"):
		return fmt.Errorf("%w: only JSON config files allowed: %s", errUnsafeInput, path)
	case !filepath.IsAbs(path) && !filepath.IsLocal(path):
		return fmt.Errorf("%w: %s resolves outside the working directory", errUnsafeInput, path)
	}
	return nil
}

// safeReadFile reads one layer after checking its path, type and size
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", errUnsafeInput, path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes > %d", errUnsafeInput, info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}

// validateEnvVar rejects over-long values and control characters other than tab
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%w: %s too long: %d > %d", errUnsafeInput, key, len(value), maxEnvVarLen)
	}
	for i, r := range value {
		if (r < 0x20 && r != '\t') || r == 0x7f {
			return fmt.Errorf("%w: control character %U in %s at byte %d", errUnsafeInput, r, key, i)
		}
	}
	return nil
}

// validateJSONDepth walks the token stream so deeply nested documents are
// rejected before they are decoded into maps
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		if delim == '{' || delim == '[' {
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("%w: JSON nesting too deep: > %d", errUnsafeInput, maxJSONDepth)
			}
		} else {
			depth--
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: %d unclosed brackets", depth)
	}
	return nil
}
