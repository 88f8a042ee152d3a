// Package config loads imposter configuration files: YAML or JSON documents
// listing the imposters to start, discovered directly or through glob
// patterns. Parsed documents are checked against an embedded JSON Schema
// before any imposter is built.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/getstubd/stubd/pkg/imposter"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
	ErrNoFilesMatched   = errors.New("no configuration files matched")
)

// Document is the top-level shape of an imposter configuration file.
type Document struct {
	Imposters []imposter.Config `json:"imposters" yaml:"imposters"`
}

// LoadFromFile reads a Document from a JSON or YAML file. The format is
// auto-detected by extension (.yaml/.yml for YAML, otherwise JSON). The
// parsed document is schema-validated before being returned.
func LoadFromFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	if isYAMLPath(path) {
		return parseYAML(path, data)
	}
	return parseJSON(path, data)
}

// LoadFromGlob expands a doublestar pattern and merges every matched file
// into one Document, in sorted path order so imposter ordering is stable.
// A plain path with no metacharacters loads that single file.
func LoadFromGlob(pattern string) (*Document, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		return LoadFromFile(pattern)
	}

	paths, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFilesMatched, pattern)
	}
	sort.Strings(paths)

	merged := &Document{}
	for _, path := range paths {
		doc, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		merged.Imposters = append(merged.Imposters, doc.Imposters...)
	}
	return merged, nil
}

func parseJSON(path string, data []byte) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrInvalidJSON, path, err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrInvalidJSON, path, err)
	}
	return &doc, nil
}

func parseYAML(path string, data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrInvalidYAML, path, err)
	}
	// Normalize through JSON so the schema validator sees canonical JSON
	// value shapes (float64 numbers, map[string]any mappings).
	if err := ValidateSchema(normalizeJSON(raw)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrInvalidYAML, path, err)
	}
	return &doc, nil
}

func isYAMLPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// normalizeJSON collapses YAML value shapes to JSON ones.
func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
