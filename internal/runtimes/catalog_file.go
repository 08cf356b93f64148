package runtimes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a catalog override file:
//
//	[[runtimes]]
//	language = "lua"
//	command = "lua"
//	version_flag = "-v"
//	extension = "lua"
type catalogFile struct {
	Runtimes Catalog `toml:"runtimes" yaml:"runtimes"`
}

// LoadCatalog reads a TOML (.toml) or YAML (.yaml, .yml) catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}

	if err := f.Runtimes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	return f.Runtimes, nil
}

// BuildCatalog returns the default catalog merged with the file at path, if
// path is non-empty.
func BuildCatalog(path string) (Catalog, error) {
	base := DefaultCatalog()
	if path == "" {
		return base, nil
	}
	overrides, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	merged := base.Merge(overrides)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("merge catalog %s: %w", path, err)
	}
	return merged, nil
}
