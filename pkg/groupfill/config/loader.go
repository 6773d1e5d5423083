package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a config file, picking the format from the extension
// (.yaml, .yml or .json).
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
}

// FromYAML parses YAML into a Config.
func FromYAML(data []byte) (Config, error) {
	return parse(data, yaml.Unmarshal, "yaml")
}

// FromJSON parses JSON into a Config.
func FromJSON(data []byte) (Config, error) {
	return parse(data, json.Unmarshal, "json")
}

// LoadSettings loads a config file and resolves it into run settings,
// defaults filled in for every key the file omits.
func LoadSettings(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return FromConfig(cfg), nil
}

func parse(data []byte, unmarshal func([]byte, any) error, format string) (Config, error) {
	var m map[string]any
	if err := unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	return Config(m), nil
}
