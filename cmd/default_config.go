package cmd

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signal-sim/signal-sim/sim"
)

// Config represents the full defaults.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Version string                      `yaml:"version"`
	Presets map[string]sim.PolicyBundle `yaml:"presets"`
}

// loadDefaultsConfig parses defaults.yaml with strict field checking.
func loadDefaultsConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading defaults file %s: %w", path, err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing defaults YAML: %w", err)
	}
	for name, preset := range cfg.Presets {
		if err := preset.Validate(); err != nil {
			return Config{}, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return cfg, nil
}

// GetPreset returns the named policy preset from the defaults file.
func GetPreset(name, path string) (*sim.PolicyBundle, error) {
	cfg, err := loadDefaultsConfig(path)
	if err != nil {
		return nil, err
	}
	preset, ok := cfg.Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q; available: %v", name, cfg.presetNames())
	}
	return &preset, nil
}

func (c Config) presetNames() []string {
	names := make([]string, 0, len(c.Presets))
	for name := range c.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
