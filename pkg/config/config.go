// Package config externalizes the optimizer toggles and heuristics that
// were previously hardcoded as struct booleans, loaded from an optional
// YAML document.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Optimizers mirrors the feature-flag booleans the analysis suite and
// codegen driver consult (enableRCOpt/enableRegions/...), now
// config-driven instead of hardcoded.
type Optimizers struct {
	RCOpt     bool `yaml:"rc_opt"`
	Regions   bool `yaml:"regions"`
	Reuse     bool `yaml:"reuse"`
	Pool      bool `yaml:"pool"`
	Purity    bool `yaml:"purity"`
	DPS       bool `yaml:"dps"`
	BorrowRef bool `yaml:"borrow_ref"`
}

// HostCompiler configures the external C compiler invocation (driver
// surface).
type HostCompiler struct {
	Path  string   `yaml:"path"`
	Flags []string `yaml:"flags"`
}

// Config is the root document, loaded from lumenc.yaml when present.
type Config struct {
	// BackEdgeNames is the configured field-name set for the weak-field
	// heuristic. Defaults below match the
	// stated defaults.
	BackEdgeNames []string     `yaml:"back_edge_names"`
	Optimizers    Optimizers   `yaml:"optimizers"`
	HostCompiler  HostCompiler `yaml:"host_compiler"`
}

// Default returns the configuration used when no lumenc.yaml is
// supplied, matching CodeGenerator's own hardcoded defaults.
func Default() *Config {
	return &Config{
		BackEdgeNames: []string{"prev", "parent", "owner", "up", "back"},
		Optimizers: Optimizers{
			RCOpt:     true,
			Regions:   false,
			Reuse:     true,
			Pool:      true,
			Purity:    true,
			DPS:       false,
			BorrowRef: true,
		},
		HostCompiler: HostCompiler{
			Path:  "gcc",
			Flags: []string{"-std=c99", "-pthread", "-O2"},
		},
	}
}

// Load reads path as YAML and overlays it onto Default(). A missing
// file is not an error: the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsBackEdgeName reports whether fieldName matches the configured
// back-edge name set, case-sensitive exact match.
func (c *Config) IsBackEdgeName(fieldName string) bool {
	for _, n := range c.BackEdgeNames {
		if n == fieldName {
			return true
		}
	}
	return false
}
