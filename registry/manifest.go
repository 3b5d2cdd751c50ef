package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// Manifest is an optional per-suite YAML or TOML file describing how to build
// and run the fixtures. Zero values mean "not set"; flags given explicitly on
// the command line take precedence over anything here.
type Manifest struct {
	Compiler      string        `yaml:"compiler" toml:"compiler"`
	Toolchain     string        `yaml:"toolchain" toml:"toolchain"`
	March         string        `yaml:"march" toml:"march"`
	RuntimeLibDir string        `yaml:"runtime_lib_dir" toml:"runtime_lib_dir"`
	RuntimeLib    string        `yaml:"runtime_lib" toml:"runtime_lib"`
	Emulator      string        `yaml:"emulator" toml:"emulator"`
	SourceExt     string        `yaml:"source_ext" toml:"source_ext"`
	OptLevels     []string      `yaml:"opt_levels" toml:"opt_levels"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	Concurrency   int           `yaml:"concurrency" toml:"concurrency"`
}

// LoadManifest reads and parses a manifest file. Files ending in .toml are
// parsed as TOML, anything else as YAML.
func LoadManifest(path string) (*Manifest, error) {
	log.Debug("Reading suite manifest", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("parsing manifest: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Timeout < 0 {
		return nil, fmt.Errorf("manifest timeout must not be negative, got %s", m.Timeout)
	}
	if m.Concurrency < 0 {
		return nil, fmt.Errorf("manifest concurrency must not be negative, got %d", m.Concurrency)
	}
	return &m, nil
}
