package providers

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed pricing/*.yaml
var builtin embed.FS

// LoadPricing reads a YAML pricing file and returns the provider configuration.
func LoadPricing(file string) (*ProviderConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read pricing file %s: %w", file, err)
	}

	cfg, err := LoadPricingFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("pricing file %s: %w", file, err)
	}
	return cfg, nil
}

// LoadPricingFromBytes parses and validates YAML pricing data.
func LoadPricingFromBytes(data []byte) (*ProviderConfig, error) {
	var cfg ProviderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing data: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ProviderConfig) validate() error {
	if c.Provider == "" {
		return fmt.Errorf("missing provider name")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("no models defined")
	}
	for _, m := range c.Models {
		if m.Model == "" {
			return fmt.Errorf("model entry without a name")
		}
		if m.InputPerMillion < 0 || m.OutputPerMillion < 0 || m.CachedInputPerMillion < 0 {
			return fmt.Errorf("model %q: negative price", m.Model)
		}
	}
	return nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*ProviderConfig, error) {
	return loadFS(os.DirFS(dir), ".")
}

// LoadBuiltin returns the pricing tables compiled into the binary.
func LoadBuiltin() ([]*ProviderConfig, error) {
	return loadFS(builtin, "pricing")
}

func loadFS(fsys fs.FS, dir string) ([]*ProviderConfig, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read pricing dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := path.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	configs := make([]*ProviderConfig, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read pricing file %s: %w", name, err)
		}
		cfg, err := LoadPricingFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("pricing file %s: %w", name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
