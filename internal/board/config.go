package board

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TemplateTree names one of the two advanced-feature template locations
// carried by the upstream project. The trees are near-duplicates; which one
// is authoritative is a configuration choice, not a guess.
type TemplateTree string

const (
	TreeTemplates  TemplateTree = "templates"
	TreeTemplating TemplateTree = "templating"
)

// Config is the optional YAML overlay for the board catalog.
type Config struct {
	// TemplateTree selects the advanced-feature template set. Defaults to
	// "templates".
	TemplateTree TemplateTree `yaml:"template_tree"`
	// RepoCacheDir overrides the external constraint cache location.
	RepoCacheDir string `yaml:"repo_cache_dir"`
	// UpstreamURL overrides the constraint source base URL.
	UpstreamURL string `yaml:"upstream_url"`
	// Boards overlays per-board defaults onto the built-in registry.
	Boards []Board `yaml:"boards"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{TemplateTree: TreeTemplates}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	switch cfg.TemplateTree {
	case "", TreeTemplates:
		cfg.TemplateTree = TreeTemplates
	case TreeTemplating:
	default:
		return nil, fmt.Errorf("config %s: template_tree must be %q or %q, got %q",
			path, TreeTemplates, TreeTemplating, cfg.TemplateTree)
	}

	return cfg, nil
}

// Apply overlays the configured board entries onto the registry result.
// Matching is by name; a configured board replaces the built-in entry, a
// new name extends the catalog.
func (c *Config) Apply(boards []Board) []Board {
	if len(c.Boards) == 0 {
		return boards
	}

	out := make([]Board, len(boards))
	copy(out, boards)

	for _, override := range c.Boards {
		replaced := false
		for i := range out {
			if out[i].Name == override.Name {
				out[i] = override
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, override)
		}
	}
	return out
}

// FindWith looks up a board in the overlaid catalog.
func (c *Config) FindWith(name string) (*Board, error) {
	for _, b := range c.Apply(All()) {
		if b.Name == name {
			board := b
			return &board, nil
		}
	}
	return Find(name) // reuse the case-insensitive fallback and error text
}
