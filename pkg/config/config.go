// Package config loads and validates the YAML run configuration. The
// core treats it as read-only.
package config

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

// MaxVerbosity is the highest log level; anything above it is debug
// already.
const MaxVerbosity = 2

// TagFilters narrows cleanup by resource tags. Exclude wins over
// include; an empty include set matches everything.
type TagFilters struct {
	Include map[string][]string `yaml:"include,omitempty"`
	Exclude map[string][]string `yaml:"exclude,omitempty"`
}

// Config is the run configuration. Dry-run is the default; only the
// --live-run flag may disable it.
type Config struct {
	Regions             []string   `yaml:"regions,omitempty"`
	ResourceTypes       []string   `yaml:"resource_types,omitempty"`
	TagFilters          TagFilters `yaml:"tag_filters,omitempty"`
	ExcludeNamePatterns []string   `yaml:"exclude_name_patterns,omitempty"`
	DryRun              bool       `yaml:"dry_run"`
	Verbosity           int        `yaml:"verbosity,omitempty"`
	JSONLogs            bool       `yaml:"json_logs,omitempty"`
}

func Default() *Config {
	return &Config{
		Regions:       []string{"all"},
		ResourceTypes: []string{"all"},
		DryRun:        true,
	}
}

// Load reads the config from a YAML file, or returns the defaults when
// no path is given. Unknown keys are rejected.
func Load(pathToConfig string) (*Config, error) {
	cfg := Default()

	if pathToConfig == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(pathToConfig)
	if err != nil {
		return nil, err
	}

	err = yaml.UnmarshalStrict(data, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"all"}
	}
	if len(cfg.ResourceTypes) == 0 {
		cfg.ResourceTypes = []string{"all"}
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Verbosity < 0 || c.Verbosity > MaxVerbosity {
		return fmt.Errorf("verbosity must be between 0 and %d, got %d", MaxVerbosity, c.Verbosity)
	}

	for _, p := range c.ExcludeNamePatterns {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
	}

	return nil
}

// AllRegions reports whether every enabled region should be processed.
func (c *Config) AllRegions() bool {
	return contains(c.Regions, "all")
}

func (c *Config) IncludesRegion(region string) bool {
	return c.AllRegions() || contains(c.Regions, region)
}

// IncludesResource reports whether a resource category is in scope.
func (c *Config) IncludesResource(category string) bool {
	return contains(c.ResourceTypes, "all") || contains(c.ResourceTypes, category)
}

// MatchesTagFilters decides whether a resource with the given tags may
// be deleted. Excluded tags are checked first; if include filters exist,
// at least one must match.
func (c *Config) MatchesTagFilters(tags map[string]string) bool {
	for key, values := range c.TagFilters.Exclude {
		if v, ok := tags[key]; ok && contains(values, v) {
			return false
		}
	}

	if len(c.TagFilters.Include) == 0 {
		return true
	}

	for key, values := range c.TagFilters.Include {
		if v, ok := tags[key]; ok && contains(values, v) {
			return true
		}
	}

	return false
}

// ExcludedByName reports whether a resource name matches any
// exclude_name_patterns glob.
func (c *Config) ExcludedByName(name string) bool {
	for _, p := range c.ExcludeNamePatterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}

	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
