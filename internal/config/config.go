package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete varlift configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
}

// PathsConfig configures where the converter reads and writes
type PathsConfig struct {
	// Root is the host path of the target root ("/" for the running system).
	Root string `yaml:"root"`
	// Subtree is the root-relative directory to convert, normally "var".
	Subtree string `yaml:"subtree"`
	// TmpfilesDir is the root-relative tmpfiles.d directory the generated
	// conf file is written to.
	TmpfilesDir string `yaml:"tmpfiles_dir"`
}

// Default returns the configuration used when no config file is given:
// convert /var of the running system into /usr/lib/tmpfiles.d.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.Root = os.ExpandEnv(c.Paths.Root)
	c.Paths.Subtree = os.ExpandEnv(c.Paths.Subtree)
	c.Paths.TmpfilesDir = os.ExpandEnv(c.Paths.TmpfilesDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.Root == "" {
		c.Paths.Root = "/"
	}
	if c.Paths.Subtree == "" {
		c.Paths.Subtree = "var"
	}
	if c.Paths.TmpfilesDir == "" {
		c.Paths.TmpfilesDir = "usr/lib/tmpfiles.d"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.Root == "" {
		return fmt.Errorf("paths.root is required")
	}
	if !filepath.IsAbs(c.Paths.Root) {
		return fmt.Errorf("paths.root must be an absolute path: %s", c.Paths.Root)
	}
	if err := validateSubPath("paths.subtree", c.Paths.Subtree); err != nil {
		return err
	}
	if err := validateSubPath("paths.tmpfiles_dir", c.Paths.TmpfilesDir); err != nil {
		return err
	}
	return nil
}

// validateSubPath checks a root-relative directory setting.
func validateSubPath(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if filepath.IsAbs(value) {
		return fmt.Errorf("%s must be relative to the root: %s", field, value)
	}
	cleaned := filepath.Clean(value)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%s must name a directory inside the root: %s", field, value)
	}
	return nil
}

// SubtreePath returns the absolute in-root path of the converted subtree.
func (c *Config) SubtreePath() string {
	return "/" + filepath.Clean(c.Paths.Subtree)
}

// TmpfilesPath returns the absolute in-root path of the tmpfiles.d directory.
func (c *Config) TmpfilesPath() string {
	return "/" + filepath.Clean(c.Paths.TmpfilesDir)
}
