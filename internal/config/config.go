// Manages the store configuration stored in .facedb.json.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the name of the configuration file in the data directory. It
// starts with a dot so it can never collide with a subject directory.
const FileName = ".facedb.json"

// Config stores the settings of a data directory.
// Loaded from .facedb.json, created with defaults if missing.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level"`

	// StrictDecode rejects data files with fields the record types do not declare.
	StrictDecode bool `json:"strict_decode"`

	// Git holds the history settings.
	Git Git `json:"git"`

	// MirrorPath is the SQLite mirror used for reads. Empty disables it.
	// Relative paths are resolved against the data directory.
	MirrorPath string `json:"mirror_path,omitempty"`
}

// Git configures the commit-per-mutation history.
type Git struct {
	// Enabled turns the data directory into a git repository.
	Enabled bool `json:"enabled"`

	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
}

// Validate checks that the git author is set when history is enabled.
func (g *Git) Validate() error {
	if !g.Enabled {
		return nil
	}
	if g.AuthorName == "" {
		return errors.New("author_name is required")
	}
	if !strings.Contains(g.AuthorEmail, "@") {
		return fmt.Errorf("author_email %q is not an email address", g.AuthorEmail)
	}
	return nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Git: Git{
			AuthorName:  "facedb",
			AuthorEmail: "facedb@localhost",
		},
	}
}

// Level returns the parsed log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if err := c.Git.Validate(); err != nil {
		return fmt.Errorf("git: %w", err)
	}
	return nil
}

// Load loads the configuration from path.
// Creates the file with defaults if it doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: the path is chosen by the operator
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
