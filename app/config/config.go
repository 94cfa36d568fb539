package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/harvest/xtime"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations
	Admin      Admin

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}

	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Database defines options of the SQLite store.
type Database struct {
	// Path is the SQLite database file. It defaults to harvest.db in the data
	// directory.
	Path sql.Null[string] `json:"path"`
}

// Migrations defines options of the schema migrations run at start-up.
type Migrations struct {
	// StartupTimeout bounds the time pending migrations may take before the
	// process gives up. It serializes from/to xtime.Duration string values.
	StartupTimeout sql.Null[time.Duration] `json:"startup_timeout"`
}

// Admin defines the account created by the seed command.
type Admin struct {
	Email sql.Null[string] `json:"email"`
	// Password is only read from the environment, and never saved.
	Password sql.Null[string] `json:"-"`
}

type cfgWrapper struct {
	Database   dbCfgWrapper        `json:"database"`
	Migrations migrationsCfgWrapper `json:"migrations"`
	Admin      adminCfgWrapper     `json:"admin"`
}
type dbCfgWrapper struct {
	Path string `json:"path,omitempty"`
}
type migrationsCfgWrapper struct {
	StartupTimeout string `json:"startup_timeout,omitempty"`
}
type adminCfgWrapper struct {
	Email string `json:"email,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Path.Valid {
		w.Database.Path = c.Database.Path.V
	}
	if c.Migrations.StartupTimeout.Valid {
		w.Migrations.StartupTimeout = xtime.FormatDuration(c.Migrations.StartupTimeout.V, time.Second)
	}
	if c.Admin.Email.Valid {
		w.Admin.Email = c.Admin.Email.V
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Path != "" {
		c.Database.Path = sql.Null[string]{V: w.Database.Path, Valid: true}
	}
	if w.Migrations.StartupTimeout != "" {
		if err := c.setStartupTimeout(w.Migrations.StartupTimeout); err != nil {
			return err
		}
	}
	if w.Admin.Email != "" {
		c.Admin.Email = sql.Null[string]{V: w.Admin.Email, Valid: true}
	}

	return nil
}

func (c *Config) setStartupTimeout(s string) error {
	dur, err := xtime.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed parsing migrations startup timeout: %w", err)
	}
	if dur < time.Second {
		return fmt.Errorf("migrations startup timeout must be at least 1s, got '%s'", s)
	}
	c.Migrations.StartupTimeout = sql.Null[time.Duration]{V: dur, Valid: true}

	return nil
}

// DefaultStartupTimeout is the time pending migrations may take, unless
// configured otherwise.
const DefaultStartupTimeout = 5 * time.Minute

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults(dataDir string) {
	if !c.Database.Path.Valid {
		c.Database.Path = sql.Null[string]{V: filepath.Join(dataDir, "harvest.db"), Valid: true}
	}
	if !c.Migrations.StartupTimeout.Valid {
		c.Migrations.StartupTimeout = sql.Null[time.Duration]{V: DefaultStartupTimeout, Valid: true}
	}
	if !c.Admin.Email.Valid {
		c.Admin.Email = sql.Null[string]{V: "admin@driftlessharvest.com", Valid: true}
	}
}
