package config

import (
	"database/sql"
	"fmt"

	"github.com/caarlos0/env/v11"

	"go.hackfix.me/harvest/models"
)

// overrides are the configuration values that can be set in the environment.
// They take precedence over the configuration file.
type overrides struct {
	DatabasePath   string `env:"HARVEST_DATABASE_PATH"`
	StartupTimeout string `env:"HARVEST_MIGRATIONS_STARTUP_TIMEOUT"`
	AdminEmail     string `env:"HARVEST_ADMIN_EMAIL"`
	AdminPassword  string `env:"HARVEST_ADMIN_PASSWORD"`
}

// ApplyEnv applies the HARVEST_* environment variables read from environ.
func (c *Config) ApplyEnv(environ models.Environment) error {
	var o overrides
	params, err := env.GetFieldParams(&o)
	if err != nil {
		return fmt.Errorf("failed reading environment options: %w", err)
	}

	vars := make(map[string]string, len(params))
	for _, p := range params {
		if v := environ.Get(p.Key); v != "" {
			vars[p.Key] = v
		}
	}
	if err = env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("failed parsing environment: %w", err)
	}

	if o.DatabasePath != "" {
		c.Database.Path = sql.Null[string]{V: o.DatabasePath, Valid: true}
	}
	if o.StartupTimeout != "" {
		if err = c.setStartupTimeout(o.StartupTimeout); err != nil {
			return err
		}
	}
	if o.AdminEmail != "" {
		c.Admin.Email = sql.Null[string]{V: o.AdminEmail, Valid: true}
	}
	if o.AdminPassword != "" {
		c.Admin.Password = sql.Null[string]{V: o.AdminPassword, Valid: true}
	}

	return nil
}
