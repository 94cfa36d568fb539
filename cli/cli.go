package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/harvest/app/context"
)

// CLI is the command line interface of Harvest.
type CLI struct {
	Migrate Migrate `kong:"cmd,help='Apply pending database migrations.'"`
	Status  Status  `kong:"cmd,help='Show the migration state of the database.'"`
	Revert  Revert  `kong:"cmd,help='Revert a single applied migration.'"`
	Schema  Schema  `kong:"cmd,help='Show the live schema of the database.'"`
	Seed    Seed    `kong:"cmd,help='Seed the default catalog and admin account.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the Harvest configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where Harvest data is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("harvest"),
		kong.Description("Manage the Harvest storefront database."),
		kong.UsageOnError(),
		kong.DefaultEnvars("HARVEST"),
		kong.NamedMapper("migration-version", VersionMapper{}),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// MigrateFirst reports whether pending migrations must be applied before the
// parsed command runs. Commands that inspect or change the migration state
// themselves work on the database as they find it.
func (c *CLI) MigrateFirst() bool {
	switch c.Command() {
	case "status", "revert", "migrate":
		return false
	}
	return true
}
