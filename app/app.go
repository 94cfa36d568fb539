package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/harvest/app/config"
	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
	"go.hackfix.me/harvest/cli"
	"go.hackfix.me/harvest/db"
	"go.hackfix.me/harvest/models"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application. configFile and dataDir are the default
// locations of the configuration file and the data directory.
func New(name, configFile, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:        context.Background(),
		FS:         memoryfs.New(),
		Logger:     slog.Default(),
		TimeSource: models.SystemTime,
		Version:    version,
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(configFile, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if err := app.loadConfig(); err != nil {
		return err
	}

	if app.ctx.DB == nil {
		if err := app.openDB(); err != nil {
			return err
		}
		defer app.ctx.DB.Close()
	}

	if app.cli.MigrateFirst() {
		if err := app.migrate(); err != nil {
			return err
		}
	}

	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}

func (app *App) loadConfig() error {
	cfg := app.ctx.Config
	if cfg == nil {
		cfg = config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return aerrors.NewRuntimeError("failed loading configuration", err, "")
		}
	}
	if app.ctx.Env != nil {
		if err := cfg.ApplyEnv(app.ctx.Env); err != nil {
			return aerrors.NewRuntimeError("failed reading environment", err, "")
		}
	}
	cfg.SetDefaults(app.cli.DataDir)
	app.ctx.Config = cfg

	return nil
}

func (app *App) openDB() error {
	path := app.ctx.Config.Database.Path.V
	if err := app.ctx.FS.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return aerrors.NewRuntimeError("failed creating data directory", err, "")
	}

	d, err := db.Open(app.ctx.Ctx, path, app.ctx.TimeNow)
	if err != nil {
		return aerrors.NewRuntimeError("failed opening database", err, "")
	}
	app.ctx.DB = d

	return nil
}

// migrate applies pending migrations before anything else touches the
// database. A failure stops the process.
func (app *App) migrate() error {
	ctx, cancel := cli.StartupContext(app.ctx)
	defer cancel()

	res, err := app.ctx.DB.Migrate(ctx, app.ctx.Logger)
	if err != nil {
		return aerrors.FromMigration(err)
	}
	if res.Applied > 0 {
		app.ctx.Logger.Info("database schema updated",
			"applied", res.Applied, "version", res.LastVersion)
	}

	return nil
}
