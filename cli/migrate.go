package cli

import (
	"fmt"

	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
)

// The Migrate command applies pending database migrations.
type Migrate struct{}

// Run the migrate command.
func (c *Migrate) Run(appCtx *actx.Context) error {
	ctx, cancel := StartupContext(appCtx)
	defer cancel()

	res, err := appCtx.DB.Migrate(ctx, appCtx.Logger)
	if err != nil {
		return aerrors.FromMigration(err)
	}

	if res.Applied == 0 {
		fmt.Fprintf(appCtx.Stdout, "Database is up to date at version %d.\n", res.LastVersion)
		return nil
	}
	fmt.Fprintf(appCtx.Stdout, "Applied %d migration(s), database is at version %d.\n",
		res.Applied, res.LastVersion)

	return nil
}
