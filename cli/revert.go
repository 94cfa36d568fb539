package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
	"go.hackfix.me/harvest/db/migrator"
)

// The Revert command undoes a single applied migration. Only migrations that
// define how to revert them can be reverted.
type Revert struct {
	Version int `arg:"" type:"migration-version" help:"The version of the migration, e.g. 36 or 036_add_utm_to_signups."`
}

// Run the revert command.
func (c *Revert) Run(appCtx *actx.Context) error {
	err := appCtx.DB.Revert(appCtx.Ctx, c.Version, appCtx.Logger)
	switch {
	case errors.Is(err, migrator.ErrRevertUnsupported):
		return aerrors.NewRuntimeError(
			fmt.Sprintf("migration %03d can't be reverted", c.Version), err,
			"restore a backup taken before the migration was applied")
	case err != nil:
		return aerrors.FromMigration(err)
	}

	fmt.Fprintf(appCtx.Stdout, "Reverted migration %03d.\n", c.Version)

	return nil
}
