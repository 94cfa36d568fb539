package cli

import (
	"context"

	actx "go.hackfix.me/harvest/app/context"
	"go.hackfix.me/harvest/app/config"
)

// StartupContext returns a context that bounds a migration run by the
// configured start-up timeout.
func StartupContext(appCtx *actx.Context) (context.Context, context.CancelFunc) {
	timeout := config.DefaultStartupTimeout
	if appCtx.Config != nil && appCtx.Config.Migrations.StartupTimeout.Valid {
		timeout = appCtx.Config.Migrations.StartupTimeout.V
	}

	return context.WithTimeout(appCtx.Ctx, timeout)
}
