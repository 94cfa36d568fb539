package cli

import (
	"fmt"

	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
)

// The Seed command fills an empty catalog with the default categories,
// products and boxes, and creates or resets the admin account.
type Seed struct {
	AdminEmail    string `help:"Email of the admin account. Overrides the configured one."`
	AdminPassword string `help:"Password of the admin account." env:"HARVEST_ADMIN_PASSWORD"`
}

// Run the seed command.
func (c *Seed) Run(appCtx *actx.Context) error {
	email, password := c.AdminEmail, c.AdminPassword
	if cfg := appCtx.Config; cfg != nil {
		if email == "" {
			email = cfg.Admin.Email.V
		}
		if password == "" {
			password = cfg.Admin.Password.V
		}
	}
	if password == "" {
		return aerrors.NewWith("admin password not set",
			"hint", "set HARVEST_ADMIN_PASSWORD or pass --admin-password")
	}

	res, err := appCtx.DB.Seed(appCtx.Ctx, email, password, appCtx.Logger)
	if err != nil {
		return aerrors.NewRuntimeError("failed seeding database", err, "")
	}

	action := "reset"
	if res.AdminCreated {
		action = "created"
	}
	fmt.Fprintf(appCtx.Stdout,
		"Seeded %d categories, %d products and %d boxes; %s admin account %s.\n",
		res.Categories, res.Products, res.BoxTemplates, action, email)

	return nil
}
