package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.hackfix.me/harvest/db/models"
	"go.hackfix.me/harvest/db/types"
)

// SeedResult reports what Seed created.
type SeedResult struct {
	Categories   int
	Products     int
	BoxTemplates int
	// AdminCreated is false if the admin account already existed, in which
	// case its password and role were reset.
	AdminCreated bool
}

// Seed fills an empty catalog with the default categories, products and box
// templates, and ensures that the admin account exists with the given
// password and the highest admin type. Tables that have rows are left alone.
// Migrations must have been applied.
func (d *DB) Seed(ctx context.Context, adminEmail, adminPassword string, logger *slog.Logger) (res SeedResult, err error) {
	if adminEmail == "" || adminPassword == "" {
		return res, types.InvalidInputError{Msg: "admin email and password must be set"}
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = errors.Join(err, fmt.Errorf("failed rolling back: %w", rerr))
			}
		}
	}()

	if res.Categories, err = seedCategories(ctx, tx); err != nil {
		return res, err
	}
	productIDs, err := seedProducts(ctx, tx)
	if err != nil {
		return res, err
	}
	res.Products = len(productIDs)
	if res.BoxTemplates, err = seedBoxTemplates(ctx, tx, productIDs); err != nil {
		return res, err
	}
	if res.AdminCreated, err = d.seedAdmin(ctx, tx, adminEmail, adminPassword); err != nil {
		return res, err
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("failed committing transaction: %w", err)
	}

	logger.Info("seeded database",
		"categories", res.Categories, "products", res.Products,
		"box_templates", res.BoxTemplates, "admin_email", adminEmail,
		"admin_created", res.AdminCreated)

	return res, nil
}

func isEmpty(ctx context.Context, q types.Querier, table string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM "%s")`, table)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed checking %s rows: %w", table, err)
	}

	return !exists, nil
}

func seedCategories(ctx context.Context, q types.Querier) (int, error) {
	if empty, err := isEmpty(ctx, q, "categories"); err != nil || !empty {
		return 0, err
	}
	for i, name := range defaultCategories {
		c := &models.Category{Name: name, DisplayOrder: i}
		if err := c.Save(ctx, q); err != nil {
			return 0, err
		}
	}

	return len(defaultCategories), nil
}

// seedProducts returns the IDs of the created products, in the order of
// defaultProducts.
func seedProducts(ctx context.Context, q types.Querier) ([]uint64, error) {
	if empty, err := isEmpty(ctx, q, "products"); err != nil || !empty {
		return nil, err
	}
	ids := make([]uint64, len(defaultProducts))
	for i, def := range defaultProducts {
		p := *def
		if err := p.Save(ctx, q); err != nil {
			return nil, err
		}
		ids[i] = p.ID
	}

	return ids, nil
}

// seedBoxTemplates creates the default boxes. Their contents refer to
// defaultProducts, so they're only created together with the products.
func seedBoxTemplates(ctx context.Context, q types.Querier, productIDs []uint64) (int, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	if empty, err := isEmpty(ctx, q, "box_templates"); err != nil || !empty {
		return 0, err
	}
	for _, box := range defaultBoxTemplates {
		b := box.template
		b.Items = nil
		for _, idx := range box.products {
			b.Items = append(b.Items, models.BoxItem{ProductID: productIDs[idx], Quantity: 1})
		}
		if err := b.Save(ctx, q); err != nil {
			return 0, err
		}
	}

	return len(defaultBoxTemplates), nil
}

func (d *DB) seedAdmin(ctx context.Context, q types.Querier, email, password string) (created bool, err error) {
	role := &models.AdminType{Name: "super_admin"}
	if err = role.Load(ctx, q); err != nil {
		return false, fmt.Errorf("failed loading admin role: %w", err)
	}

	admin := &models.User{Email: email}
	err = admin.Load(ctx, q)
	var nrErr types.NoResultError
	switch {
	case errors.As(err, &nrErr):
		created = true
		admin.FirstName, admin.LastName = "Admin", "User"
	case err != nil:
		return false, err
	}

	if err = admin.SetPassword(password); err != nil {
		return false, err
	}
	admin.AdminType = role

	return created, admin.Save(ctx, q, d.TimeNow(), !created)
}
