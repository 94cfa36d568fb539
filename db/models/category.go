package models

import (
	"context"
	"fmt"

	"go.hackfix.me/harvest/db/types"
)

// Category groups products in the storefront. Products reference it by name.
type Category struct {
	ID           uint64
	Name         string
	DisplayOrder int
}

// Save stores the category in the database.
func (c *Category) Save(ctx context.Context, d types.Querier) error {
	res, err := d.ExecContext(ctx,
		`INSERT INTO categories (id, name, display_order) VALUES (NULL, ?, ?)`,
		c.Name, c.DisplayOrder)
	if err != nil {
		return types.Err("category", fmt.Sprintf("name '%s'", c.Name), err)
	}

	c.ID, err = lastInsertID(res)

	return err
}

// Categories returns the categories in display order.
func Categories(ctx context.Context, d types.Querier) (cats []*Category, rerr error) {
	rows, err := d.QueryContext(ctx,
		`SELECT id, name, display_order FROM categories ORDER BY display_order, name`)
	if err != nil {
		return nil, types.LoadError{ModelName: "categories", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing categories rows: %w", err)
		}
	}()

	cats = make([]*Category, 0)
	for rows.Next() {
		var c Category
		if err = rows.Scan(&c.ID, &c.Name, &c.DisplayOrder); err != nil {
			return nil, types.ScanError{ModelName: "category", Err: err}
		}
		cats = append(cats, &c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over categories rows: %w", err)
	}

	return cats, nil
}
