package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.hackfix.me/harvest/db/types"
)

// Product is an item sold on its own or as part of a box.
type Product struct {
	ID       uint64
	Name     string
	Category string
	Price    float64
	ImageURL string
	Tags     []string
	Stock    int
	IsActive bool
	FarmID   sql.Null[string]
}

// Save stores the product in the database.
func (p *Product) Save(ctx context.Context, d types.Querier) error {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("failed serializing product tags: %w", err)
	}
	if p.Tags == nil {
		tags = []byte("[]")
	}

	res, err := d.ExecContext(ctx,
		`INSERT INTO products
		(id, name, category, price, image_url, tags, stock, is_active, is_archived, farm_id)
		VALUES (NULL, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		p.Name, p.Category, p.Price, p.ImageURL, string(tags), p.Stock, p.IsActive, p.FarmID)
	if err != nil {
		return types.Err("product", fmt.Sprintf("name '%s'", p.Name), err)
	}

	p.ID, err = lastInsertID(res)

	return err
}

// Products returns the products that aren't deleted. An optional filter can
// be passed to limit the results.
func Products(ctx context.Context, d types.Querier, filter *types.Filter) (products []*Product, rerr error) {
	clause, args := types.NewFilter("p.deleted_at IS NULL", nil).And(filter).Clause("p.id ASC")
	query := `SELECT p.id, p.name, p.category, p.price, IFNULL(p.image_url, ''),
			IFNULL(p.tags, ''), IFNULL(p.stock, 0), IFNULL(p.is_active, 0), p.farm_id
		FROM products p
		` + clause

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "products", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing products rows: %w", err)
		}
	}()

	products = make([]*Product, 0)
	for rows.Next() {
		var (
			p    Product
			tags string
		)
		err = rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.ImageURL,
			&tags, &p.Stock, &p.IsActive, &p.FarmID)
		if err != nil {
			return nil, types.ScanError{ModelName: "product", Err: err}
		}
		if tags != "" {
			// Tags are informational, a malformed list is dropped.
			_ = json.Unmarshal([]byte(tags), &p.Tags)
		}
		products = append(products, &p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over products rows: %w", err)
	}

	return products, nil
}

// CountProducts returns the number of products that weren't deleted and match
// filter. Columns in filter must not be qualified.
func CountProducts(ctx context.Context, d types.Querier, filter *types.Filter) (int, error) {
	return filterCount(ctx, d, "products", types.NewFilter("deleted_at IS NULL", nil).And(filter))
}
