package models

import (
	"context"
	"fmt"

	"go.hackfix.me/harvest/db/types"
)

// BoxTemplate is a curated box of products sold at a base price.
type BoxTemplate struct {
	ID          uint64
	Name        string
	Description string
	BasePrice   float64
	ImageURL    string
	IsActive    bool
	Items       []BoxItem
}

// BoxItem is a product in a box template.
type BoxItem struct {
	ProductID uint64
	Quantity  int
}

// Save stores the box template and its items in the database. It should run
// in a transaction, so that a box is never stored without its items.
func (b *BoxTemplate) Save(ctx context.Context, d types.Querier) error {
	res, err := d.ExecContext(ctx,
		`INSERT INTO box_templates (id, name, description, base_price, image_url, is_active, items)
		VALUES (NULL, ?, ?, ?, ?, ?, '[]')`,
		b.Name, b.Description, b.BasePrice, b.ImageURL, b.IsActive)
	if err != nil {
		return types.Err("box template", fmt.Sprintf("name '%s'", b.Name), err)
	}

	if b.ID, err = lastInsertID(res); err != nil {
		return err
	}

	for _, item := range b.Items {
		qty := max(item.Quantity, 1)
		_, err = d.ExecContext(ctx,
			`INSERT INTO box_items (box_template_id, product_id, quantity) VALUES (?, ?, ?)`,
			b.ID, item.ProductID, qty)
		if err != nil {
			return types.Err("box item", fmt.Sprintf("product ID %d", item.ProductID), err)
		}
	}

	return nil
}

// BoxTemplates returns all box templates with their items.
func BoxTemplates(ctx context.Context, d types.Querier) (boxes []*BoxTemplate, rerr error) {
	rows, err := d.QueryContext(ctx,
		`SELECT b.id, b.name, IFNULL(b.description, ''), b.base_price,
			IFNULL(b.image_url, ''), IFNULL(b.is_active, 0), bi.product_id, bi.quantity
		FROM box_templates b
		LEFT JOIN box_items bi ON bi.box_template_id = b.id
		ORDER BY b.id ASC, bi.id ASC`)
	if err != nil {
		return nil, types.LoadError{ModelName: "box templates", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing box templates rows: %w", err)
		}
	}()

	boxes = make([]*BoxTemplate, 0)
	var cur *BoxTemplate
	for rows.Next() {
		var (
			b         BoxTemplate
			productID *uint64
			qty       *int
		)
		err = rows.Scan(&b.ID, &b.Name, &b.Description, &b.BasePrice,
			&b.ImageURL, &b.IsActive, &productID, &qty)
		if err != nil {
			return nil, types.ScanError{ModelName: "box template", Err: err}
		}
		if cur == nil || cur.ID != b.ID {
			cur = &b
			boxes = append(boxes, cur)
		}
		if productID != nil {
			item := BoxItem{ProductID: *productID, Quantity: 1}
			if qty != nil {
				item.Quantity = *qty
			}
			cur.Items = append(cur.Items, item)
		}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over box templates rows: %w", err)
	}

	return boxes, nil
}
