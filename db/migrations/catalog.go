package migrations

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"

	"go.hackfix.me/harvest/db/backfill"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// Products, box templates and their contents.
func (s *set) catalog() []migrator.Unit {
	return []migrator.Unit{
		addColumnsUnit("003_product_status_flags",
			columnDefault("products", "is_active", "INTEGER", "1"),
			columnDefault("products", "is_archived", "INTEGER", "0"),
			columnDefault("box_templates", "is_active", "INTEGER", "1"),
			column("box_templates", "image_url", "TEXT"),
		),
		migrator.NewUnit("006_box_items_normalization", normalizeBoxItems),
		addColumnsUnit("007_add_farm_id", column("products", "farm_id", "TEXT")),
		migrator.NewUnit("016_switch_to_integer_ids", integerInventoryKeys, migrator.WithoutTransaction()),
		migrator.NewUnit("017_refactor_categories", integerCategoryKeys, migrator.WithoutTransaction()),
		migrator.NewUnit("026_create_farms", createFarms),
	}
}

const boxItemsV1 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	box_template_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	quantity INTEGER DEFAULT 1,
	FOREIGN KEY (box_template_id) REFERENCES box_templates (id),
	FOREIGN KEY (product_id) REFERENCES products (id)`

// normalizeBoxItems moves the contents of box templates from a JSON list
// into box_items rows. Entries for products that don't exist are skipped.
func normalizeBoxItems(ctx context.Context, h *migrator.Handle) error {
	if _, err := schema.EnsureTable(ctx, h, "box_items", boxItemsV1); err != nil {
		return migrator.Step("create box_items", err)
	}
	if err := addColumns(ctx, h, column("products", "deleted_at", "DATETIME")); err != nil {
		return err
	}

	// Early databases named the column "items".
	source := "items_json"
	if ok, err := schema.HasColumn(ctx, h, "box_templates", source); err != nil {
		return migrator.Step("inspect box_templates", err)
	} else if !ok {
		source = "items"
	}
	if ok, err := schema.HasColumn(ctx, h, "box_templates", source); err != nil {
		return migrator.Step("inspect box_templates", err)
	} else if !ok {
		h.Logger().Debug("box templates have no contents to move")
		return nil
	}

	products, err := backfill.LoadReferences(ctx, h, "products", "id")
	if err != nil {
		return migrator.Step("load products", err)
	}

	_, err = backfill.Run(ctx, boxContents(ctx, h, source),
		func(e boxEntry) (boxEntry, error) {
			if e.product == "" {
				return e, backfill.ErrSkip
			}
			return e, products.Check(e.product)
		},
		func(ctx context.Context, e boxEntry) error {
			_, err := h.ExecContext(ctx,
				`INSERT INTO box_items (box_template_id, product_id, quantity) VALUES (?, ?, ?)`,
				e.box, e.product, e.quantity)
			return types.Err("box item", e.RowID(), err)
		},
		backfillOpts(h, "box items")...)

	return migrator.Step("move box contents", err)
}

// boxEntry is one product of a box template.
type boxEntry struct {
	box      any
	pos      int
	product  string
	quantity int64
}

func (e boxEntry) RowID() string {
	if e.pos == 0 {
		return fmt.Sprintf("box %v", e.box)
	}
	return fmt.Sprintf("box %v item %d", e.box, e.pos)
}

// boxContents yields the entries of the JSON contents list of every box
// template. A list that can't be parsed is yielded as a single failed entry.
func boxContents(ctx context.Context, q types.Querier, column string) iter.Seq2[boxEntry, error] {
	type box struct {
		id    any
		items sql.Null[string]
	}
	boxes := backfill.Query(ctx, q,
		fmt.Sprintf(`SELECT id, "%s" FROM box_templates ORDER BY id`, column),
		func(rows *sql.Rows) (b box, err error) {
			err = rows.Scan(&b.id, &b.items)
			return
		})

	return func(yield func(boxEntry, error) bool) {
		for b, err := range boxes {
			if err != nil {
				if !yield(boxEntry{box: b.id}, err) {
					return
				}
				continue
			}
			if !b.items.Valid || emptyBlob(b.items.V) {
				continue
			}

			var items []json.RawMessage
			if err = json.Unmarshal([]byte(b.items.V), &items); err != nil {
				if !yield(boxEntry{box: b.id}, fmt.Errorf("invalid %s JSON: %w", column, err)) {
					return
				}
				continue
			}
			for i, raw := range items {
				e := boxEntry{box: b.id, pos: i + 1, quantity: 1}
				if !yield(e, e.decode(raw)) {
					return
				}
			}
		}
	}
}

// decode reads an entry that's either a bare product ID, or an object with
// the product ID and quantity.
func (e *boxEntry) decode(raw json.RawMessage) error {
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		var id text
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("invalid box entry: %w", err)
		}
		e.product = id.or("")
		return nil
	}

	var item struct {
		ID        text   `json:"id"`
		ProductID text   `json:"productId"`
		Qty       number `json:"qty"`
		Quantity  number `json:"quantity"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("invalid box entry: %w", err)
	}
	e.product = item.ID.or(item.ProductID.or(""))
	switch {
	case item.Qty > 0:
		e.quantity = int64(item.Qty)
	case item.Quantity > 0:
		e.quantity = int64(item.Quantity)
	}

	return nil
}

const (
	productsV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	price REAL NOT NULL,
	image_url TEXT,
	tags TEXT,
	stock INTEGER DEFAULT 100,
	is_active INTEGER DEFAULT 1,
	is_archived INTEGER DEFAULT 0,
	deleted_at DATETIME DEFAULT NULL,
	farm_id TEXT DEFAULT NULL`

	boxTemplatesV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	base_price REAL NOT NULL,
	items TEXT,
	image_url TEXT,
	is_active INTEGER DEFAULT 1`

	boxItemsV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	box_template_id INTEGER NOT NULL REFERENCES box_templates (id),
	product_id INTEGER NOT NULL REFERENCES products (id),
	quantity INTEGER DEFAULT 1`

	orderItemsV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders (id),
	product_id INTEGER REFERENCES products (id),
	product_name TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price_at_purchase REAL NOT NULL,
	item_type TEXT DEFAULT 'product'`
)

// integerInventoryKeys gives products and box templates integer keys, and
// rewrites the rows referencing them. Integer keys stored as text keep their
// value.
func integerInventoryKeys(ctx context.Context, h *migrator.Handle) error {
	products, boxes := schema.NewKeyMap(), schema.NewKeyMap()

	plan := schema.RebuildPlan{
		{
			Name:       "products",
			Definition: productsV2,
			Dependents: []string{"box_items", "order_items"},
			Repopulate: &schema.Repopulate{
				Columns: map[string]schema.ColumnMapping{
					"id":       products.Assign("id"),
					"category": schema.Coalesce("uncategorized", "category"),
				},
				OrderBy: schema.IntegersFirst("id"),
			},
		},
		{
			Name:       "box_templates",
			Definition: boxTemplatesV2,
			Dependents: []string{"box_items"},
			Repopulate: &schema.Repopulate{
				Columns: map[string]schema.ColumnMapping{
					"id":    boxes.Assign("id"),
					"items": schema.Coalesce(nil, "items", "items_json"),
				},
				OrderBy: schema.IntegersFirst("id"),
			},
		},
		{
			Name:       "box_items",
			Definition: boxItemsV2,
			Repopulate: &schema.Repopulate{
				Columns: map[string]schema.ColumnMapping{
					"box_template_id": boxes.Lookup("box_template_id"),
					"product_id":      products.Lookup("product_id"),
				},
			},
		},
		{
			Name:       "order_items",
			Definition: orderItemsV2,
			Repopulate: &schema.Repopulate{
				Columns: map[string]schema.ColumnMapping{
					// Past orders keep their line items when a product is gone.
					"product_id": products.LookupOrNull("product_id"),
				},
			},
		},
	}

	res, err := h.Rebuild(ctx, plan)
	if err != nil {
		return err
	}
	h.Logger().Info("switched inventory to integer keys",
		"products", res.Table("products").Copied,
		"box_templates", res.Table("box_templates").Copied,
		"box_items", res.Table("box_items").Copied,
		"box_items_removed", res.Table("box_items").Orphaned,
		"order_items", res.Table("order_items").Copied,
		"order_items_removed", res.Table("order_items").Orphaned)

	return nil
}

const categoriesV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	display_order INTEGER DEFAULT 0`

func integerCategoryKeys(ctx context.Context, h *migrator.Handle) error {
	keys := schema.NewKeyMap()
	_, err := h.Rebuild(ctx, schema.RebuildPlan{{
		Name:       "categories",
		Definition: categoriesV2,
		Repopulate: &schema.Repopulate{
			Columns: map[string]schema.ColumnMapping{"id": keys.Assign("id")},
			OrderBy: schema.IntegersFirst("id"),
		},
	}})
	return err
}

const farms = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	farm_name TEXT NOT NULL,
	farm_description TEXT,
	owner_name TEXT,
	farm_address TEXT,
	farm_phone TEXT,
	farm_email TEXT,
	farm_type TEXT,
	farm_id TEXT UNIQUE`

func createFarms(ctx context.Context, h *migrator.Handle) error {
	if _, err := schema.EnsureTable(ctx, h, "farms", farms); err != nil {
		return migrator.Step("create farms", err)
	}
	// products.farm_id holds the public farm_id, not the row ID.
	_, err := schema.EnsureIndex(ctx, h, schema.Index{
		Name: "idx_farms_farm_id", Table: "farms", Columns: []string{"farm_id"},
	})
	return migrator.Step("index farms", err)
}
