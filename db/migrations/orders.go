package migrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.hackfix.me/harvest/db/backfill"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// Orders, carts, payments and delivery.
func (s *set) orders() []migrator.Unit {
	return []migrator.Unit{
		migrator.NewUnit("004_normalization_tables", normalizationTables),
		addColumnsUnit("005_delivery_timestamps",
			column("delivery_windows", "date_value", "TEXT"),
			column("orders", "shipped_at", "DATETIME"),
			column("orders", "delivered_at", "DATETIME"),
			column("orders", "cancelled_at", "DATETIME"),
			column("orders", "packed_at", "DATETIME"),
		),
		migrator.NewUnit("009_create_payments_table", createPayments),
		migrator.NewUnit("013_migrate_order_blobs", migrateOrderBlobs),
		migrator.NewUnit("014_flex_active_carts", flexActiveCarts, migrator.WithoutTransaction()),
		migrator.NewUnit("015_link_orphaned_orders", linkOrphanedOrders),
		migrator.NewUnit("027_add_delivery_date", s.deliveryDates),
		addColumnsUnit("030_fix_delivery_windows",
			column("delivery_windows", "date_label", "TEXT"),
			columnDefault("delivery_windows", "is_active", "INTEGER", "1"),
			column("delivery_windows", "date_value", "TEXT"),
		),
		migrator.NewUnit("031_ensure_active_carts", ensureActiveCarts),
	}
}

const (
	addressesV1 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_email TEXT,
	name TEXT NOT NULL,
	street TEXT NOT NULL,
	city TEXT NOT NULL,
	zip TEXT NOT NULL,
	state TEXT DEFAULT '',
	phone TEXT DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP`

	orderItemsV1 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	product_id TEXT,
	product_name TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price_at_purchase REAL NOT NULL,
	item_type TEXT DEFAULT 'product',
	metadata TEXT`

	activeCartsV1 = `user_email TEXT PRIMARY KEY,
	items TEXT,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP`

	// Carts are keyed by the user ID as text, or by a guest ID.
	activeCartsV2 = `cart_key TEXT PRIMARY KEY,
	user_id INTEGER REFERENCES users (id),
	items TEXT,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP`
)

func normalizationTables(ctx context.Context, h *migrator.Handle) error {
	if _, err := schema.EnsureTable(ctx, h, "addresses", addressesV1); err != nil {
		return migrator.Step("create addresses", err)
	}
	err := addColumns(ctx, h,
		column("orders", "address_id", "INTEGER REFERENCES addresses (id)"))
	if err != nil {
		return err
	}
	if _, err = schema.EnsureTable(ctx, h, "order_items", orderItemsV1); err != nil {
		return migrator.Step("create order_items", err)
	}
	if _, err = schema.EnsureTable(ctx, h, "active_carts", activeCartsV1); err != nil {
		return migrator.Step("create active_carts", err)
	}
	return nil
}

const payments = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL,
	stripe_payment_id TEXT UNIQUE,
	amount INTEGER,
	currency TEXT DEFAULT 'usd',
	status TEXT,
	receipt_email TEXT,
	raw_data TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (order_id) REFERENCES orders (id) ON DELETE CASCADE`

func createPayments(ctx context.Context, h *migrator.Handle) error {
	if _, err := schema.EnsureTable(ctx, h, "payments", payments); err != nil {
		return migrator.Step("create payments", err)
	}
	for _, idx := range []schema.Index{
		{Name: "idx_payments_order_id", Table: "payments", Columns: []string{"order_id"}},
		{Name: "idx_payments_stripe_id", Table: "payments", Columns: []string{"stripe_payment_id"}},
	} {
		if _, err := schema.EnsureIndex(ctx, h, idx); err != nil {
			return migrator.Step("index payments", err)
		}
	}
	return nil
}

type legacyOrder struct {
	id             int64
	email          sql.Null[string]
	userID         sql.Null[int64]
	addressID      sql.Null[int64]
	deliveryWindow sql.Null[string]
	blob           sql.Null[string]
}

func (o legacyOrder) RowID() string {
	return fmt.Sprintf("order %d", o.id)
}

func scanLegacyOrder(rows *sql.Rows) (o legacyOrder, err error) {
	err = rows.Scan(&o.id, &o.email, &o.userID, &o.addressID, &o.deliveryWindow, &o.blob)
	return
}

type orderShipping struct {
	order   legacyOrder
	address *profileAddress
	window  string
}

type orderItem struct {
	order     int64
	productID sql.Null[string]
	name      string
	quantity  int64
	price     float64
	itemType  string
}

// migrateOrderBlobs links orders to users, and moves the shipping details
// and line items of orders out of their JSON blobs.
func migrateOrderBlobs(ctx context.Context, h *migrator.Handle) error {
	err := addColumns(ctx, h,
		column("orders", "delivery_window", "TEXT"),
		column("orders", "user_id", "INTEGER REFERENCES users (id)"),
		column("addresses", "user_id", "INTEGER REFERENCES users (id)"),
	)
	if err != nil {
		return err
	}

	err = exec(ctx, h, "link users",
		`UPDATE orders SET user_id = (SELECT u.id FROM users u WHERE u.email = orders.user_email)
		WHERE user_id IS NULL`,
		`UPDATE addresses SET user_id = (SELECT u.id FROM users u WHERE u.email = addresses.user_email)
		WHERE user_id IS NULL`,
	)
	if err != nil {
		return err
	}

	orders := backfill.Query(ctx, h,
		`SELECT id, user_email, user_id, address_id, delivery_window, shipping_details
		FROM orders ORDER BY id`, scanLegacyOrder)
	_, err = backfill.Run(ctx, orders, parseShipping, func(ctx context.Context, s orderShipping) error {
		return saveShipping(ctx, h, s)
	}, backfillOpts(h, "order shipping details")...)
	if err != nil {
		return migrator.Step("move shipping details", err)
	}

	// Orders that already have line items were written by a newer client.
	orders = backfill.Query(ctx, h,
		`SELECT o.id, o.user_email, o.user_id, o.address_id, o.delivery_window, o.items
		FROM orders o
		WHERE NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id)
		ORDER BY o.id`, scanLegacyOrder)
	_, err = backfill.Run(ctx, orders, parseOrderItems, func(ctx context.Context, items []orderItem) error {
		for _, it := range items {
			_, err := h.ExecContext(ctx,
				`INSERT INTO order_items
				(order_id, product_id, product_name, quantity, price_at_purchase, item_type)
				VALUES (?, ?, ?, ?, ?, ?)`,
				it.order, it.productID, it.name, it.quantity, it.price, it.itemType)
			if err != nil {
				return types.Err("order item", fmt.Sprintf("order %d", it.order), err)
			}
		}
		return nil
	}, backfillOpts(h, "order items")...)

	return migrator.Step("move order items", err)
}

func parseShipping(o legacyOrder) (orderShipping, error) {
	if !o.blob.Valid || emptyBlob(o.blob.V) {
		return orderShipping{}, backfill.ErrSkip
	}

	var details struct {
		Name           text `json:"name"`
		Street         text `json:"street"`
		City           text `json:"city"`
		State          text `json:"state"`
		Zip            text `json:"zip"`
		Phone          text `json:"phone"`
		DeliveryWindow text `json:"delivery_window"`
		Date           text `json:"date"`
	}
	if err := json.Unmarshal([]byte(o.blob.V), &details); err != nil {
		return orderShipping{}, fmt.Errorf("invalid shipping details JSON: %w", err)
	}

	s := orderShipping{order: o}
	if strings.TrimSpace(o.deliveryWindow.V) == "" {
		s.window = details.DeliveryWindow.or(details.Date.or(""))
	}
	if !o.addressID.Valid && (details.Street.or("") != "" || details.City.or("") != "") {
		s.address = &profileAddress{
			email:  o.email.V,
			name:   details.Name.or("Guest"),
			street: details.Street.or(""),
			city:   details.City.or(""),
			zip:    details.Zip.or(""),
			state:  details.State.or(""),
			phone:  details.Phone.or(""),
		}
	}
	if s.address == nil && s.window == "" {
		return orderShipping{}, backfill.ErrSkip
	}

	return s, nil
}

func saveShipping(ctx context.Context, h *migrator.Handle, s orderShipping) error {
	if s.window != "" {
		_, err := h.ExecContext(ctx,
			`UPDATE orders SET delivery_window = ? WHERE id = ?`, s.window, s.order.id)
		if err != nil {
			return err
		}
	}
	if s.address == nil {
		return nil
	}

	a := s.address
	res, err := h.ExecContext(ctx,
		`INSERT INTO addresses (user_email, user_id, name, street, city, state, zip, phone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.email, s.order.userID, a.name, a.street, a.city, a.state, a.zip, a.phone)
	if err != nil {
		return types.Err("address", s.order.RowID(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed getting address ID: %w", err)
	}
	_, err = h.ExecContext(ctx, `UPDATE orders SET address_id = ? WHERE id = ?`, id, s.order.id)

	return err
}

func parseOrderItems(o legacyOrder) ([]orderItem, error) {
	if !o.blob.Valid || emptyBlob(o.blob.V) {
		return nil, backfill.ErrSkip
	}

	var raw []struct {
		ID    text   `json:"id"`
		Name  text   `json:"name"`
		Qty   number `json:"qty"`
		Price number `json:"price"`
		Type  text   `json:"type"`
	}
	if err := json.Unmarshal([]byte(o.blob.V), &raw); err != nil {
		return nil, fmt.Errorf("invalid items JSON: %w", err)
	}

	items := make([]orderItem, 0, len(raw))
	for _, r := range raw {
		it := orderItem{
			order:    o.id,
			name:     r.Name.or("Unknown Item"),
			quantity: 1,
			price:    float64(r.Price),
			itemType: r.Type.or("product"),
		}
		if id := r.ID.or(""); id != "" {
			it.productID = sql.Null[string]{V: id, Valid: true}
		}
		if r.Qty > 0 {
			it.quantity = int64(r.Qty)
		}
		items = append(items, it)
	}

	return items, nil
}

// flexActiveCarts rekeys carts by cart_key, so that guests can have carts
// too. Carts of users that no longer exist are dropped.
func flexActiveCarts(ctx context.Context, h *migrator.Handle) error {
	userIDs, err := userIDsByEmail(ctx, h)
	if err != nil {
		return migrator.Step("load users", err)
	}

	owner := func(row schema.Row) (int64, error) {
		// Carts that were already keyed by user ID.
		if id, ok := row["user_id"].(int64); ok {
			return id, nil
		}
		email, _ := row["user_email"].(string)
		if id, ok := userIDs[strings.ToLower(email)]; ok {
			return id, nil
		}
		return 0, schema.ErrSkipRow
	}

	res, err := h.Rebuild(ctx, schema.RebuildPlan{{
		Name:       "active_carts",
		Definition: activeCartsV2,
		Repopulate: &schema.Repopulate{
			Columns: map[string]schema.ColumnMapping{
				"user_id": func(row schema.Row) (any, error) {
					return owner(row)
				},
				"cart_key": func(row schema.Row) (any, error) {
					id, err := owner(row)
					return strconv.FormatInt(id, 10), err
				},
			},
		},
	}})
	if err != nil {
		return err
	}
	if skipped := res.Table("active_carts").Skipped; skipped > 0 {
		h.Logger().Warn("dropped carts of unknown users", "count", skipped)
	}

	return nil
}

func userIDsByEmail(ctx context.Context, q types.Querier) (ids map[string]int64, rerr error) {
	rows, err := q.QueryContext(ctx, `SELECT id, email FROM users`)
	if err != nil {
		return nil, types.LoadError{ModelName: "users", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing users rows: %w", err)
		}
	}()

	ids = make(map[string]int64)
	for rows.Next() {
		var (
			id    int64
			email string
		)
		if err = rows.Scan(&id, &email); err != nil {
			return nil, types.ScanError{ModelName: "user", Err: err}
		}
		ids[strings.ToLower(email)] = id
	}

	return ids, rows.Err()
}

// linkOrphanedOrders links orders placed before their user signed up.
func linkOrphanedOrders(ctx context.Context, h *migrator.Handle) error {
	res, err := h.ExecContext(ctx, `UPDATE orders
		SET user_id = (SELECT u.id FROM users u WHERE u.email = orders.user_email)
		WHERE user_id IS NULL AND user_email IS NOT NULL
		  AND EXISTS (SELECT 1 FROM users u WHERE u.email = orders.user_email)`)
	if err != nil {
		return migrator.Step("link orders", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	h.Logger().Info("linked orders to users", "count", n)

	return nil
}

type orderWindow struct {
	id     int64
	window string
}

func (o orderWindow) RowID() string {
	return fmt.Sprintf("order %d", o.id)
}

// deliveryDates adds a proper date to orders, parsed from the label of their
// delivery window, e.g. "Friday, January 17th".
func (s *set) deliveryDates(ctx context.Context, h *migrator.Handle) error {
	if err := addColumns(ctx, h, column("orders", "delivery_date", "DATE")); err != nil {
		return err
	}

	now := s.timeNow()
	rows := backfill.Query(ctx, h,
		`SELECT id, delivery_window FROM orders WHERE delivery_date IS NULL ORDER BY id`,
		func(rows *sql.Rows) (o orderWindow, err error) {
			var w sql.Null[string]
			err = rows.Scan(&o.id, &w)
			o.window = w.V
			return
		})

	type dated struct {
		id   int64
		date string
	}
	_, err := backfill.Run(ctx, rows,
		func(o orderWindow) (dated, error) {
			w := strings.TrimSpace(o.window)
			if w == "" || strings.EqualFold(w, "Standard") {
				return dated{}, backfill.ErrSkip
			}
			d, err := parseDeliveryDate(w, now)
			if err != nil {
				return dated{}, err
			}
			return dated{id: o.id, date: d.Format(time.DateOnly)}, nil
		},
		func(ctx context.Context, d dated) error {
			_, err := h.ExecContext(ctx,
				`UPDATE orders SET delivery_date = ? WHERE id = ?`, d.date, d.id)
			return err
		},
		backfillOpts(h, "delivery dates")...)

	return migrator.Step("parse delivery dates", err)
}

var (
	ordinalRx = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)

	datedLayouts = []string{
		time.DateOnly,
		time.RFC3339,
		"Monday, January 2, 2006",
		"Monday, January 2 2006",
		"Mon, Jan 2, 2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"1/2/2006",
	}
	undatedLayouts = []string{
		"Monday, January 2",
		"Monday January 2",
		"Mon, Jan 2",
		"Monday, Jan 2",
		"January 2",
		"Jan 2",
	}
)

var errUnknownDate = errors.New("unrecognized delivery date")

// parseDeliveryDate parses a delivery window label. Labels without a year
// are placed in the year of now.
func parseDeliveryDate(label string, now time.Time) (time.Time, error) {
	label = ordinalRx.ReplaceAllString(strings.TrimSpace(label), "$1")

	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return t, nil
		}
	}
	for _, layout := range undatedLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: '%s'", errUnknownDate, label)
}

// ensureActiveCarts restores the cart table on deployments that lost it.
// It's a no-op anywhere 004 and 014 ran.
func ensureActiveCarts(ctx context.Context, h *migrator.Handle) error {
	created, err := schema.EnsureTable(ctx, h, "active_carts", activeCartsV2)
	if err != nil {
		return migrator.Step("create active_carts", err)
	}
	if created {
		h.Logger().Warn("active_carts was missing and has been created")
	}
	return nil
}
