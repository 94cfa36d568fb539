package migrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.hackfix.me/harvest/db/backfill"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// Customer accounts and their addresses.
func (s *set) customers() []migrator.Unit {
	return []migrator.Unit{
		addColumnsUnit("002_add_user_fields",
			columnDefault("users", "role", "TEXT", "'user'"),
			columnDefault("users", "phone", "TEXT", "''"),
		),
		addColumnsUnit("008_split_user_names",
			column("users", "first_name", "TEXT"),
			column("users", "last_name", "TEXT"),
		),
		migrator.NewUnit("011_consolidate_addresses", consolidateAddresses),
		migrator.NewUnit("012_standardize_user_ids", integerUserKeys, migrator.WithoutTransaction()),
		migrator.NewUnit("018_refactor_users", uniqueUserEmails, migrator.WithoutTransaction()),
		addColumnsUnit("019_add_is_customer_to_users",
			columnDefault("users", "is_customer", "INTEGER", "1")),
		addColumnsUnit("028_add_address_type",
			columnDefault("addresses", "type", "TEXT", "'billing'"),
			columnDefault("addresses", "is_default", "INTEGER", "0"),
		),
		migrator.NewUnit("029_split_address_names", splitAddressNames),
	}
}

// The state used for addresses that don't name one.
const defaultState = "WI"

type legacyProfile struct {
	rowid     int64
	email     string
	address   sql.Null[string]
	firstName sql.Null[string]
	lastName  sql.Null[string]
	phone     sql.Null[string]
}

func (p legacyProfile) RowID() string {
	return "user " + p.email
}

type profileAddress struct {
	user   int64
	email  string
	name   string
	street string
	city   string
	zip    string
	state  string
	phone  string
}

// consolidateAddresses moves the address blob of early user records into the
// addresses table, and links it as the user's default address.
func consolidateAddresses(ctx context.Context, h *migrator.Handle) error {
	err := addColumns(ctx, h,
		column("users", "default_address_id", "INTEGER REFERENCES addresses (id)"))
	if err != nil {
		return err
	}

	// Only databases that predate the users table of 001 have the blob.
	hasBlob, err := schema.HasColumn(ctx, h, "users", "address")
	if err != nil {
		return migrator.Step("inspect users", err)
	}
	if !hasBlob {
		return nil
	}

	rows := backfill.Query(ctx, h,
		`SELECT rowid, email, address, first_name, last_name, phone FROM users ORDER BY rowid`,
		func(rows *sql.Rows) (p legacyProfile, err error) {
			err = rows.Scan(&p.rowid, &p.email, &p.address, &p.firstName, &p.lastName, &p.phone)
			return
		})

	transform := func(p legacyProfile) (profileAddress, error) {
		if !p.address.Valid || emptyBlob(p.address.V) {
			return profileAddress{}, backfill.ErrSkip
		}
		var blob struct {
			Street text `json:"street"`
			City   text `json:"city"`
			Zip    text `json:"zip"`
			State  text `json:"state"`
		}
		if err := json.Unmarshal([]byte(p.address.V), &blob); err != nil {
			return profileAddress{}, fmt.Errorf("invalid address JSON: %w", err)
		}
		if blob.Street.or("") == "" && blob.City.or("") == "" {
			return profileAddress{}, backfill.ErrSkip
		}

		name := strings.TrimSpace(p.firstName.V + " " + p.lastName.V)
		if name == "" {
			name = "User Profile"
		}

		return profileAddress{
			user:   p.rowid,
			email:  p.email,
			name:   name,
			street: blob.Street.or(""),
			city:   blob.City.or(""),
			zip:    blob.Zip.or(""),
			state:  blob.State.or(defaultState),
			phone:  p.phone.V,
		}, nil
	}

	insert := func(ctx context.Context, a profileAddress) error {
		res, err := h.ExecContext(ctx,
			`INSERT INTO addresses (user_email, name, street, city, zip, state, phone)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.email, a.name, a.street, a.city, a.zip, a.state, a.phone)
		if err != nil {
			return types.Err("address", "user "+a.email, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed getting address ID: %w", err)
		}
		_, err = h.ExecContext(ctx,
			`UPDATE users SET default_address_id = ? WHERE rowid = ?`, id, a.user)
		return err
	}

	_, err = backfill.Run(ctx, rows, transform, insert, backfillOpts(h, "user addresses")...)

	return migrator.Step("move user addresses", err)
}

const usersV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	role TEXT DEFAULT 'user',
	phone TEXT DEFAULT '',
	first_name TEXT,
	last_name TEXT,
	default_address_id INTEGER REFERENCES addresses (id),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP`

// integerUserKeys gives users integer keys, and drops the legacy address
// blob that was moved by consolidateAddresses. Nothing references users by
// key yet.
func integerUserKeys(ctx context.Context, h *migrator.Handle) error {
	addresses, err := backfill.LoadReferences(ctx, h, "addresses", "id")
	if err != nil {
		return migrator.Step("load addresses", err)
	}

	keys := schema.NewKeyMap()
	res, err := h.Rebuild(ctx, schema.RebuildPlan{{
		Name:       "users",
		Definition: usersV2,
		Repopulate: &schema.Repopulate{
			Columns: map[string]schema.ColumnMapping{
				"id":                 keys.Assign("id"),
				"default_address_id": knownOrNull(addresses, "default_address_id"),
			},
			OrderBy: schema.IntegersFirst("id"),
		},
	}})
	if err != nil {
		return err
	}
	h.Logger().Info("switched users to integer keys", "users", res.Table("users").Copied)

	return nil
}

const (
	usersV3 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	role TEXT DEFAULT 'user',
	first_name TEXT,
	last_name TEXT,
	phone TEXT DEFAULT '',
	default_address_id INTEGER,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP`

	addressesV2 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_email TEXT,
	name TEXT NOT NULL,
	street TEXT NOT NULL,
	city TEXT NOT NULL,
	zip TEXT NOT NULL,
	state TEXT DEFAULT '',
	phone TEXT DEFAULT '',
	user_id INTEGER REFERENCES users (id),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP`
)

// uniqueUserEmails rebuilds users together with the tables that reference
// them. The default address of a user is no longer a foreign key, so that
// users and addresses can be rebuilt independently.
func uniqueUserEmails(ctx context.Context, h *migrator.Handle) error {
	users, err := backfill.LoadReferences(ctx, h, "users", "id")
	if err != nil {
		return migrator.Step("load users", err)
	}

	identity := &schema.Repopulate{}
	res, err := h.Rebuild(ctx, schema.RebuildPlan{
		{
			Name:       "users",
			Definition: usersV3,
			Dependents: []string{"addresses", "active_carts"},
			Repopulate: identity,
		},
		{
			Name:       "addresses",
			Definition: addressesV2,
			Repopulate: &schema.Repopulate{
				Columns: map[string]schema.ColumnMapping{
					"user_id": knownOrNull(users, "user_id"),
				},
			},
		},
		{
			Name:       "active_carts",
			Definition: activeCartsV2,
			Repopulate: identity,
		},
	})
	if err != nil {
		return err
	}
	h.Logger().Info("rebuilt users",
		"users", res.Table("users").Copied,
		"addresses", res.Table("addresses").Copied,
		"active_carts", res.Table("active_carts").Copied,
		"active_carts_removed", res.Table("active_carts").Orphaned)

	return nil
}

type addressName struct {
	id   int64
	name string
}

func (a addressName) RowID() string {
	return fmt.Sprintf("address %d", a.id)
}

// splitAddressNames fills first_name and last_name of addresses from the
// full name. The first word is the first name.
func splitAddressNames(ctx context.Context, h *migrator.Handle) error {
	err := addColumns(ctx, h,
		column("addresses", "first_name", "TEXT"),
		column("addresses", "last_name", "TEXT"),
	)
	if err != nil {
		return err
	}

	rows := backfill.Query(ctx, h, `SELECT id, name FROM addresses ORDER BY id`,
		func(rows *sql.Rows) (a addressName, err error) {
			var name sql.Null[string]
			err = rows.Scan(&a.id, &name)
			a.name = name.V
			return
		})

	type names struct {
		id          int64
		first, last string
	}
	_, err = backfill.Run(ctx, rows,
		func(a addressName) (names, error) {
			parts := strings.Fields(a.name)
			if len(parts) == 0 {
				return names{}, backfill.ErrSkip
			}
			return names{id: a.id, first: parts[0], last: strings.Join(parts[1:], " ")}, nil
		},
		func(ctx context.Context, n names) error {
			_, err := h.ExecContext(ctx,
				`UPDATE addresses SET first_name = ?, last_name = ? WHERE id = ?`,
				n.first, n.last, n.id)
			return err
		},
		backfillOpts(h, "address names")...)

	return migrator.Step("split address names", err)
}
