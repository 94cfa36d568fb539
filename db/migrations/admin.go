package migrations

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.hackfix.me/harvest/db/backfill"
	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
	"go.hackfix.me/harvest/db/types"
)

// Staff accounts and their permissions.
func (s *set) admin() []migrator.Unit {
	return []migrator.Unit{
		migrator.NewUnit("020_add_is_admin_flag", adminFlag),
		migrator.NewUnit("021_rename_role", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.RenameColumn(ctx, h, "users", "role", "admin_role")
			return migrator.Step("rename role", err)
		}),
		migrator.NewUnit("022_create_admin_types", createAdminTypes),
		migrator.NewUnit("023_assign_admin_types", assignAdminTypes),
		migrator.NewUnit("024_update_permissions", updatePermissions),
		migrator.NewUnit("025_drop_admin_role", func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.DropColumn(ctx, h, "users", "admin_role")
			return migrator.Step("drop admin_role", err)
		}),
		migrator.NewUnit("032_improve_user_schema", s.roleHierarchy, migrator.WithoutTransaction()),
	}
}

func adminFlag(ctx context.Context, h *migrator.Handle) error {
	if err := addColumns(ctx, h, columnDefault("users", "is_admin", "INTEGER", "0")); err != nil {
		return err
	}
	hasRole, err := schema.HasColumn(ctx, h, "users", "role")
	if err != nil {
		return migrator.Step("inspect users", err)
	}
	if !hasRole {
		return nil
	}
	return exec(ctx, h, "flag admins",
		`UPDATE users SET is_admin = 1 WHERE role IN ('admin', 'super_admin')`)
}

// AdminType is a staff role.
type AdminType struct {
	Name        string
	DisplayName string
	Description string
	Level       int
	Permissions []string
}

func (t AdminType) permissionsJSON() string {
	perms := t.Permissions
	if perms == nil {
		perms = []string{}
	}
	data, _ := json.Marshal(perms) //nolint:errchkjson // A string slice always encodes.
	return string(data)
}

const adminTypesV1 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	permissions TEXT DEFAULT '[]',
	description TEXT`

var initialAdminTypes = []AdminType{
	{Name: "superadmin", Description: "Full System Access", Permissions: []string{"*"}},
	{Name: "admin", Description: "General Administrator", Permissions: []string{"*"}},
	{
		Name: "store_owner", Description: "Owner",
		Permissions: []string{"view_financials", "manage_all_store"},
	},
	{
		Name: "store_manager", Description: "Manager",
		Permissions: []string{"manage_products", "manage_orders", "manage_customers"},
	},
	{
		Name: "store_delivery", Description: "Delivery Driver",
		Permissions: []string{"view_delivery_routes", "update_delivery_status"},
	},
}

func createAdminTypes(ctx context.Context, h *migrator.Handle) error {
	if _, err := schema.EnsureTable(ctx, h, "admin_types", adminTypesV1); err != nil {
		return migrator.Step("create admin_types", err)
	}
	for _, t := range initialAdminTypes {
		_, err := h.ExecContext(ctx,
			`INSERT OR IGNORE INTO admin_types (name, permissions, description) VALUES (?, ?, ?)`,
			t.Name, t.permissionsJSON(), t.Description)
		if err != nil {
			return migrator.Step("seed admin_types", err)
		}
	}
	return nil
}

func assignAdminTypes(ctx context.Context, h *migrator.Handle) error {
	err := addColumns(ctx, h,
		column("users", "admin_type_id", "INTEGER REFERENCES admin_types (id)"))
	if err != nil {
		return err
	}
	hasRole, err := schema.HasColumn(ctx, h, "users", "admin_role")
	if err != nil {
		return migrator.Step("inspect users", err)
	}
	if !hasRole {
		return nil
	}

	for role, typ := range map[string]string{"admin": "admin", "super_admin": "superadmin"} {
		_, err = h.ExecContext(ctx, `UPDATE users
			SET admin_type_id = (SELECT id FROM admin_types WHERE name = ?)
			WHERE admin_role = ? AND EXISTS (SELECT 1 FROM admin_types WHERE name = ?)`,
			typ, role, typ)
		if err != nil {
			return migrator.Step("assign admin types", err)
		}
	}
	return nil
}

func updatePermissions(ctx context.Context, h *migrator.Handle) error {
	delivery := []string{"view_delivery_calendar", "view_delivery_routes", "update_delivery_status"}
	manager := slices.Concat(delivery, []string{"manage_products", "manage_orders", "manage_customers"})
	owner := slices.Concat(manager, []string{"manage_all", "view_financials"})
	admin := slices.DeleteFunc(slices.Clone(owner), func(p string) bool { return p == "view_financials" })

	for _, t := range []AdminType{
		{Name: "store_delivery", Permissions: delivery},
		{Name: "store_manager", Permissions: manager},
		{Name: "store_owner", Permissions: owner},
		{Name: "admin", Permissions: admin},
		{Name: "superadmin", Permissions: []string{"*"}},
	} {
		_, err := h.ExecContext(ctx,
			`UPDATE admin_types SET permissions = ? WHERE name = ?`, t.permissionsJSON(), t.Name)
		if err != nil {
			return migrator.Step("update permissions", err)
		}
	}
	return nil
}

// AdminTypes is the role hierarchy. A higher level includes the lower ones.
var AdminTypes = []AdminType{
	{
		Name: "super_admin", DisplayName: "Super Administrator", Level: 100,
		Description: "Full system access - can manage everything including other admins",
		Permissions: []string{"*"},
	},
	{
		Name: "owner", DisplayName: "Business Owner", Level: 80,
		Description: "Business owner - can manage staff, products, and view all reports",
		Permissions: []string{"manage_users", "manage_products", "manage_orders", "view_reports", "manage_config"},
	},
	{
		Name: "admin", DisplayName: "Administrator", Level: 60,
		Description: "Administrator - can manage products, orders, and customers",
		Permissions: []string{"manage_products", "manage_orders", "view_reports", "manage_customers"},
	},
	{
		Name: "manager", DisplayName: "Manager", Level: 40,
		Description: "Manager - can manage orders and view reports",
		Permissions: []string{"manage_orders", "view_reports"},
	},
	{
		Name: "delivery", DisplayName: "Delivery Staff", Level: 20,
		Description: "Delivery staff - can view orders and update delivery status",
		Permissions: []string{"view_orders", "update_delivery_status"},
	},
}

// renamedAdminTypes maps the names of the first admin types to the roles of
// the hierarchy.
var renamedAdminTypes = [][2]string{
	{"superadmin", "super_admin"},
	{"store_owner", "owner"},
	{"store_manager", "manager"},
	{"store_delivery", "delivery"},
}

const usersV4 = `id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	first_name TEXT,
	last_name TEXT,
	phone TEXT NOT NULL DEFAULT '',
	admin_type_id INTEGER REFERENCES admin_types (id),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP`

const usersWithRoles = `CREATE VIEW users_with_roles AS
SELECT
  u.*,
  (u.admin_type_id IS NOT NULL) AS is_admin,
  (u.admin_type_id IS NULL) AS is_customer,
  at.name AS role_name,
  at.display_name AS role_display_name,
  at.level AS role_level,
  at.permissions AS role_permissions,
  at.description AS role_description
FROM users u
LEFT JOIN admin_types at ON u.admin_type_id = at.id`

// roleHierarchy replaces the admin types with a leveled hierarchy, and
// rebuilds users so that the admin type is the only source of a user's role.
// Existing staff keep their role under its new name.
func (s *set) roleHierarchy(ctx context.Context, h *migrator.Handle) error {
	err := h.Tx(ctx, func(q types.Querier) error {
		return migrateAdminTypes(ctx, q)
	})
	if err != nil {
		return migrator.Step("admin types", err)
	}

	adminTypes, err := backfill.LoadReferences(ctx, h, "admin_types", "id")
	if err != nil {
		return migrator.Step("load admin types", err)
	}

	now := s.timeNow().UTC().Format(time.DateTime)
	res, err := h.Rebuild(ctx, schema.RebuildPlan{{
		Name:       "users",
		Definition: usersV4,
		Repopulate: &schema.Repopulate{
			Columns: map[string]schema.ColumnMapping{
				"phone":         schema.Coalesce("", "phone"),
				"admin_type_id": knownOrNull(adminTypes, "admin_type_id"),
				"updated_at":    schema.Coalesce(now, "updated_at", "created_at"),
			},
		},
		After: []string{
			`CREATE INDEX IF NOT EXISTS idx_users_admin_type ON users (admin_type_id)`,
			`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users (created_at)`,
			`DROP TRIGGER IF EXISTS update_users_timestamp`,
			`CREATE TRIGGER update_users_timestamp
			AFTER UPDATE ON users
			BEGIN
				UPDATE users SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
			END`,
		},
	}})
	if err != nil {
		return err
	}
	h.Logger().Info("rebuilt users", "users", res.Table("users").Copied)

	_, err = schema.EnsureIndex(ctx, h, schema.Index{
		Name: "idx_admin_types_level", Table: "admin_types", Columns: []string{"level"},
	})
	if err != nil {
		return migrator.Step("index admin types", err)
	}

	return exec(ctx, h, "create users_with_roles",
		`DROP VIEW IF EXISTS users_with_roles`, usersWithRoles)
}

func migrateAdminTypes(ctx context.Context, q types.Querier) error {
	_, err := schema.EnsureColumns(ctx, q,
		schema.Column{
			Table: "admin_types", Name: "level", Type: "INTEGER",
			NotNull: true, Default: schema.Default("0"),
		},
		column("admin_types", "display_name", "TEXT"),
		column("admin_types", "description", "TEXT"),
		column("admin_types", "permissions", "TEXT"),
	)
	if err != nil {
		return err
	}

	for _, r := range renamedAdminTypes {
		_, err = q.ExecContext(ctx, `UPDATE admin_types SET name = ?
			WHERE name = ? AND NOT EXISTS (SELECT 1 FROM admin_types WHERE name = ?)`,
			r[1], r[0], r[1])
		if err != nil {
			return fmt.Errorf("failed renaming admin type '%s': %w", r[0], err)
		}
	}

	names := make([]any, len(AdminTypes))
	for i, t := range AdminTypes {
		names[i] = t.Name
		_, err = q.ExecContext(ctx, `INSERT INTO admin_types
			(name, display_name, description, level, permissions) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				display_name = excluded.display_name,
				description = excluded.description,
				level = excluded.level,
				permissions = excluded.permissions`,
			t.Name, t.DisplayName, t.Description, t.Level, t.permissionsJSON())
		if err != nil {
			return types.Err("admin type", t.Name, err)
		}
	}

	in := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	_, err = q.ExecContext(ctx, fmt.Sprintf(`UPDATE users SET admin_type_id = NULL
		WHERE admin_type_id IN (SELECT id FROM admin_types WHERE name NOT IN (%s))`, in), names...)
	if err != nil {
		return fmt.Errorf("failed unlinking retired admin types: %w", err)
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM admin_types WHERE name NOT IN (%s)`, in), names...)
	if err != nil {
		return fmt.Errorf("failed deleting retired admin types: %w", err)
	}

	// Users flagged as admins without a type would lose access once the flag
	// is gone.
	hasFlag, err := schema.HasColumn(ctx, q, "users", "is_admin")
	if err != nil {
		return err
	}
	if hasFlag {
		_, err = q.ExecContext(ctx, `UPDATE users
			SET admin_type_id = (SELECT id FROM admin_types WHERE name = 'admin')
			WHERE is_admin = 1 AND admin_type_id IS NULL`)
		if err != nil {
			return fmt.Errorf("failed assigning admin type to flagged admins: %w", err)
		}
	}

	return nil
}
