package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.hackfix.me/harvest/db/types"
)

// AdminType is a staff role. Users without an admin type are customers.
type AdminType struct {
	ID          uint64
	Name        string
	DisplayName string
	Description string
	Level       int
	Permissions []string
}

// Can reports whether the role grants the permission.
func (at *AdminType) Can(permission string) bool {
	for _, p := range at.Permissions {
		if p == "*" || p == permission {
			return true
		}
	}
	return false
}

// Load the admin type from the database. Either the ID or Name must be set.
func (at *AdminType) Load(ctx context.Context, d types.Querier) error {
	var filter *types.Filter
	var filterStr string
	switch {
	case at.ID != 0:
		filter = types.NewFilter("at.id = ?", []any{at.ID})
		filterStr = fmt.Sprintf("ID %d", at.ID)
	case at.Name != "":
		filter = types.NewFilter("at.name = ?", []any{at.Name})
		filterStr = fmt.Sprintf("name '%s'", at.Name)
	default:
		return types.InvalidInputError{Msg: "either admin type ID or Name must be set"}
	}

	ats, err := AdminTypes(ctx, d, filter)
	if err != nil {
		return err
	}
	if len(ats) == 0 {
		return types.NoResultError{ModelName: "admin type", ID: filterStr}
	}
	*at = *ats[0]

	return nil
}

// AdminTypes returns admin types ordered from the most to the least
// privileged. An optional filter can be passed to limit the results.
func AdminTypes(ctx context.Context, d types.Querier, filter *types.Filter) (ats []*AdminType, rerr error) {
	where := "1=1"
	var args []any
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query := fmt.Sprintf(`SELECT at.id, at.name, IFNULL(at.display_name, ''),
			IFNULL(at.description, ''), at.level, IFNULL(at.permissions, '')
		FROM admin_types at
		WHERE %s
		ORDER BY at.level DESC, at.name ASC`, where)

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "admin types", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing admin types rows: %w", err)
		}
	}()

	ats = make([]*AdminType, 0)
	for rows.Next() {
		var (
			at    AdminType
			perms string
		)
		err = rows.Scan(&at.ID, &at.Name, &at.DisplayName, &at.Description, &at.Level, &perms)
		if err != nil {
			return nil, types.ScanError{ModelName: "admin type", Err: err}
		}
		at.Permissions = parsePermissions(perms)
		ats = append(ats, &at)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over admin types rows: %w", err)
	}

	return ats, nil
}

// parsePermissions reads a JSON list of permissions. Early records used a
// comma separated list.
func parsePermissions(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(s), &perms); err == nil {
		return perms
	}
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}

	return perms
}
