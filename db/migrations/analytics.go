package migrations

import (
	"context"

	"go.hackfix.me/harvest/db/migrator"
	"go.hackfix.me/harvest/db/schema"
)

// Site analytics and the launch signup page. Their tables are created by
// SQL units.
func (s *set) analytics() []migrator.Unit {
	return []migrator.Unit{
		columnUnit("034_add_ip_to_analytics", column("analytics_events", "ip_address", "TEXT")),
		columnUnit("036_add_utm_to_signups", column("launch_signups", "utm_source", "TEXT")),
	}
}

// columnUnit adds a single column, and drops it when reverted.
func columnUnit(id string, col schema.Column) migrator.Unit {
	return migrator.NewUnit(id,
		func(ctx context.Context, h *migrator.Handle) error {
			return addColumns(ctx, h, col)
		},
		migrator.WithRevert(func(ctx context.Context, h *migrator.Handle) error {
			_, err := schema.DropColumn(ctx, h, col.Table, col.Name)
			return migrator.Step("drop "+col.Name, err)
		}),
	)
}
