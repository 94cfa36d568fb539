package migrator

import (
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/mr-tron/base58"
)

// noTxDirective on the first line of an SQL file makes the unit run outside
// of a transaction.
const noTxDirective = "-- +migrate NoTransaction"

var sqlFileRx = regexp.MustCompile(`^(.+)\.(up|down)\.sql$`)

// LoadSQL loads units from the SQL files in the root of fsys. Each unit is
// an NNN_description.up.sql file, with an optional NNN_description.down.sql
// file that reverts it. Other files are ignored.
func LoadSQL(fsys fs.FS) ([]Unit, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	var (
		units []Unit
		downs = map[string]string{}
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m := sqlFileRx.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, &RegistryConflictError{
				IDs:    []string{entry.Name()},
				Reason: "SQL migration files must be named NNN_description.up.sql or .down.sql",
			}
		}

		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file '%s': %w", entry.Name(), err)
		}
		body := string(data)
		if strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("migration file '%s' is empty", entry.Name())
		}

		id := m[1]
		if m[2] == "down" {
			downs[id] = body
			continue
		}

		sum := sha256.Sum256(data)
		u := NewUnit(id, execSQL(body))
		u.Checksum = base58.Encode(sum[:])
		u.Source = entry.Name()
		u.NoTransaction = hasNoTxDirective(body)
		units = append(units, u)
	}

	for i, u := range units {
		if down, ok := downs[u.ID]; ok {
			units[i].Revert = RevertWith(execSQL(down))
			delete(downs, u.ID)
		}
	}
	if len(downs) > 0 {
		var orphans []string
		for _, id := range slices.Sorted(maps.Keys(downs)) {
			orphans = append(orphans, id+".down.sql")
		}
		return nil, &RegistryConflictError{
			IDs: orphans, Reason: "down migration without an up migration",
		}
	}

	return units, nil
}

func execSQL(body string) ApplyFunc {
	return func(ctx context.Context, h *Handle) error {
		if _, err := h.ExecContext(ctx, body); err != nil {
			return fmt.Errorf("failed executing SQL: %w", err)
		}
		return nil
	}
}

func hasNoTxDirective(body string) bool {
	sc := bufio.NewScanner(strings.NewReader(body))
	if !sc.Scan() {
		return false
	}
	return strings.TrimSpace(sc.Text()) == noTxDirective
}
