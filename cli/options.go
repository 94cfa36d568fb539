package cli

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/alecthomas/kong"

	"go.hackfix.me/harvest/db/migrator"
)

// VersionMapper parses a migration version given either as a number, e.g. 36
// or 036, or as a full identifier, e.g. 036_add_utm_to_signups.
type VersionMapper struct{}

var _ kong.Mapper = (*VersionMapper)(nil)

// Decode implements the kong.Mapper interface.
func (VersionMapper) Decode(kctx *kong.DecodeContext, target reflect.Value) error {
	var value string
	err := kctx.Scan.PopValueInto("migration version", &value)
	if err != nil {
		return err
	}

	version, err := strconv.Atoi(value)
	if err != nil {
		version, _, err = migrator.ParseID(value)
		if err != nil {
			return err
		}
	}
	if version < 1 {
		return fmt.Errorf("migration version must be a positive number, got %d", version)
	}

	target.SetInt(int64(version))

	return nil
}
