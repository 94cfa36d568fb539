package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	actx "go.hackfix.me/harvest/app/context"
	aerrors "go.hackfix.me/harvest/app/errors"
	"go.hackfix.me/harvest/db/migrator"
)

// The Status command shows which migrations are applied and which are
// pending. It doesn't change the database.
type Status struct {
	Pending bool `help:"Only show pending migrations."`
}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	st, err := appCtx.DB.Status(appCtx.Ctx)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading migration status", err, "")
	}

	now := appCtx.TimeNow()
	data := [][]string{}
	if !c.Pending {
		modified := make(map[int]bool, len(st.Modified))
		for _, rec := range st.Modified {
			modified[rec.Version] = true
		}
		for _, rec := range st.Applied {
			state := "applied"
			if modified[rec.Version] {
				state = "modified"
			}
			data = append(data, []string{
				fmt.Sprintf("%03d", rec.Version), rec.Name, state,
				humanize.RelTime(rec.AppliedAt, now, "ago", "from now"),
				rec.ExecutionTime.Round(time.Millisecond).String(),
			})
		}
	}
	for _, u := range st.Pending {
		data = append(data, []string{fmt.Sprintf("%03d", u.Version), u.Name, "pending", "", ""})
	}

	if len(data) > 0 {
		header := []string{"Version", "Name", "State", "Applied", "Duration"}
		if err = renderTable(appCtx.Stdout, header, data, 0); err != nil {
			return aerrors.NewRuntimeError("failed rendering table", err, "")
		}
	}

	fmt.Fprintf(appCtx.Stdout, "\nCurrent version: %d, latest: %d, pending: %d\n",
		st.Current, st.Latest, len(st.Pending))
	if len(st.Missing) > 0 {
		fmt.Fprintf(appCtx.Stdout, "Versions not in use: %s\n", joinInts(st.Missing))
	}
	if len(st.Unknown) > 0 {
		fmt.Fprintf(appCtx.Stdout, "Applied by a newer release: %s\n", joinVersions(st.Unknown))
	}
	if len(st.Modified) > 0 {
		fmt.Fprintf(appCtx.Stdout, "Changed since they were applied: %s\n", joinVersions(st.Modified))
	}

	return nil
}

func joinInts(nums []int) string {
	strs := make([]string, len(nums))
	for i, n := range nums {
		strs[i] = strconv.Itoa(n)
	}
	return strings.Join(strs, ", ")
}

func joinVersions(recs []migrator.VersionRecord) string {
	strs := make([]string, len(recs))
	for i, rec := range recs {
		strs[i] = fmt.Sprintf("%03d_%s", rec.Version, rec.Name)
	}
	return strings.Join(strs, ", ")
}
