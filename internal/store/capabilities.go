package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/nexus-community/groups-cli/internal/db"
)

// Capabilities describes optional schema features, resolved once when the
// store is opened and reused for the life of the process. Older tenant
// databases predate the origin and visibility columns.
type Capabilities struct {
	HasFederatedOrigin bool
	HasVisibility      bool
}

// DetectCapabilities probes information_schema for the optional columns.
func DetectCapabilities(ctx context.Context, pool db.Pool) (Capabilities, error) {
	sql := `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE (table_name = 'group_members' AND column_name = 'origin')
		   OR (table_name = 'groups' AND column_name = 'visible')
	`
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return Capabilities{}, eris.Wrap(err, "store: detect capabilities")
	}
	defer rows.Close()

	var caps Capabilities
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return Capabilities{}, eris.Wrap(err, "store: scan capability row")
		}
		switch {
		case table == "group_members" && column == "origin":
			caps.HasFederatedOrigin = true
		case table == "groups" && column == "visible":
			caps.HasVisibility = true
		}
	}
	return caps, rows.Err()
}
