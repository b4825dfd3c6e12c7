package db

import (
	"context"
	"fmt"

	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

const intSettingQuery = `select setting::integer from pg_settings where name = $1`

// GetActivityQuerySize returns track_activity_query_size in bytes.
// pg_stat_activity keeps at most this number of bytes minus one of the statement text.
func GetActivityQuerySize(ctx context.Context, conn session.Session) (int, error) {
	return getIntSetting(ctx, conn, "track_activity_query_size")
}

func getIntSetting(ctx context.Context, conn session.Session, name string) (int, error) {
	rows, err := conn.Query(ctx, intSettingQuery, name)
	if err != nil {
		return 0, fmt.Errorf("failed to read the %s setting: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("failed to read the %s setting: %w", name, err)
		}

		return 0, fmt.Errorf("setting %s is not reported", name)
	}

	var value int

	if err := rows.Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to scan the %s setting: %w", name, err)
	}

	return value, nil
}
