// Package db contains database helpers.
package db

import (
	"context"
	"fmt"

	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

// MinSupportedVersionNum is the first server version exposing pg_stat_activity.query.
const MinSupportedVersionNum = 90200

// GetVersionNum returns the server version number, e.g. 120005.
func GetVersionNum(ctx context.Context, conn session.Session) (int, error) {
	return getIntSetting(ctx, conn, "server_version_num")
}

// GetMajorVersion returns the major Postgres version.
func GetMajorVersion(ctx context.Context, conn session.Session) (int, error) {
	versionNum, err := GetVersionNum(ctx, conn)
	if err != nil {
		return 0, err
	}

	return versionNum / 10000, nil
}

// CheckSupported checks that the server exposes the catalogs the lock probe reads.
func CheckSupported(ctx context.Context, conn session.Session) error {
	versionNum, err := GetVersionNum(ctx, conn)
	if err != nil {
		return err
	}

	if versionNum < MinSupportedVersionNum {
		return fmt.Errorf("unsupported server version %d, the minimal supported version is %d",
			versionNum, MinSupportedVersionNum)
	}

	return nil
}
