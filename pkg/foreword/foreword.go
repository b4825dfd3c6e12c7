/*
2020 © Postgres.ai
*/

// Package foreword provides structures for building the startup message of the server.
package foreword

import (
	"context"
	"fmt"
	"time"

	"github.com/hako/durafmt"
	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

// MsgForewordTpl provides a template of the startup message.
const MsgForewordTpl = `Lock probe %s is ready
Postgres version: %s
Database: %s
Database size: %s
Session pairs: %d
Statement timeout: %s
Lock timeout: %s`

const serverDefault = "server default"

const dbInfoQuery = "select current_setting('server_version'), pg_size_pretty(pg_database_size(current_database()))"

// Content defines data for a foreword message.
type Content struct {
	AppVersion       string
	DBName           string
	DBVersion        string
	DBSize           string
	Pairs            int
	StatementTimeout time.Duration
	LockTimeout      time.Duration
}

// EnrichForewordInfo adds database details to foreword data.
func (f *Content) EnrichForewordInfo(ctx context.Context, s session.Session) error {
	rows, err := s.Query(ctx, dbInfoQuery)
	if err != nil {
		return errors.Wrap(err, "failed to retrieve database meta info")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, "failed to retrieve database meta info")
		}

		return errors.New("database meta info not found")
	}

	if err := rows.Scan(&f.DBVersion, &f.DBSize); err != nil {
		return errors.Wrap(err, "failed to scan database meta info")
	}

	return nil
}

// GetForeword returns a foreword message.
func (f *Content) GetForeword() string {
	return fmt.Sprintf(MsgForewordTpl, f.AppVersion, f.DBVersion, f.DBName, f.DBSize, f.Pairs,
		formatTimeout(f.StatementTimeout), formatTimeout(f.LockTimeout))
}

func formatTimeout(d time.Duration) string {
	if d <= 0 {
		return serverDefault
	}

	return durafmt.Parse(d).String()
}
