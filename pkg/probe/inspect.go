/*
2024 © Postgres.ai
*/

package probe

import (
	"context"

	"github.com/jackc/pgtype"
	"github.com/pkg/errors"

	"gitlab.com/postgres-ai/database-lab/v2/pkg/log"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
	"gitlab.com/postgres-ai/lockprobe/pkg/session"
)

// inspectQuery finds relation locks held by the backend running the statement.
// The backend is matched by its whole activity text, or by the leading tag comment when $2 is true:
// the activity text is cut to track_activity_query_size - 1 bytes, and the tag survives the cut.
// Absent filters are passed as NULL and do not restrict rows.
const inspectQuery = `select pl.locktype, pl.mode, pn.nspname, pc.relname
from pg_locks pl
join pg_stat_activity psa on psa.pid = pl.pid
join pg_class pc on pc.oid = pl.relation
join pg_namespace pn on pn.oid = pc.relnamespace
where case when $2::boolean
        then left(psa.query, length($1::text)) = $1::text
        else psa.query = $1::text
      end
  and psa.pid <> pg_backend_pid()
  and ($3::text is null or pn.nspname = $3::text)
  and ($4::text is null or pc.relname = $4::text)
order by pc.relname, pl.mode`

// Match selects the backend running the statement in pg_stat_activity.
type Match struct {
	// Text is compared with the activity text.
	Text string

	// Prefix compares only the beginning of the activity text.
	Prefix bool
}

// ExactMatch matches the backend whose activity text equals the statement.
func ExactMatch(statement string) Match {
	return Match{Text: statement}
}

// TagMatch matches the backend whose activity text starts with the tag comment.
func TagMatch(tag string) Match {
	return Match{Text: tagComment(tag), Prefix: true}
}

// BuildInspectQuery returns the catalog query and its arguments.
// A nil or empty filter does not restrict rows.
func BuildInspectQuery(match Match, schema, relation *string) (string, []interface{}) {
	return inspectQuery, []interface{}{match.Text, match.Prefix, filterArg(schema), filterArg(relation)}
}

func filterArg(filter *string) interface{} {
	if filter == nil || *filter == "" {
		return nil
	}

	return *filter
}

// Inspect queries the lock catalogs on the inspector session and returns
// the locks held by the session running the matched statement.
func Inspect(ctx context.Context, inspector session.Session, match Match,
	schema, relation *string) ([]locks.Record, error) {
	query, args := BuildInspectQuery(match, schema, relation)

	rows, err := inspector.Query(ctx, query, args...)
	if err != nil {
		if inspector.IsClosed() {
			return nil, newError(ConnectionFailure, errors.Wrap(err, "inspector session is lost"))
		}

		return nil, newError(InspectionFailure, err)
	}
	defer rows.Close()

	records := make([]locks.Record, 0)

	for rows.Next() {
		var lockType, mode, schemaName, relationName pgtype.Text

		if err := rows.Scan(&lockType, &mode, &schemaName, &relationName); err != nil {
			return nil, newError(InspectionFailure, errors.Wrap(err, "failed to scan a lock row"))
		}

		lockMode, err := locks.ParseMode(mode.String)
		if err != nil {
			return nil, newError(LockModeParseFailure, err)
		}

		records = append(records, locks.Record{
			LockType: lockType.String,
			Mode:     lockMode,
			Schema:   schemaName.String,
			Relation: relationName.String,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, newError(InspectionFailure, errors.Wrap(err, "failed to read lock rows"))
	}

	locks.SortRecords(records)

	log.Dbg("Locks found:", len(records))

	return records, nil
}
