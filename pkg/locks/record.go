/*
2024 © Postgres.ai
*/

package locks

import (
	"sort"
)

// Record describes a lock held on a relation.
type Record struct {
	LockType string `json:"locktype"`
	Mode     Mode   `json:"mode"`
	Schema   string `json:"schema"`
	Relation string `json:"relation"`
}

// SortRecords orders records by relation name, then by the canonical mode name.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Relation != records[j].Relation {
			return records[i].Relation < records[j].Relation
		}

		return records[i].Mode.String() < records[j].Mode.String()
	})
}
