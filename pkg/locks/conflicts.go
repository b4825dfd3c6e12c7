/*
2024 © Postgres.ai
*/

package locks

// conflictTable follows the table-level lock conflict matrix of PostgreSQL.
var conflictTable = [...][]Mode{
	AccessShare:          {AccessExclusive},
	RowShare:             {Exclusive, AccessExclusive},
	RowExclusive:         {Share, ShareRowExclusive, Exclusive, AccessExclusive},
	ShareUpdateExclusive: {ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive, AccessExclusive},
	Share:                {RowExclusive, ShareUpdateExclusive, ShareRowExclusive, Exclusive, AccessExclusive},
	ShareRowExclusive: {RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive,
		AccessExclusive},
	Exclusive: {RowShare, RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive, Exclusive,
		AccessExclusive},
	AccessExclusive: {AccessShare, RowShare, RowExclusive, ShareUpdateExclusive, Share, ShareRowExclusive,
		Exclusive, AccessExclusive},
}

// ConflictingModes returns the modes that cannot be held on a relation together with the given one.
func (m Mode) ConflictingModes() []Mode {
	if !m.IsValid() {
		return nil
	}

	conflicts := make([]Mode, len(conflictTable[m]))
	copy(conflicts, conflictTable[m])

	return conflicts
}

// Conflicts checks if two modes block each other.
func (m Mode) Conflicts(other Mode) bool {
	for _, mode := range m.ConflictingModes() {
		if mode == other {
			return true
		}
	}

	return false
}
