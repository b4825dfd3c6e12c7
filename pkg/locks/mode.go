/*
2024 © Postgres.ai
*/

// Package locks provides the taxonomy of PostgreSQL relation-level lock modes
// and the records the lock probe reports.
package locks

import (
	"fmt"
	"strings"
)

// Mode defines a relation-level lock mode. Modes are ordered from the weakest to the strongest.
type Mode uint8

// Relation-level lock modes.
const (
	AccessShare Mode = iota
	RowShare
	RowExclusive
	ShareUpdateExclusive
	Share
	ShareRowExclusive
	Exclusive
	AccessExclusive
)

const lockSuffix = "Lock"

// modeForms holds the literal forms of every mode: CamelCase with the suffix, CamelCase and the SQL keyword form.
var modeForms = [...]struct {
	canonical string
	short     string
	sql       string
}{
	AccessShare:          {"AccessShareLock", "AccessShare", "ACCESS SHARE"},
	RowShare:             {"RowShareLock", "RowShare", "ROW SHARE"},
	RowExclusive:         {"RowExclusiveLock", "RowExclusive", "ROW EXCLUSIVE"},
	ShareUpdateExclusive: {"ShareUpdateExclusiveLock", "ShareUpdateExclusive", "SHARE UPDATE EXCLUSIVE"},
	Share:                {"ShareLock", "Share", "SHARE"},
	ShareRowExclusive:    {"ShareRowExclusiveLock", "ShareRowExclusive", "SHARE ROW EXCLUSIVE"},
	Exclusive:            {"ExclusiveLock", "Exclusive", "EXCLUSIVE"},
	AccessExclusive:      {"AccessExclusiveLock", "AccessExclusive", "ACCESS EXCLUSIVE"},
}

// literalMatchers are tried in order before the normalization fallback.
var literalMatchers = []func(Mode) string{
	Mode.String,
	Mode.ShortName,
	Mode.SQLName,
}

// ParseError describes a text that does not name any known lock mode.
type ParseError struct {
	Text string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("unknown lock mode %q", e.Text)
}

// Modes returns all lock modes from the weakest to the strongest.
func Modes() []Mode {
	modes := make([]Mode, 0, len(modeForms))

	for i := range modeForms {
		modes = append(modes, Mode(i))
	}

	return modes
}

// ParseMode parses a lock mode from its canonical, short or SQL keyword form.
// Other spellings are normalized: lower-cased, stripped of spaces and suffixed with "lock".
func ParseMode(text string) (Mode, error) {
	for _, form := range literalMatchers {
		for _, mode := range Modes() {
			if text == form(mode) {
				return mode, nil
			}
		}
	}

	normalized := normalize(text)

	for _, mode := range Modes() {
		if normalized == strings.ToLower(mode.String()) {
			return mode, nil
		}
	}

	return 0, &ParseError{Text: text}
}

func normalize(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), "")

	if !strings.HasSuffix(normalized, strings.ToLower(lockSuffix)) {
		normalized += strings.ToLower(lockSuffix)
	}

	return normalized
}

// IsValid checks if the mode is one of the known lock modes.
func (m Mode) IsValid() bool {
	return int(m) < len(modeForms)
}

// String returns the canonical form of the mode, e.g. AccessShareLock.
func (m Mode) String() string {
	if !m.IsValid() {
		return fmt.Sprintf("Mode(%d)", m)
	}

	return modeForms[m].canonical
}

// ShortName returns the mode name without the suffix, e.g. AccessShare.
func (m Mode) ShortName() string {
	if !m.IsValid() {
		return m.String()
	}

	return modeForms[m].short
}

// SQLName returns the mode as used by the LOCK statement, e.g. ACCESS SHARE.
func (m Mode) SQLName() string {
	if !m.IsValid() {
		return m.String()
	}

	return modeForms[m].sql
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, &ParseError{Text: m.String()}
	}

	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}

	*m = mode

	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text string

	if err := unmarshal(&text); err != nil {
		return err
	}

	return m.UnmarshalText([]byte(text))
}
