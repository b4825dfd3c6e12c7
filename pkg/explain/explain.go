/*
2024 © Postgres.ai
*/

// Package explain describes lock modes and the statements they block.
package explain

import (
	_ "embed" // Embeds the default catalog.
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
)

//go:embed explanations.yaml
var defaultCatalog []byte

// Entry describes a lock mode.
type Entry struct {
	Mode        locks.Mode `yaml:"mode" json:"mode"`
	Description string     `yaml:"description" json:"description"`
	Statements  []string   `yaml:"statements" json:"statements"`
}

// Explanation describes a lock mode together with the modes and statements it blocks.
type Explanation struct {
	Entry
	Conflicts       []locks.Mode        `json:"conflicts"`
	BlockedExamples map[string][]string `json:"blockedExamples"`
}

// Catalog holds entries of all lock modes.
type Catalog struct {
	entries map[locks.Mode]Entry
}

// Default returns the embedded catalog.
func Default() *Catalog {
	catalog, err := Load(defaultCatalog)
	if err != nil {
		panic(err)
	}

	return catalog
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("error loading %s catalog file: %v", path, err)
	}

	return Load(b)
}

// Load parses a YAML catalog. Every lock mode must be described exactly once.
func Load(data []byte) (*Catalog, error) {
	var entries []Entry

	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "error parsing lock mode catalog")
	}

	catalog := &Catalog{entries: make(map[locks.Mode]Entry, len(entries))}

	for _, entry := range entries {
		if _, ok := catalog.entries[entry.Mode]; ok {
			return nil, errors.Errorf("lock mode %s is described twice", entry.Mode)
		}

		catalog.entries[entry.Mode] = entry
	}

	for _, mode := range locks.Modes() {
		if _, ok := catalog.entries[mode]; !ok {
			return nil, errors.Errorf("lock mode %s is not described", mode)
		}
	}

	return catalog, nil
}

// Explain describes the lock mode given in any accepted spelling.
func (c *Catalog) Explain(text string) (Explanation, error) {
	mode, err := locks.ParseMode(text)
	if err != nil {
		return Explanation{}, err
	}

	explanation := Explanation{
		Entry:           c.entries[mode],
		Conflicts:       mode.ConflictingModes(),
		BlockedExamples: make(map[string][]string),
	}

	for _, conflict := range explanation.Conflicts {
		if statements := c.entries[conflict].Statements; len(statements) > 0 {
			explanation.BlockedExamples[conflict.String()] = statements
		}
	}

	return explanation, nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"statements": func(e Explanation, mode locks.Mode) []string {
		return e.BlockedExamples[mode.String()]
	},
}

var explanationTemplate = template.Must(template.New("explanation").Funcs(funcs).Parse(
	`{{ .Mode }} ({{ .Mode.SQLName }})
{{ .Description }}

Acquired by: {{ join .Statements ", " }}

Blocks:
{{- range $mode := .Conflicts }}
  {{ $mode }}: {{ join (statements $ $mode) ", " }}
{{- end }}
`))

// Render writes the explanation in a human-readable form.
func Render(w io.Writer, e Explanation) error {
	return explanationTemplate.Execute(w, e)
}
