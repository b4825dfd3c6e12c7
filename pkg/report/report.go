/*
2024 © Postgres.ai
*/

// Package report renders lock analysis results for terminals.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
)

// NoLocksMessage is printed when the statement acquires no matching locks.
const NoLocksMessage = "No locks were returned for this query"

// RenderRecords renders lock records in the psql style.
func RenderRecords(w io.Writer, records []locks.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, NoLocksMessage)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Lock type", "Mode", "Schema", "Relation"})

	for _, record := range records {
		table.Append([]string{record.LockType, record.Mode.String(), record.Schema, record.Relation})
	}

	table.Render()
}

// RenderSentences describes every lock record in a sentence.
func RenderSentences(w io.Writer, records []locks.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, NoLocksMessage)
		return
	}

	for _, record := range records {
		fmt.Fprintf(w, "Lock of type '%s' with mode '%s' will be taken on relation '%s.%s'\n",
			record.LockType, record.Mode, record.Schema, record.Relation)
	}
}

// Summary describes the number of locks and the time spent.
func Summary(count int, elapsed time.Duration) string {
	noun := "locks"
	if count == 1 {
		noun = "lock"
	}

	return fmt.Sprintf("(%d %s, %s)", count, noun, durafmt.Parse(elapsed.Round(time.Millisecond)).String())
}
