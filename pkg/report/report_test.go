/*
2024 © Postgres.ai
*/

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gitlab.com/postgres-ai/lockprobe/pkg/locks"
)

func TestRenderRecords(t *testing.T) {
	var buf bytes.Buffer

	RenderRecords(&buf, []locks.Record{
		{LockType: "relation", Mode: locks.AccessShare, Schema: "public", Relation: "orders"},
		{LockType: "relation", Mode: locks.RowExclusive, Schema: "public", Relation: "users"},
	})

	output := buf.String()
	assert.Contains(t, output, "AccessShareLock")
	assert.Contains(t, output, "RowExclusiveLock")
	assert.Less(t, strings.Index(output, "orders"), strings.Index(output, "users"))
	assert.NotContains(t, output, NoLocksMessage)
}

func TestRenderNoRecords(t *testing.T) {
	var buf bytes.Buffer

	RenderRecords(&buf, []locks.Record{})

	assert.Equal(t, NoLocksMessage+"\n", buf.String())
}

func TestRenderSentences(t *testing.T) {
	var buf bytes.Buffer

	RenderSentences(&buf, []locks.Record{
		{LockType: "relation", Mode: locks.ShareRowExclusive, Schema: "public", Relation: "orders"},
	})

	assert.Equal(t,
		"Lock of type 'relation' with mode 'ShareRowExclusiveLock' will be taken on relation 'public.orders'\n",
		buf.String())

	buf.Reset()
	RenderSentences(&buf, nil)
	assert.Equal(t, NoLocksMessage+"\n", buf.String())
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "(1 lock, 35 milliseconds)", Summary(1, 35*time.Millisecond+300*time.Microsecond))
	assert.Equal(t, "(0 locks, 2 seconds)", Summary(0, 2*time.Second))
}
