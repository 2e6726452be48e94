package queue

import (
	"testing"
	"time"

	"github.com/rulego/streamcore/row"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRow(t *testing.T, amount int64) *row.Row {
	t.Helper()
	shape, err := row.NewStreamShape([]row.ColumnDef{{Name: "amount", Type: row.Integer}})
	require.NoError(t, err)
	r, err := row.NewRow(shape, map[row.ColumnName]row.SqlValue{"amount": row.NewInt(row.Integer, amount)}, nil)
	require.NoError(t, err)
	return r
}

func TestRowQueue_FIFO(t *testing.T) {
	q := NewRowQueue()
	q.Put(makeRow(t, 1))
	q.Put(makeRow(t, 2))
	assert.EqualValues(t, 2, q.Len())

	r1, ok := q.Use()
	require.True(t, ok)
	v, _ := r1.GetByName("amount")
	n, _ := v.AsInt64()
	assert.EqualValues(t, 1, n)

	r2, ok := q.Use()
	require.True(t, ok)
	v2, _ := r2.GetByName("amount")
	n2, _ := v2.AsInt64()
	assert.EqualValues(t, 2, n2)

	_, ok = q.Use()
	assert.False(t, ok)
}

func TestRowQueue_Purge(t *testing.T) {
	q := NewRowQueue()
	q.Put(makeRow(t, 1))
	q.Purge()
	assert.EqualValues(t, 0, q.Len())
	assert.EqualValues(t, 0, q.Bytes())
	_, ok := q.Use()
	assert.False(t, ok)
}

type noopPanes struct{ purged bool }

func (p *noopPanes) Purge()       { p.purged = true }
func (p *noopPanes) Bytes() int64 { return 0 }

func TestWindowQueue_DispatchPopsFIFO(t *testing.T) {
	panes := &noopPanes{}
	q := NewWindowQueue(panes, func() time.Time { return time.Now() })

	q.Put(makeRow(t, 1))
	q.Put(makeRow(t, 2))

	r1, ok := q.Dispatch()
	require.True(t, ok)
	v1, _ := r1.GetByName("amount")
	n1, _ := v1.AsInt64()
	assert.EqualValues(t, 1, n1)

	r2, ok := q.Dispatch()
	require.True(t, ok)
	v2, _ := r2.GetByName("amount")
	n2, _ := v2.AsInt64()
	assert.EqualValues(t, 2, n2)

	_, ok = q.Dispatch()
	assert.False(t, ok, "empty queue does not dispatch")
}

func TestWindowQueue_PurgeDropsPanes(t *testing.T) {
	panes := &noopPanes{}
	q := NewWindowQueue(panes, func() time.Time { return time.Now() })
	q.Put(makeRow(t, 1))
	q.Purge()
	assert.True(t, panes.purged)
	assert.EqualValues(t, 0, q.Len())
}

func TestRowQueueRepository_Reset(t *testing.T) {
	repo := NewRowQueueRepository()
	repo.Reset([]ID{"a", "b"})
	qa, ok := repo.Get("a")
	require.True(t, ok)
	qa.Put(makeRow(t, 1))

	repo.Reset([]ID{"a", "c"})
	qa2, ok := repo.Get("a")
	require.True(t, ok)
	assert.EqualValues(t, 1, qa2.Len(), "surviving id keeps its queue")

	_, ok = repo.Get("b")
	assert.False(t, ok, "dropped id is gone")
	_, ok = repo.Get("c")
	assert.True(t, ok, "new id gets a fresh queue")
}
