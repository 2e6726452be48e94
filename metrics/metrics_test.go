package metrics

import (
	"testing"

	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/queue"
	"github.com/stretchr/testify/assert"
)

func TestPerformanceMetrics_RecordTaskRunAccumulates(t *testing.T) {
	m := New()
	m.RecordTaskRun(pipeline.TaskID("t1"), 3, 2, 0, 100)
	m.RecordTaskRun(pipeline.TaskID("t1"), 4, 4, 1, 200)

	snap := m.TaskSnapshot(pipeline.TaskID("t1"))
	assert.EqualValues(t, 7, snap.RowsIn)
	assert.EqualValues(t, 6, snap.RowsOut)
	assert.EqualValues(t, 1, snap.Errors)
	assert.EqualValues(t, 2, snap.RunCycles)
	assert.EqualValues(t, 200, snap.LastRunNano)
}

func TestPerformanceMetrics_QueueStateAndSummarize(t *testing.T) {
	m := New()
	m.SetQueueState(queue.ID("q1"), 10, 1000)
	m.SetQueueState(queue.ID("q2"), 5, 500)

	summary := m.Summarize()
	assert.EqualValues(t, 15, summary.QueueTotalRows)
	assert.EqualValues(t, 1500, summary.QueueTotalBytes)

	m.SetQueueState(queue.ID("q1"), 20, 2000)
	summary = m.Summarize()
	assert.EqualValues(t, 25, summary.QueueTotalRows)
	assert.EqualValues(t, 2500, summary.QueueTotalBytes)
}

func TestPerformanceMetrics_ResetBumpsVersionAndClears(t *testing.T) {
	m := New()
	assert.EqualValues(t, 0, m.Version())
	m.RecordTaskRun(pipeline.TaskID("t1"), 1, 1, 0, 1)
	m.SetQueueState(queue.ID("q1"), 1, 1)

	v := m.Reset()
	assert.EqualValues(t, 1, v)
	assert.Equal(t, v, m.Version())
	assert.EqualValues(t, 0, m.TaskSnapshot(pipeline.TaskID("t1")).RunCycles)
	assert.EqualValues(t, 0, m.QueueSnapshot(queue.ID("q1")).Rows)
}
