package scheduler

import (
	"testing"
	"time"

	"github.com/rulego/streamcore/metrics"
	"github.com/rulego/streamcore/pipeline"
	"github.com/rulego/streamcore/row"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *pipeline.TaskGraph {
	t.Helper()
	p := pipeline.New()
	s, err := row.NewStreamShape([]row.ColumnDef{{Name: "x", Type: row.Integer}})
	require.NoError(t, err)
	require.NoError(t, p.CreateSourceStream(&pipeline.StreamModel{Name: "s_in", Shape: s}))
	require.NoError(t, p.CreateSinkStream(&pipeline.StreamModel{Name: "s_out", Shape: s}))
	require.NoError(t, p.CreateSourceReader(&pipeline.SourceReaderModel{Name: "r1", Stream: "s_in"}))
	require.NoError(t, p.CreateSinkWriter(&pipeline.SinkWriterModel{Name: "w1", Stream: "s_out"}))
	require.NoError(t, p.CreatePump(&pipeline.PumpModel{Name: "p1", InputStream: "s_in", OutputStream: "s_out"}))

	g, err := pipeline.DeriveTaskGraph(p.Snapshot())
	require.NoError(t, err)
	return g
}

func TestSourceScheduler_ReturnsOnlySources(t *testing.T) {
	g := buildGraph(t)
	s := NewSourceScheduler()
	ids := s.Schedule(g, nil)
	require.Len(t, ids, 1)
	assert.Equal(t, pipeline.SourceTaskID("r1"), ids[0])
}

func TestFlowEfficientScheduler_OrdersPumpsBeforeSinks(t *testing.T) {
	g := buildGraph(t)

	pumpTask, ok := g.Task(pipeline.PumpTaskID("p1"))
	require.True(t, ok)
	pumpInputEdge, ok := pumpTask.InputQueue("s_in")
	require.True(t, ok)
	sinkTask, ok := g.Task(pipeline.SinkTaskID("w1"))
	require.True(t, ok)
	sinkInputEdge, ok := sinkTask.InputQueue("s_out")
	require.True(t, ok)

	m := metrics.New()
	m.SetQueueState(pumpInputEdge.ID, 1, 100)
	m.SetQueueState(sinkInputEdge.ID, 1, 100)

	s := NewFlowEfficientScheduler()
	ids := s.Schedule(g, m)
	require.Len(t, ids, 2)
	assert.Equal(t, pipeline.PumpTaskID("p1"), ids[0])
	assert.Equal(t, pipeline.SinkTaskID("w1"), ids[1])
}

func TestFlowEfficientScheduler_SkipsStarvedTasks(t *testing.T) {
	g := buildGraph(t)

	sinkTask, ok := g.Task(pipeline.SinkTaskID("w1"))
	require.True(t, ok)
	sinkInputEdge, ok := sinkTask.InputQueue("s_out")
	require.True(t, ok)

	// Only the sink has queued input; the starved pump must not appear.
	m := metrics.New()
	m.SetQueueState(sinkInputEdge.ID, 2, 200)

	s := NewFlowEfficientScheduler()
	ids := s.Schedule(g, m)
	require.Len(t, ids, 1)
	assert.Equal(t, pipeline.SinkTaskID("w1"), ids[0])

	assert.Empty(t, s.Schedule(g, metrics.New()),
		"a task with an empty input queue is never scheduled")
}

func TestMemoryReducingScheduler_PrefersStrongestMemorySinkFirst(t *testing.T) {
	g := buildGraph(t)

	rowQs, _ := g.QueueIDs()
	require.Len(t, rowQs, 2)

	pumpTask, ok := g.Task(pipeline.PumpTaskID("p1"))
	require.True(t, ok)
	pumpInputEdge, ok := pumpTask.InputQueue("s_in")
	require.True(t, ok)

	sinkTask, ok := g.Task(pipeline.SinkTaskID("w1"))
	require.True(t, ok)
	sinkInputEdge, ok := sinkTask.InputQueue("s_out")
	require.True(t, ok)

	m := metrics.New()
	m.SetQueueState(pumpInputEdge.ID, 1, 100)
	m.SetQueueState(sinkInputEdge.ID, 1, 100000)
	// Sink is a strong memory sink (large negative gain); pump has a mildly
	// positive gain (it still produces bytes downstream). L(t) ascending
	// must put the sink first.
	m.RecordGain(pipeline.SinkTaskID("w1"), -1_000_000, time.Second)
	m.RecordGain(pipeline.PumpTaskID("p1"), 1000, time.Second)

	s := NewMemoryReducingScheduler()
	ids := s.Schedule(g, m)
	require.Len(t, ids, 2)
	assert.Equal(t, pipeline.SinkTaskID("w1"), ids[0], "the strongest memory sink should be scheduled first")
	assert.Equal(t, pipeline.PumpTaskID("p1"), ids[1])
}

func TestMemoryReducingScheduler_SkipsTasksWithNoInputRows(t *testing.T) {
	g := buildGraph(t)
	m := metrics.New() // every queue starts at 0 rows
	s := NewMemoryReducingScheduler()
	ids := s.Schedule(g, m)
	assert.Empty(t, ids, "a task with no input rows contributes L(t)=+Inf and is never scheduled")
}

func TestMemoryReducingScheduler_RepeatsTaskUpToInputRowCount(t *testing.T) {
	g := buildGraph(t)
	sinkTask, ok := g.Task(pipeline.SinkTaskID("w1"))
	require.True(t, ok)
	sinkInputEdge, ok := sinkTask.InputQueue("s_out")
	require.True(t, ok)

	m := metrics.New()
	m.SetQueueState(sinkInputEdge.ID, 3, 300)
	m.RecordGain(pipeline.SinkTaskID("w1"), -1000, time.Second)

	s := NewMemoryReducingScheduler()
	ids := s.Schedule(g, m)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.Equal(t, pipeline.SinkTaskID("w1"), id)
	}
}

func TestCapSeries_BoundsLength(t *testing.T) {
	ids := make([]pipeline.TaskID, MaxTaskSeries+5)
	for i := range ids {
		ids[i] = pipeline.TaskID("t")
	}
	capped := capSeries(ids)
	assert.Len(t, capped, MaxTaskSeries)
}
