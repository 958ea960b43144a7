package recording

import (
	"github.com/rs/xid"

	"github.com/graphmem/gam/gam"
	"github.com/graphmem/gam/hooking"
)

// StepTableName is the table holding one row per engine step.
const StepTableName = "gam_steps"

// EvictionTableName is the table holding one row per evicted batch row.
const EvictionTableName = "gam_evictions"

// A StepEntry is the recorded trace of one engine step.
type StepEntry struct {
	ID         string
	Engine     string
	Step       int
	Batch      int
	NewNodes   int
	LiveNodes  int
	Edges      int
	Evicted    int
	DurationMS float64
}

// An EvictionEntry is the recorded trace of one batch row's eviction.
type EvictionEntry struct {
	ID      string
	Engine  string
	Step    int
	Batch   int
	Dropped int
	Live    int
}

// A StepLogger is a hook that records engine step and eviction events into a
// DataRecorder. Attach it to an engine with AcceptHook.
type StepLogger struct {
	recorder DataRecorder
	steps    map[string]int
}

// NewStepLogger creates a StepLogger and its tables on the recorder.
func NewStepLogger(recorder DataRecorder) *StepLogger {
	recorder.CreateTable(StepTableName, StepEntry{})
	recorder.CreateTable(EvictionTableName, EvictionEntry{})

	return &StepLogger{
		recorder: recorder,
		steps:    make(map[string]int),
	}
}

// Func implements hooking.Hook.
func (l *StepLogger) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case gam.HookPosStepEnd:
		info := ctx.Item.(gam.StepInfo)
		l.steps[info.Engine]++

		l.recorder.InsertData(StepTableName, StepEntry{
			ID:         xid.New().String(),
			Engine:     info.Engine,
			Step:       l.steps[info.Engine],
			Batch:      info.Batch,
			NewNodes:   info.NewNodes,
			LiveNodes:  info.LiveNodes,
			Edges:      info.Edges,
			Evicted:    info.Evicted,
			DurationMS: float64(info.Duration.Microseconds()) / 1000.0,
		})
	case gam.HookPosEviction:
		info := ctx.Item.(gam.EvictionInfo)

		l.recorder.InsertData(EvictionTableName, EvictionEntry{
			ID:      xid.New().String(),
			Engine:  info.Engine,
			Step:    l.steps[info.Engine] + 1,
			Batch:   info.Batch,
			Dropped: info.Dropped,
			Live:    info.Live,
		})
	}
}
