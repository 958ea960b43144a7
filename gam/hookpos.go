package gam

import (
	"time"

	"github.com/graphmem/gam/hooking"
)

// HookPosStepStart triggers after input validation, before any mutation.
var HookPosStepStart = &hooking.HookPos{Name: "StepStart"}

// HookPosNodesWritten triggers after new nodes land in the node buffer.
var HookPosNodesWritten = &hooking.HookPos{Name: "NodesWritten"}

// HookPosEviction triggers when an eviction policy drops nodes.
var HookPosEviction = &hooking.HookPos{Name: "Eviction"}

// HookPosStepEnd triggers after the step completes, before returning.
var HookPosStepEnd = &hooking.HookPos{Name: "StepEnd"}

// StepInfo is the hook item attached to step start and step end events.
// At step start only the input-side fields are populated.
type StepInfo struct {
	Engine    string
	Batch     int
	NewNodes  int
	LiveNodes int
	Edges     int
	Evicted   int
	Duration  time.Duration
}

// EvictionInfo is the hook item attached to eviction events, one per
// overflowing batch row.
type EvictionInfo struct {
	Engine  string
	Batch   int
	Dropped int
	Live    int
}
