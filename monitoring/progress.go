package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks the progress of one long-running piece of work, such
// as feeding a sequence through a memory engine step by step.
type ProgressBar struct {
	sync.Mutex
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

// IncrementFinished adds a certain amount to the finished count.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}
