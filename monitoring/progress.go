package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how much of a workload has run.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress adds to the number of steps that have started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// MoveInProgressToFinished marks started steps as finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

// Progress returns the finished and total numbers of steps.
func (b *ProgressBar) Progress() (finished, total uint64) {
	b.Lock()
	defer b.Unlock()

	return b.Finished, b.Total
}
