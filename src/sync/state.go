package sync

import (
	"sync"
	"sync/atomic"
)

// tasks tracks the orchestrator's background goroutines and bounds how many
// responder sessions run at once, so a burst of inbound connections cannot
// exhaust the process.
type tasks struct {
	limit int32
	wg    sync.WaitGroup
	count int32
}

// goFunc starts f on its own goroutine unless the session bound is reached,
// in which case the task is dropped and false is returned.
func (t *tasks) goFunc(f func()) bool {
	if atomic.LoadInt32(&t.count) >= t.limit {
		return false
	}

	t.wg.Add(1)
	atomic.AddInt32(&t.count, 1)
	go func() {
		defer t.wg.Done()
		defer atomic.AddInt32(&t.count, -1)
		f()
	}()

	return true
}

// waitTasks blocks until every started task has returned.
func (t *tasks) waitTasks() {
	t.wg.Wait()
}
