package services

import (
	"sync"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// taskQueue is the dispatcher's unbounded FIFO of tasks. A task key is
// held from Push until Done, so the same work is never queued twice.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []domain.DispatchTask
	queued  map[string]struct{}
	running map[string]int
	notify  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		queued:  make(map[string]struct{}),
		running: make(map[string]int),
		notify:  make(chan struct{}, 1),
	}
}

// Push appends a task unless one with the same key is already queued.
func (q *taskQueue) Push(task domain.DispatchTask) bool {
	q.mu.Lock()
	key := task.Key()
	if _, dup := q.queued[key]; dup {
		q.mu.Unlock()
		return false
	}
	q.queued[key] = struct{}{}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the oldest task and marks it running.
func (q *taskQueue) TryPop() (domain.DispatchTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return domain.DispatchTask{}, false
	}
	task := q.tasks[0]
	q.tasks[0] = domain.DispatchTask{}
	q.tasks = q.tasks[1:]
	key := task.Key()
	delete(q.queued, key)
	q.running[key]++

	// Wake another worker if more work remains.
	if len(q.tasks) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return task, true
}

// Done marks a popped task finished.
func (q *taskQueue) Done(task domain.DispatchTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := task.Key()
	if q.running[key] <= 1 {
		delete(q.running, key)
		return
	}
	q.running[key]--
}

// Has reports whether a task with key is queued or running.
func (q *taskQueue) Has(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, queued := q.queued[key]
	return queued || q.running[key] > 0
}

// Idle reports whether nothing is queued or running.
func (q *taskQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0 && len(q.running) == 0
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Ready is signalled when tasks may be available.
func (q *taskQueue) Ready() <-chan struct{} {
	return q.notify
}
