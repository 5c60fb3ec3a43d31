package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// refreshTask asks for the roles and profile of userID as seen by session
// generation gen. A task whose generation was superseded is dropped.
type refreshTask struct {
	gen    uint64
	userID uuid.UUID
}

// refreshQueue runs refresh tasks one at a time on its own goroutine, after
// the provider notification that enqueued them has returned.
type refreshQueue struct {
	mu      sync.Mutex
	tasks   []refreshTask
	pending int
	idle    []chan struct{}
	closed  bool

	notify chan struct{}
	done   chan struct{}
	handle func(refreshTask)
}

func newRefreshQueue(handle func(refreshTask)) *refreshQueue {
	q := &refreshQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		handle: handle,
	}
	go q.run()
	return q
}

func (q *refreshQueue) enqueue(task refreshTask) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.pending++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *refreshQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			task, ok := q.next()
			if !ok {
				break
			}
			q.handle(task)
			q.finish(1)
		}
	}
}

func (q *refreshQueue) next() (refreshTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.tasks) == 0 {
		return refreshTask{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *refreshQueue) finish(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending -= n
	if q.pending > 0 {
		return
	}
	q.pending = 0
	for _, ch := range q.idle {
		close(ch)
	}
	q.idle = nil
}

// flush blocks until every queued task was handled or ctx is done.
func (q *refreshQueue) flush(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the worker. Queued tasks that did not start are discarded.
func (q *refreshQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()

	close(q.done)
	q.finish(dropped)
}
