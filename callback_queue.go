package pinws

import "sync"

// callbackQueue runs user callbacks one at a time, in push order, on its own
// goroutine. The reader goroutine only pushes, so a callback may block or call
// Client.Send without stalling the frames that would answer it.
//
// The queue is unbounded: a slow callback delays later callbacks, never reads.
type callbackQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
}

func newCallbackQueue() *callbackQueue {
	q := &callbackQueue{}
	q.cond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

// Push schedules fn. It is dropped once the queue is closed.
func (q *callbackQueue) Push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Signal()
}

// Close drops pending callbacks and stops the goroutine once the running
// callback, if any, returns. It does not wait, so a callback may call it.
func (q *callbackQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.tasks = nil
	q.cond.Signal()
}

func (q *callbackQueue) run() {
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
