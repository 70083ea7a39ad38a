package engine

import "sync"

// workQueue serializes all work for one instance: bar-close evaluations,
// tick updates, and trade-lifecycle notifications run one at a time, in
// submission order, each to completion.
type workQueue struct {
	mu     sync.RWMutex
	tasks  chan func()
	closed bool
	wg     sync.WaitGroup
}

func newWorkQueue(depth int) *workQueue {
	q := &workQueue{tasks: make(chan func(), depth)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *workQueue) run() {
	defer q.wg.Done()
	for task := range q.tasks {
		task()
	}
}

// Submit enqueues a task and reports whether it was accepted. Blocks when
// the queue is full, which back-pressures the producer instead of dropping
// evaluations. After Close the task is dropped, so a bar close racing an
// unload never sends on a closed channel.
func (q *workQueue) Submit(task func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.tasks <- task
	return true
}

// Close stops accepting tasks, drains the queue and waits for the worker.
// Idempotent.
func (q *workQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
