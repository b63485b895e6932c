package agent

import (
	"context"
	"sync"
	"time"
)

// job is one sentence waiting for synthesis and playback.
type job struct {
	ctx       context.Context
	text      string
	gen       int64
	index     int
	turnStart time.Time
	done      func()
}

// jobQueue is an unbounded FIFO with a single consumer. Jobs removed without
// being played still have done called.
type jobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []job
	active bool
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *jobQueue) push(j job) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.done()
		return
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks for the next job and marks the queue active until finish.
func (q *jobQueue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = job{}
	q.jobs = q.jobs[1:]
	q.active = true
	return j, true
}

func (q *jobQueue) finish() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

// busy reports whether a job is pending or playing.
func (q *jobQueue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active || len(q.jobs) > 0
}

// reset abandons pending jobs. The active job is not touched.
func (q *jobQueue) reset() int {
	q.mu.Lock()
	dropped := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, j := range dropped {
		j.done()
	}
	return len(dropped)
}

func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	dropped := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	q.cond.Broadcast()
	for _, j := range dropped {
		j.done()
	}
}
