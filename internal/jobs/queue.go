package jobs

import "jobdemo/internal/shared"

// Queue is the bounded set of job ids waiting for a worker.
// Push never blocks: a full queue is reported to the caller.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding at most size ids.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan string, size)}
}

// Push appends id to the pending set.
func (q *Queue) Push(id string) error {
	select {
	case q.ch <- id:
		return nil
	default:
		return shared.Conflictf("queue full (%d pending)", cap(q.ch))
	}
}

// C is the channel workers receive from.
func (q *Queue) C() <-chan string {
	return q.ch
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
