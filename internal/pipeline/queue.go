// Package pipeline runs ingestion jobs: a bounded queue feeding a fixed
// worker pool, each worker executing one job to completion.
package pipeline

import (
	"errors"
	"sync"
)

// ErrQueueFull indicates the bounded queue cannot accept another job.
var ErrQueueFull = errors.New("job queue is full")

// Job is one unit of work on the queue.
type Job struct {
	ID          string
	ResourceID  string
	IgnoreHash  bool
	APIKey      string
	CallbackURL string
	// Tries counts re-submissions through the bounded retry path.
	Tries int
}

// Queue is a bounded job queue that also tracks which job ids are currently
// queued or running, which the duplicate-submission guard consults. Presence
// is a count, not a set: a retry re-submits the job before the worker's done
// call fires, and that done must not erase the re-queued entry.
type Queue struct {
	jobs chan Job

	mu      sync.Mutex
	present map[string]int
}

func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{
		jobs:    make(chan Job, depth),
		present: make(map[string]int),
	}
}

// Submit enqueues without blocking. A full queue is the submitter's problem,
// not the workers'.
func (q *Queue) Submit(j Job) error {
	q.mu.Lock()
	q.present[j.ID]++
	q.mu.Unlock()

	select {
	case q.jobs <- j:
		return nil
	default:
		q.done(j.ID)
		return ErrQueueFull
	}
}

// Contains reports whether the job id is queued or running.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.present[jobID] > 0
}

func (q *Queue) done(jobID string) {
	q.mu.Lock()
	if q.present[jobID] <= 1 {
		delete(q.present, jobID)
	} else {
		q.present[jobID]--
	}
	q.mu.Unlock()
}

// Len returns the number of jobs waiting, not counting running ones.
func (q *Queue) Len() int {
	return len(q.jobs)
}
