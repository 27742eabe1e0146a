// Package memory provides process-local Job Store and Queue implementations.
// Nothing survives a restart; tests use them as fakes for the durable backends.
package memory

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cwygoda/haul/internal/domain"
)

// Store keeps cloned job records in a map.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	PutErr error
	puts   int
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*domain.Job)}
}

func (s *Store) Put(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	s.jobs[job.ID] = job.Clone()
	s.puts++
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) List(ctx context.Context) iter.Seq2[*domain.Job, error] {
	return func(yield func(*domain.Job, error) bool) {
		s.mu.RLock()
		jobs := make([]*domain.Job, 0, len(s.jobs))
		for _, j := range s.jobs {
			jobs = append(jobs, j.Clone())
		}
		s.mu.RUnlock()

		for _, j := range jobs {
			if !yield(j, nil) {
				return
			}
		}
	}
}

// Puts reports how many successful writes happened.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Queue is a FIFO backed by a buffered channel.
type Queue struct {
	ch chan string
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan string, size)}
}

func (q *Queue) Push(ctx context.Context, id string) error {
	select {
	case q.ch <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", domain.ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports the number of pending IDs.
func (q *Queue) Len() int {
	return len(q.ch)
}
