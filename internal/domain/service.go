package domain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/haul/internal/retry"
)

var (
	ErrInvalidURL = errors.New("invalid URL")
	ErrNoURLs     = errors.New("no URLs provided")
)

// JobService is the submission and status surface over a store and a queue.
type JobService struct {
	store JobStore
	queue Queue
	retry retry.Policy
	now   func() time.Time
	newID func() string
}

// Option customises a JobService.
type Option func(*JobService)

// WithRetry sets the backoff used for store and queue writes.
func WithRetry(p retry.Policy) Option {
	return func(s *JobService) { s.retry = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *JobService) { s.now = now }
}

// NewJobService creates a new JobService.
func NewJobService(store JobStore, queue Queue, opts ...Option) *JobService {
	s := &JobService{
		store: store,
		queue: queue,
		retry: retry.Default,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeURLs trims the input and rejects anything that is not an absolute http(s) URL.
func NormalizeURLs(raw []string) ([]string, error) {
	urls := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		u, err := url.ParseRequestURI(r)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidURL, r)
		}
		urls = append(urls, r)
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	return urls, nil
}

// Submit creates a queued job, persists it and hands its ID to the queue.
// Every call produces a new job, identical URL lists are not deduplicated.
func (s *JobService) Submit(ctx context.Context, rawURLs []string, name string) (*Job, error) {
	urls, err := NormalizeURLs(rawURLs)
	if err != nil {
		return nil, err
	}

	job := NewJob(s.newID(), urls, strings.TrimSpace(name), s.now())

	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.store.Put(ctx, job)
	}, nil); err != nil {
		return nil, fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	if err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.queue.Push(ctx, job.ID)
	}, nil); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns every known job, newest first.
func (s *JobService) List(ctx context.Context) ([]*Job, error) {
	jobs, err := Collect(s.store.List(ctx))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	return jobs, nil
}

// Collect drains a store listing into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*Job, error]) ([]*Job, error) {
	jobs := []*Job{}
	for job, err := range seq {
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
