// Package badger keeps job records in an embedded Badger database.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

// record is the stored shape. Data holds the JSON job so the persisted form
// matches the other backends; ID and CreatedAt are indexed copies.
type record struct {
	ID        string
	CreatedAt time.Time
	Data      []byte
}

var errStop = errors.New("stop iteration")

// Store implements domain.JobStore with badgerhold.
type Store struct {
	store *badgerhold.Store
	log   *zap.Logger
}

// Open creates dir if needed and opens the database in it.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	log.Debug("badger store opened", zap.String("dir", dir))
	return &Store{store: store, log: log}, nil
}

func (s *Store) Close() error {
	return s.store.Close()
}

func (s *Store) Put(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	rec := &record{ID: job.ID, CreatedAt: job.CreatedAt, Data: data}
	if err := s.store.Upsert(job.ID, rec); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	var rec record
	if err := s.store.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return decode(&rec)
}

// List iterates inside a read transaction; records come back in key order.
func (s *Store) List(ctx context.Context) iter.Seq2[*domain.Job, error] {
	return func(yield func(*domain.Job, error) bool) {
		err := s.store.ForEach(badgerhold.Where("ID").Ne(""), func(rec *record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			job, err := decode(rec)
			if err != nil {
				s.log.Warn("skipping invalid job record", zap.String("job_id", rec.ID), zap.Error(err))
				return nil
			}
			if !yield(job, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield(nil, fmt.Errorf("list jobs: %w", err))
		}
	}
}

func decode(rec *record) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(rec.Data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
