// Package filestore keeps jobs and the queue as plain files on a local disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

// Store persists one JSON file per job.
//
// Directory layout:
//
//	<root>/<job_id>.json
//
// Writes go to a temp file in root and are renamed over the target, so a
// reader sees either the previous or the new record, never a partial one.
type Store struct {
	root   string
	logger *zap.Logger
}

// Open creates root if needed and counts the records already on disk.
func Open(root string, logger *zap.Logger) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("job store dir is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create job store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{root: root, logger: logger}
	n := 0
	for _, err := range s.List(context.Background()) {
		if err != nil {
			return nil, err
		}
		n++
	}
	logger.Info("job store opened", zap.String("dir", root), zap.Int("jobs", n))
	return s, nil
}

// RootDir returns the directory holding the job files.
func (s *Store) RootDir() string {
	return s.root
}

// JobPath returns the file holding the job record.
func (s *Store) JobPath(id string) string {
	return filepath.Join(s.root, id+".json")
}

func (s *Store) Put(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job record is nil")
	}
	if !validID(job.ID) {
		return fmt.Errorf("%w: bad id %q", domain.ErrInvalidJob, job.ID)
	}

	b, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')
	return writeAtomic(s.root, s.JobPath(job.ID), b)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	if !validID(id) {
		return nil, domain.ErrJobNotFound
	}
	job, err := s.read(s.JobPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrJobNotFound
	}
	return job, err
}

// List yields records in file name order. Unreadable or invalid files are
// logged and skipped.
func (s *Store) List(ctx context.Context) iter.Seq2[*domain.Job, error] {
	return func(yield func(*domain.Job, error) bool) {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			yield(nil, fmt.Errorf("read job store dir: %w", err))
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
				continue
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			job, err := s.read(filepath.Join(s.root, name))
			if err != nil {
				s.logger.Warn("skipping job file", zap.String("file", name), zap.Error(err))
				continue
			}
			if !yield(job, nil) {
				return
			}
		}
	}
}

func (s *Store) read(path string) (*domain.Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrInvalidJob, filepath.Base(path))
	}

	var job domain.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// writeAtomic writes data to a temp file in dir and renames it onto path.
func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// validID rejects IDs that would escape the store directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}
