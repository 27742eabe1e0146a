// Package redis keeps jobs as Redis hashes and the queue as a Redis list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
)

const (
	DefaultKeyPrefix = "job:"
	DefaultQueueKey  = "job_queue"
)

// Connect parses the URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Store implements domain.JobStore with one hash per job at "<prefix><id>".
type Store struct {
	client goredis.UniversalClient
	prefix string
	log    *zap.Logger
}

func NewStore(client goredis.UniversalClient, prefix string, log *zap.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, log: log}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Put replaces every field of the hash inside one MULTI/EXEC.
func (s *Store) Put(ctx context.Context, job *domain.Job) error {
	fields, err := encode(job)
	if err != nil {
		return err
	}
	key := s.key(job.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.key(id), err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrJobNotFound
	}
	return decode(fields)
}

// List walks the key space with SCAN, loading one hash at a time. Hashes
// that do not decode to a valid job are logged and skipped.
func (s *Store) List(ctx context.Context) iter.Seq2[*domain.Job, error] {
	return func(yield func(*domain.Job, error) bool) {
		it := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
		seen := make(map[string]struct{})
		for it.Next(ctx) {
			key := it.Val()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			job, err := s.Get(ctx, strings.TrimPrefix(key, s.prefix))
			if errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			if errors.Is(err, domain.ErrInvalidJob) {
				s.log.Warn("skipping invalid job record", zap.String("key", key), zap.Error(err))
				continue
			}
			if !yield(job, err) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, fmt.Errorf("scan jobs: %w", err))
		}
	}
}

func encode(job *domain.Job) (map[string]any, error) {
	urls, err := json.Marshal(job.URLs)
	if err != nil {
		return nil, fmt.Errorf("marshal urls: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}
	fields := map[string]any{
		"id":         job.ID,
		"urls":       string(urls),
		"name":       job.Name,
		"state":      string(job.State),
		"progress":   string(progress),
		"error":      job.Error,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		fields["result"] = string(result)
	}
	return fields, nil
}

func decode(fields map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:    fields["id"],
		Name:  fields["name"],
		State: domain.JobState(fields["state"]),
		Error: fields["error"],
	}
	if err := json.Unmarshal([]byte(fields["urls"]), &job.URLs); err != nil {
		return nil, fmt.Errorf("%w: urls: %v", domain.ErrInvalidJob, err)
	}
	if err := json.Unmarshal([]byte(fields["progress"]), &job.Progress); err != nil {
		return nil, fmt.Errorf("%w: progress: %v", domain.ErrInvalidJob, err)
	}
	if raw := fields["result"]; raw != "" {
		job.Result = &domain.Result{}
		if err := json.Unmarshal([]byte(raw), job.Result); err != nil {
			return nil, fmt.Errorf("%w: result: %v", domain.ErrInvalidJob, err)
		}
	}
	var err error
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", domain.ErrInvalidJob, err)
	}
	if job.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("%w: updated_at: %v", domain.ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// parseTime accepts RFC 3339 and the unix seconds written by older producers.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(secs*float64(time.Second))).UTC(), nil
}
