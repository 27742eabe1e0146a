package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cwygoda/haul/internal/domain"
)

// DefaultPollInterval is how often Pop rescans the queue directory when no
// filesystem event arrives.
const DefaultPollInterval = 2 * time.Second

// Queue hands out job IDs through entries in a directory.
//
// Each pushed ID becomes a file named "<unix-nanos>-<id>". Pop takes the
// lexically smallest name, so ordering is approximately FIFO: it follows the
// producers' clocks and nothing stronger. A claim is the unlink of the entry.
// On a local filesystem only one caller can unlink a given entry; on network
// filesystems that is not guaranteed and two workers may claim the same ID.
// Waiting callers are woken by fsnotify and fall back to polling where the
// filesystem delivers no events.
type Queue struct {
	dir          string
	pollInterval time.Duration
	now          func() time.Time
}

// OpenQueue creates dir if needed.
func OpenQueue(dir string, pollInterval time.Duration) (*Queue, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("queue dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Queue{dir: dir, pollInterval: pollInterval, now: time.Now}, nil
}

func (q *Queue) Push(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: bad id %q", domain.ErrInvalidJob, id)
	}
	name := fmt.Sprintf("%020d-%s", q.now().UnixNano(), id)
	return writeAtomic(q.dir, filepath.Join(q.dir, name), []byte(id+"\n"))
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	var (
		events    <-chan fsnotify.Event
		watchErrs <-chan error
	)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(q.dir); err == nil {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}

	for {
		id, err := q.claim()
		if err != nil || id != "" {
			return id, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return "", domain.ErrQueueEmpty
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case _, ok := <-events:
			timer.Stop()
			if !ok {
				events = nil
			}
		case _, ok := <-watchErrs:
			// Overflow or a dropped watch: rescan now and keep polling.
			timer.Stop()
			if !ok {
				watchErrs = nil
			}
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

// Len reports the number of pending entries.
func (q *Queue) Len() (int, error) {
	names, err := q.entries()
	return len(names), err
}

func (q *Queue) claim() (string, error) {
	names, err := q.entries()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		err := os.Remove(filepath.Join(q.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("claim queue entry %s: %w", name, err)
		}
		_, id, _ := strings.Cut(name, "-")
		return id, nil
	}
	return "", nil
}

// entries returns queue entry names in lexical order.
func (q *Queue) entries() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read queue dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.Contains(e.Name(), "-") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
