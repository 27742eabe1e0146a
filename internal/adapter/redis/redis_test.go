package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/haul/internal/domain"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestStore_PutGet(t *testing.T) {
	_, client := setupRedis(t)
	store := NewStore(client, "", nil)
	ctx := context.Background()

	created := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	job := domain.NewJob("job-1", []string{"https://example.com/a", "https://example.com/b"}, "trip", created)
	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.URLs, got.URLs)
	assert.Equal(t, "trip", got.Name)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Equal(t, 2, got.Progress.Total)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.Nil(t, got.Result)
}

func TestStore_PutReplacesStaleFields(t *testing.T) {
	srv, client := setupRedis(t)
	store := NewStore(client, "", nil)
	ctx := context.Background()

	job := domain.NewJob("job-1", []string{"https://example.com/a"}, "", time.Now().UTC())
	require.NoError(t, job.Transition(domain.StateRunning))
	require.NoError(t, job.Transition(domain.StateArchiving))
	require.NoError(t, job.Transition(domain.StateUploading))
	require.NoError(t, job.Transition(domain.StateDone))
	job.Result = &domain.Result{FolderID: "f", FileID: "z"}
	require.NoError(t, store.Put(ctx, job))
	assert.True(t, srv.Exists("job:job-1"))

	// A retried job drops its result field entirely.
	job.Result = nil
	job.State = domain.StateError
	job.Error = "boom"
	require.NoError(t, store.Put(ctx, job))

	assert.Empty(t, srv.HGet("job:job-1", "result"))
	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, got.State)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.Result)
}

func TestStore_GetNotFound(t *testing.T) {
	_, client := setupRedis(t)
	store := NewStore(client, "", nil)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStore_GetLegacyHash(t *testing.T) {
	srv, client := setupRedis(t)
	store := NewStore(client, "", nil)

	srv.HSet("job:old", "id", "old")
	srv.HSet("job:old", "urls", `["https://example.com/a"]`)
	srv.HSet("job:old", "name", "batch_old")
	srv.HSet("job:old", "state", "queued")
	srv.HSet("job:old", "progress", `{"current":0,"total":1}`)
	srv.HSet("job:old", "created_at", "1768824000.5")

	got, err := store.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, int64(1768824000), got.CreatedAt.Unix())
}

func TestStore_ListScansPrefix(t *testing.T) {
	srv, client := setupRedis(t)
	store := NewStore(client, "", nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, domain.NewJob(id, []string{"https://example.com/" + id}, "", time.Now().UTC())))
	}
	srv.Set("unrelated", "x")

	jobs, err := domain.Collect(store.List(ctx))
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestStore_ListSkipsInvalidHashes(t *testing.T) {
	srv, client := setupRedis(t)
	store := NewStore(client, "", nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.Put(ctx, domain.NewJob(id, []string{"https://example.com/" + id}, "", time.Now().UTC())))
	}
	srv.HSet("job:broken", "id", "broken")
	srv.HSet("job:broken", "urls", "{not json")
	srv.HSet("job:empty", "id", "empty")
	srv.HSet("job:empty", "urls", "[]")
	srv.HSet("job:empty", "progress", `{"current":0,"total":0}`)
	srv.HSet("job:empty", "state", "queued")

	jobs, err := domain.NewJobService(store, NewQueue(client, "")).List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestQueue_FIFO(t *testing.T) {
	_, client := setupRedis(t)
	q := NewQueue(client, "")
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, q.Push(ctx, id))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	var got []string
	for i := 0; i < 3; i++ {
		id, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"c", "a", "b"}, got)
}

func TestQueue_PopTimeout(t *testing.T) {
	_, client := setupRedis(t)
	q := NewQueue(client, "")

	_, err := q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
}

func TestQueue_CustomKey(t *testing.T) {
	srv, client := setupRedis(t)
	q := NewQueue(client, "haul:queue")

	require.NoError(t, q.Push(context.Background(), "job-1"))
	list, err := srv.List("haul:queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, list)
}
