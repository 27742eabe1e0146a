package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/haul/internal/adapter/memory"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/retry"
)

var noRetry = domain.WithRetry(retry.Policy{Attempts: 1})

func TestJobService_Submit(t *testing.T) {
	tests := []struct {
		name    string
		urls    []string
		wantErr error
		want    []string
	}{
		{
			name: "valid urls",
			urls: []string{"https://youtube.com/playlist?list=abc", "https://example.com/video"},
			want: []string{"https://youtube.com/playlist?list=abc", "https://example.com/video"},
		},
		{
			name: "blank entries dropped and trimmed",
			urls: []string{"  https://example.com/a ", "", "   "},
			want: []string{"https://example.com/a"},
		},
		{
			name:    "invalid url",
			urls:    []string{"not a url"},
			wantErr: domain.ErrInvalidURL,
		},
		{
			name:    "unsupported scheme",
			urls:    []string{"ftp://example.com/file"},
			wantErr: domain.ErrInvalidURL,
		},
		{
			name:    "empty",
			urls:    nil,
			wantErr: domain.ErrNoURLs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			queue := memory.NewQueue(10)
			svc := domain.NewJobService(store, queue, noRetry)

			job, err := svc.Submit(context.Background(), tt.urls, "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, queue.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.URLs)
			assert.Equal(t, 1, queue.Len())
		})
	}
}

func TestJobService_SubmitThenPollIsQueued(t *testing.T) {
	ctx := context.Background()
	svc := domain.NewJobService(memory.NewStore(), memory.NewQueue(10), noRetry)

	job, err := svc.Submit(ctx, []string{"https://example.com/v"}, "holiday")
	require.NoError(t, err)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Equal(t, "holiday", got.Name)
	assert.Equal(t, 1, got.Progress.Total)
}

func TestJobService_ResubmitYieldsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue(10)
	svc := domain.NewJobService(memory.NewStore(), queue, noRetry)
	urls := []string{"https://example.com/v"}

	a, err := svc.Submit(ctx, urls, "")
	require.NoError(t, err)
	b, err := svc.Submit(ctx, urls, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, queue.Len())
}

func TestJobService_SubmitPushesIDInOrder(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewQueue(10)
	svc := domain.NewJobService(memory.NewStore(), queue, noRetry)

	a, _ := svc.Submit(ctx, []string{"https://example.com/1"}, "")
	b, _ := svc.Submit(ctx, []string{"https://example.com/2"}, "")

	first, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	second, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, []string{first, second})
}

func TestJobService_SubmitStoreFailure(t *testing.T) {
	store := memory.NewStore()
	store.PutErr = errors.New("disk full")
	queue := memory.NewQueue(10)
	svc := domain.NewJobService(store, queue, noRetry)

	_, err := svc.Submit(context.Background(), []string{"https://example.com/v"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, queue.Len(), "nothing may be queued when the record was not persisted")
}

func TestJobService_Get_NotFound(t *testing.T) {
	svc := domain.NewJobService(memory.NewStore(), memory.NewQueue(1), noRetry)

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobService_List(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	tick := base
	svc := domain.NewJobService(memory.NewStore(), memory.NewQueue(10), noRetry,
		domain.WithClock(func() time.Time { tick = tick.Add(time.Minute); return tick }))

	a, _ := svc.Submit(ctx, []string{"https://example.com/1"}, "")
	b, _ := svc.Submit(ctx, []string{"https://example.com/2"}, "")

	jobs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID, jobs[0].ID, "newest first")
	assert.Equal(t, a.ID, jobs[1].ID)
}

func TestJobService_ListEmpty(t *testing.T) {
	svc := domain.NewJobService(memory.NewStore(), memory.NewQueue(1), noRetry)

	jobs, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}
