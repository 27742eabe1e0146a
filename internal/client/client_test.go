package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpAdapter "github.com/cwygoda/haul/internal/adapter/http"
	"github.com/cwygoda/haul/internal/adapter/memory"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/retry"
)

func setupServer(t *testing.T) (*Client, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := domain.NewJobService(store, memory.NewQueue(10), domain.WithRetry(retry.Policy{Attempts: 1}))
	srv := httptest.NewServer(httpAdapter.NewServer(svc, ":0", httpAdapter.Options{}, nil))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client()), store
}

func TestClient_SubmitGetList(t *testing.T) {
	c, _ := setupServer(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, []string{"https://example.com/a"}, "trip")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, job.State)
	assert.Equal(t, "trip", job.Name)

	jobs, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestClient_SubmitRejected(t *testing.T) {
	c, _ := setupServer(t)

	_, err := c.Submit(context.Background(), []string{"ftp://example.com/x"}, "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Message, "invalid URL")
}

func TestClient_GetNotFound(t *testing.T) {
	c, _ := setupServer(t)

	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestClient_WaitUntilTerminal(t *testing.T) {
	c, store := setupServer(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, []string{"https://example.com/a"}, "")
	require.NoError(t, err)

	var polls int
	job, err := c.Wait(ctx, id, 10*time.Millisecond, func(j *domain.Job) {
		polls++
		if polls == 2 {
			// Simulate the worker finishing the job.
			done, _ := store.Get(ctx, id)
			done.State = domain.StateDone
			done.Result = &domain.Result{FolderID: "f", FileID: "z"}
			require.NoError(t, store.Put(ctx, done))
		}
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, job.State)
	assert.Equal(t, 3, polls)
}

func TestClient_WaitCancelled(t *testing.T) {
	c, _ := setupServer(t)

	id, err := c.Submit(context.Background(), []string{"https://example.com/a"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	job, err := c.Wait(ctx, id, 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, job)
	assert.Equal(t, domain.StateQueued, job.State)
}

func TestClient_WaitRetriesTransientFailures(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			// Drop the connection without an answer.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		case 2:
			http.Error(w, `{"error":"internal error"}`, http.StatusServiceUnavailable)
		default:
			job := domain.NewJob("j1", []string{"https://example.com/a"}, "", time.Now().UTC())
			job.State = domain.StateError
			job.Error = "archive failed: disk full"
			json.NewEncoder(w).Encode(job)
		}
	}))
	t.Cleanup(srv.Close)

	job, err := New(srv.URL, nil).Wait(context.Background(), "j1", 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateError, job.State)
	assert.Equal(t, int32(3), polls.Load())
}

func TestClient_WaitStopsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"job not found"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, nil).Wait(context.Background(), "gone", 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := New(srv.URL, nil).List(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestReadURLs(t *testing.T) {
	in := "# playlists\nhttps://example.com/a\n\n  https://example.com/b  \n#https://skip\n"
	urls, err := ReadURLs(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}
