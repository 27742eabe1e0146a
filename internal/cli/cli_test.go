package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httpAdapter "github.com/cwygoda/haul/internal/adapter/http"
	"github.com/cwygoda/haul/internal/adapter/memory"
	"github.com/cwygoda/haul/internal/config"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/retry"
)

// isolate points every default path into a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func runCmd(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func startServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := domain.NewJobService(store, memory.NewQueue(10), domain.WithRetry(retry.Policy{Attempts: 1}))
	srv := httptest.NewServer(httpAdapter.NewServer(svc, ":0", httpAdapter.Options{}, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	isolate(t)
	return config.Default()
}

func submitAndGet(t *testing.T, b *backends) {
	t.Helper()
	ctx := context.Background()
	svc := domain.NewJobService(b.store, b.queue, domain.WithRetry(retry.Policy{Attempts: 1}))

	job, err := svc.Submit(ctx, []string{"https://example.com/a"}, "")
	require.NoError(t, err)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)

	id, err := b.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
}

func TestOpenBackends(t *testing.T) {
	tests := []struct {
		name  string
		store string
		queue string
	}{
		{"file and dir", config.StoreFile, config.QueueDir},
		{"sqlite shared", config.StoreSQLite, config.QueueSQLite},
		{"badger and sqlite", config.StoreBadger, config.QueueSQLite},
		{"redis shared", config.StoreRedis, config.QueueRedis},
		{"file and redis", config.StoreFile, config.QueueRedis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Store.Backend = tt.store
			cfg.Queue.Backend = tt.queue
			if tt.store == config.StoreRedis || tt.queue == config.QueueRedis {
				cfg.Redis.URL = "redis://" + miniredis.RunT(t).Addr()
			}

			b, err := openBackends(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			defer b.Close()

			submitAndGet(t, b)
		})
	}
}

func TestOpenBackends_SQLiteOpenedOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreSQLite
	cfg.Queue.Backend = config.QueueSQLite

	b, err := openBackends(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	assert.Len(t, b.closers, 1)
	assert.Same(t, b.store, b.queue)
}

func TestOpenBackends_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreRedis
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	_, err := openBackends(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewUploader_MissingDriveToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drive.TokenFile = filepath.Join(t.TempDir(), "missing.json")

	_, err := newUploader(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestNewUploader_S3(t *testing.T) {
	cfg := testConfig(t)
	cfg.Uploader.Backend = config.UploaderS3
	cfg.S3.Bucket = "media"
	cfg.S3.Region = "eu-central-1"
	cfg.S3.AccessKeyID = "AKIDEXAMPLE"
	cfg.S3.SecretAccessKey = "secret"

	up, err := newUploader(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, up)
}

func TestNewWorker_FailsWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drive.TokenFile = filepath.Join(t.TempDir(), "missing.json")

	b, err := openBackends(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	_, err = newWorker(context.Background(), cfg, b, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploader")
}

func TestRootCmd_ExplicitConfigMissing(t *testing.T) {
	isolate(t)

	_, _, err := runCmd(t, "", "--config", filepath.Join(t.TempDir(), "nope.toml"), "jobs")
	assert.Error(t, err)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("HAUL_STORE_BACKEND", "postgres")

	_, _, err := runCmd(t, "", "jobs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestSubmitStatusJobs(t *testing.T) {
	isolate(t)
	srv, _ := startServer(t)

	urls := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(urls, []byte("# trip\nhttps://example.com/a\n\nhttps://example.com/b\n"), 0644))

	out, _, err := runCmd(t, "", "submit", "--server", srv.URL, "--file", urls, "--name", "trip")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, _, err = runCmd(t, "", "status", "--server", srv.URL, id)
	require.NoError(t, err)
	var job domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "trip", job.Name)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, job.URLs)
	assert.Equal(t, domain.StateQueued, job.State)

	out, _, err = runCmd(t, "", "jobs", "--server", srv.URL)
	require.NoError(t, err)
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestSubmit_Stdin(t *testing.T) {
	isolate(t)
	srv, store := startServer(t)

	out, _, err := runCmd(t, "https://example.com/x\n", "submit", "--server", srv.URL, "-f", "-")
	require.NoError(t, err)

	job, err := store.Get(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/x"}, job.URLs)
}

func TestSubmit_NoURLs(t *testing.T) {
	isolate(t)

	_, _, err := runCmd(t, "", "submit", "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no URLs")
}

func TestStatus_NotFound(t *testing.T) {
	isolate(t)
	srv, _ := startServer(t)

	_, _, err := runCmd(t, "", "status", "--server", srv.URL, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSubmit_WaitReportsFailure(t *testing.T) {
	isolate(t)

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/enqueue":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"job_id": "j1"})
		case r.URL.Path == "/status/j1":
			job := domain.NewJob("j1", []string{"https://example.com/a"}, "", time.Now().UTC())
			if polls.Add(1) > 1 {
				job.State = domain.StateError
				job.Error = "upload failed: quota exceeded"
			}
			json.NewEncoder(w).Encode(job)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	out, stderr, err := runCmd(t, "", "submit", "--server", srv.URL, "--wait", "--interval", "10ms", "https://example.com/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.True(t, strings.HasPrefix(out, "j1\n"))
	assert.Contains(t, stderr, "queued 0/1")
	assert.Contains(t, stderr, "error 0/1")
}

func TestDoctor_ReportsFailures(t *testing.T) {
	isolate(t)
	t.Setenv("HAUL_YTDLP_BIN", "haul-no-such-binary")
	t.Setenv("HAUL_DRIVE_TOKEN_FILE", filepath.Join(t.TempDir(), "missing.json"))

	out, _, err := runCmd(t, "", "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "[ OK ] config")
	assert.Contains(t, out, "[FAIL] yt-dlp (haul-no-such-binary)")
	assert.Contains(t, out, "[ OK ] store file, queue dir")
	assert.Contains(t, out, "[FAIL] uploader drive")
}

func TestListen_ShutsDownOnCancel(t *testing.T) {
	store := memory.NewStore()
	svc := domain.NewJobService(store, memory.NewQueue(1))
	srv := httpAdapter.NewServer(svc, "127.0.0.1:0", httpAdapter.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listen(ctx, srv, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not return after cancel")
	}
}

func TestListen_ReturnsBindError(t *testing.T) {
	svc := domain.NewJobService(memory.NewStore(), memory.NewQueue(1))
	srv := httpAdapter.NewServer(svc, "256.0.0.1:http", httpAdapter.Options{}, nil)

	err := listen(context.Background(), srv, zap.NewNop())
	assert.Error(t, err)
}
