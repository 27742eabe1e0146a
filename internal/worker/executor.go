package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/downloader"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/retry"
)

// ExecutorConfig holds the executor's settings.
type ExecutorConfig struct {
	// WorkDir holds one download directory and one archive per running job.
	WorkDir string
	// ParentID is passed to CreateFolder for every batch.
	ParentID string
	Retry    retry.Policy
}

// Executor runs one job through download, archive and upload.
type Executor struct {
	store    domain.JobStore
	registry *downloader.Registry
	archiver domain.Archiver
	uploader domain.Uploader
	cfg      ExecutorConfig
	now      func() time.Time
	log      *zap.Logger
}

func NewExecutor(store domain.JobStore, registry *downloader.Registry, archiver domain.Archiver, uploader domain.Uploader, cfg ExecutorConfig, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default
	}
	return &Executor{
		store:    store,
		registry: registry,
		archiver: archiver,
		uploader: uploader,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// stageError marks a failure that ends the job in the error state.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + " failed: " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Execute processes the job with the given ID. Job failures end up in the
// record; the returned error is reserved for store failures.
func (e *Executor) Execute(ctx context.Context, id string) (err error) {
	log := e.log.With(zap.String("job_id", id))

	job, err := e.load(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		log.Warn("popped unknown job")
		return nil
	}
	if err != nil {
		return err
	}
	if job.State != domain.StateQueued {
		log.Info("skipping job that is not queued", zap.String("state", string(job.State)))
		return nil
	}

	jobDir := filepath.Join(e.cfg.WorkDir, id)
	zipPath := jobDir + ".zip"
	defer func() {
		if rmErr := os.RemoveAll(jobDir); rmErr != nil {
			log.Warn("remove work dir", zap.Error(rmErr))
		}
		if rmErr := os.Remove(zipPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("remove archive", zap.Error(rmErr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = e.fail(ctx, log, job, &stageError{stage: stageOf(job.State), err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if err := e.run(ctx, log, job, jobDir, zipPath); err != nil {
		var se *stageError
		if errors.As(err, &se) {
			return e.fail(ctx, log, job, se)
		}
		return err
	}
	return nil
}

func (e *Executor) run(ctx context.Context, log *zap.Logger, job *domain.Job, jobDir, zipPath string) error {
	if err := e.advance(ctx, job, domain.StateRunning); err != nil {
		return err
	}
	log.Info("job started", zap.Int("urls", len(job.URLs)))

	if err := os.RemoveAll(jobDir); err != nil {
		return &stageError{stage: "download", err: err}
	}
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return &stageError{stage: "download", err: err}
	}

	template := downloader.OutputTemplate(jobDir)
	for i, url := range job.URLs {
		if err := job.Advance(i+1, url); err != nil {
			return err
		}
		if err := e.persist(ctx, job); err != nil {
			return err
		}

		d := e.registry.Match(url)
		log.Info("downloading", zap.Int("index", i+1), zap.String("url", url), zap.String("downloader", d.Name()))
		if err := d.Download(ctx, template, url); err != nil {
			job.Error = fmt.Sprintf("download failed for %s: %v", url, err)
			log.Warn("download failed, continuing", zap.String("url", url), zap.Error(err))
			if err := e.persist(ctx, job); err != nil {
				return err
			}
		}
	}

	if err := e.advance(ctx, job, domain.StateArchiving); err != nil {
		return err
	}
	if err := e.archiver.Archive(ctx, jobDir, zipPath); err != nil {
		return &stageError{stage: "archive", err: err}
	}

	if err := e.advance(ctx, job, domain.StateUploading); err != nil {
		return err
	}
	result, err := e.upload(ctx, job, zipPath)
	if err != nil {
		return &stageError{stage: "upload", err: err}
	}

	job.Result = result
	if err := e.advance(ctx, job, domain.StateDone); err != nil {
		return err
	}
	log.Info("job done", zap.String("folder_id", result.FolderID), zap.String("file_id", result.FileID))
	return nil
}

func (e *Executor) upload(ctx context.Context, job *domain.Job, zipPath string) (*domain.Result, error) {
	folderID, err := e.uploader.CreateFolder(ctx, job.Name, e.cfg.ParentID)
	if err != nil {
		return nil, err
	}
	file, err := e.uploader.UploadFile(ctx, zipPath, folderID)
	if err != nil {
		return nil, err
	}
	links, err := e.uploader.GrantPublicRead(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	result := &domain.Result{
		FolderID:     folderID,
		FileID:       file.ID,
		ViewLink:     links.ViewLink,
		DownloadLink: links.DownloadLink,
	}
	if result.ViewLink == "" {
		result.ViewLink = file.ViewLink
	}
	if result.DownloadLink == "" {
		result.DownloadLink = file.DownloadLink
	}
	return result, nil
}

// fail records a stage failure. A job that cannot move to error (it never
// left queued) is only logged.
func (e *Executor) fail(ctx context.Context, log *zap.Logger, job *domain.Job, se *stageError) error {
	log.Error("job failed", zap.String("stage", se.stage), zap.Error(se.err))
	if err := job.Fail(se.Error()); err != nil {
		log.Error("cannot record failure", zap.Error(err))
		return nil
	}
	return e.persist(ctx, job)
}

func stageOf(state domain.JobState) string {
	switch state {
	case domain.StateArchiving:
		return "archive"
	case domain.StateUploading:
		return "upload"
	default:
		return "download"
	}
}

func (e *Executor) advance(ctx context.Context, job *domain.Job, to domain.JobState) error {
	if err := job.Transition(to); err != nil {
		return err
	}
	return e.persist(ctx, job)
}

func (e *Executor) persist(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = e.now()
	err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		return e.store.Put(ctx, job)
	}, func(attempt int, err error) {
		e.log.Warn("persist failed, retrying", zap.String("job_id", job.ID), zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

func (e *Executor) load(ctx context.Context, id string) (*domain.Job, error) {
	var job *domain.Job
	err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var err error
		job, err = e.store.Get(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		return err
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}
