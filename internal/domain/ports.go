package domain

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueEmpty  = errors.New("queue empty")
)

// JobStore is the driven port for job persistence.
//
// Put replaces the whole record atomically; a failed Put leaves the previous
// record intact. List yields every known record and can be re-invoked.
type JobStore interface {
	Put(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context) iter.Seq2[*Job, error]
}

// Queue hands job IDs from the submission surface to workers.
//
// Pop blocks for at most timeout and returns ErrQueueEmpty if nothing arrived.
type Queue interface {
	Push(ctx context.Context, id string) error
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Downloader fetches one URL into files named by outputTemplate.
type Downloader interface {
	Name() string
	Match(url string) bool
	Download(ctx context.Context, outputTemplate, url string) error
}

// Archiver compresses srcDir into a single archive at dstPath, replacing it.
type Archiver interface {
	Archive(ctx context.Context, srcDir, dstPath string) error
}

// UploadedFile describes an object created by the storage uploader.
type UploadedFile struct {
	ID           string
	ViewLink     string
	DownloadLink string
}

// Links are the shareable references of an uploaded object.
type Links struct {
	ViewLink     string
	DownloadLink string
}

// Uploader is the driven port for the cloud storage provider.
//
// GrantPublicRead must treat an existing grant as success.
type Uploader interface {
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	UploadFile(ctx context.Context, path, parentID string) (*UploadedFile, error)
	GrantPublicRead(ctx context.Context, fileID string) (*Links, error)
}
