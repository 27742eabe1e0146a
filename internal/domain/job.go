package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a job.
//
// These values are persisted in every store backend.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateArchiving JobState = "archiving"
	StateUploading JobState = "uploading"
	StateDone      JobState = "done"
	StateError     JobState = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidJob        = errors.New("invalid job record")
)

// transitions lists the forward edges of the lifecycle.
var transitions = map[JobState][]JobState{
	StateQueued:    {StateRunning},
	StateRunning:   {StateArchiving, StateError},
	StateArchiving: {StateUploading, StateError},
	StateUploading: {StateDone, StateError},
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateArchiving, StateUploading, StateDone, StateError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can happen from s.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateError
}

// Progress tracks the download stage position within a job.
type Progress struct {
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	CurrentURL string `json:"current_url,omitempty"`
}

// Result holds the references returned by the storage uploader.
type Result struct {
	FolderID     string `json:"folder_id"`
	FileID       string `json:"file_id"`
	ViewLink     string `json:"view_link,omitempty"`
	DownloadLink string `json:"download_link,omitempty"`
}

// Job is one batch of URLs processed together through download, archive and upload.
type Job struct {
	ID        string    `json:"id"`
	URLs      []string  `json:"urls"`
	Name      string    `json:"name"`
	State     JobState  `json:"state"`
	Progress  Progress  `json:"progress"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultName derives a job name from its ID.
func DefaultName(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "batch_" + id
}

// NewJob builds a queued job. The caller supplies the ID.
func NewJob(id string, urls []string, name string, now time.Time) *Job {
	if name == "" {
		name = DefaultName(id)
	}
	return &Job{
		ID:        id,
		URLs:      append([]string(nil), urls...),
		Name:      name,
		State:     StateQueued,
		Progress:  Progress{Total: len(urls)},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether the job may move to the given state.
func (j *Job) CanTransition(to JobState) bool {
	for _, next := range transitions[j.State] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job forward in its lifecycle.
func (j *Job) Transition(to JobState) error {
	if !j.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	j.State = to
	return nil
}

// Advance records that the download stage is working on the url at the
// given 1-based index. The index never moves backwards or past the total.
func (j *Job) Advance(index int, url string) error {
	if index < j.Progress.Current || index > j.Progress.Total {
		return fmt.Errorf("%w: progress %d outside [%d,%d]", ErrInvalidJob, index, j.Progress.Current, j.Progress.Total)
	}
	j.Progress.Current = index
	j.Progress.CurrentURL = url
	return nil
}

// Fail records msg and moves the job to the error state.
func (j *Job) Fail(msg string) error {
	if err := j.Transition(StateError); err != nil {
		return err
	}
	j.Error = msg
	j.Result = nil
	return nil
}

// Validate checks a decoded record for internal consistency.
func (j *Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidJob)
	case len(j.URLs) == 0:
		return fmt.Errorf("%w: %s has no urls", ErrInvalidJob, j.ID)
	case !j.State.Valid():
		return fmt.Errorf("%w: %s has unknown state %q", ErrInvalidJob, j.ID, j.State)
	case j.Progress.Total != len(j.URLs):
		return fmt.Errorf("%w: %s progress total %d, want %d", ErrInvalidJob, j.ID, j.Progress.Total, len(j.URLs))
	case j.Progress.Current < 0 || j.Progress.Current > j.Progress.Total:
		return fmt.Errorf("%w: %s progress %d outside [0,%d]", ErrInvalidJob, j.ID, j.Progress.Current, j.Progress.Total)
	case j.Result != nil && j.State != StateDone:
		return fmt.Errorf("%w: %s has a result in state %s", ErrInvalidJob, j.ID, j.State)
	case j.CreatedAt.IsZero():
		return fmt.Errorf("%w: %s missing created_at", ErrInvalidJob, j.ID)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.URLs = append([]string(nil), j.URLs...)
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}
