package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a background job.
// Transitions only move forward; terminal states are left only via Reopen.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusAnalyzing  JobStatus = "analyzing"
	JobStatusImporting  JobStatus = "importing"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// statusRank orders states for the monotonic-forward invariant
var statusRank = map[JobStatus]int{
	JobStatusQueued:     0,
	JobStatusAnalyzing:  1,
	JobStatusImporting:  2,
	JobStatusProcessing: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
}

// Terminal reports whether no further work happens in this state
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job kinds routed by the queue
const (
	JobKindLinkImport   = "link_import"
	JobKindAudioProcess = "audio_process"
)

// Progress is the observer-facing progress snapshot.
// Completed never decreases for a given job.
type Progress struct {
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	CurrentItem string `json:"current_item,omitempty"`
	Stage       string `json:"stage,omitempty"`
}

// MaxFileErrors bounds the per-job error sample kept for operator review
const MaxFileErrors = 25

// FileError records a single failed batch item. Failed items stay visible;
// only the error sample is capped.
type FileError struct {
	ItemIndex int       `json:"item_index"`
	ItemName  string    `json:"item_name"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// ImportedFile describes one artifact persisted by a batch job
type ImportedFile struct {
	Name        string   `json:"name"`
	StoragePath string   `json:"storage_path"`
	MimeType    string   `json:"mime_type"`
	Size        int64    `json:"size"`
	Duration    *float64 `json:"duration,omitempty"`
	Placeholder bool     `json:"placeholder,omitempty"`
}

// Job is the persisted record for one unit of background work
type Job struct {
	ID        string    `badgerhold:"key" json:"id"`
	Kind      string    `badgerholdIndex:"Kind" json:"kind"`
	Owner     FileOwner `json:"owner"`
	UserID    string    `json:"user_id,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`

	Status       JobStatus `badgerholdIndex:"Status" json:"status"`
	Progress     Progress  `json:"progress"`
	ErrorMessage string    `json:"error_message,omitempty"`

	Items      []BatchItem    `json:"items,omitempty"`
	Imported   []ImportedFile `json:"imported,omitempty"`
	FileErrors []FileError    `json:"file_errors,omitempty"`

	Retry RetryState `json:"retry"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a queued job record
func NewJob(kind string, owner FileOwner, sourceURL string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Owner:     owner,
		SourceURL: sourceURL,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransition reports whether moving to the given status preserves the
// forward-only invariant. Terminal states reject everything here; use
// Reopen for the explicit reset.
func (j *Job) CanTransition(to JobStatus) bool {
	if j.Status.Terminal() {
		return false
	}
	return statusRank[to] >= statusRank[j.Status]
}

// Transition moves the job to the given status, stamping lifecycle times
func (j *Job) Transition(to JobStatus) bool {
	if !j.CanTransition(to) {
		return false
	}
	now := time.Now().UTC()
	if j.StartedAt == nil && to != JobStatusQueued {
		j.StartedAt = &now
	}
	if to.Terminal() {
		j.CompletedAt = &now
	}
	j.Status = to
	j.UpdatedAt = now
	return true
}

// Reopen resets a job to queued for another run. This is the only legal
// exit from a terminal state.
func (j *Job) Reopen() {
	j.Status = JobStatusQueued
	j.Progress = Progress{}
	j.ErrorMessage = ""
	j.FileErrors = nil
	j.Imported = nil
	j.Retry.Reset()
	j.StartedAt = nil
	j.CompletedAt = nil
	for i := range j.Items {
		j.Items[i].Outcome = ItemPending
		j.Items[i].Error = ""
	}
	j.UpdatedAt = time.Now().UTC()
}

// AppendFileError records a per-item failure, keeping at most MaxFileErrors
func (j *Job) AppendFileError(index int, name, message string) {
	if len(j.FileErrors) >= MaxFileErrors {
		return
	}
	j.FileErrors = append(j.FileErrors, FileError{
		ItemIndex: index,
		ItemName:  name,
		Message:   message,
		At:        time.Now().UTC(),
	})
}

// SetProgress updates the progress snapshot without ever decreasing Completed
func (j *Job) SetProgress(completed, total int, currentItem, stage string) {
	if completed < j.Progress.Completed {
		completed = j.Progress.Completed
	}
	j.Progress = Progress{
		Completed:   completed,
		Total:       total,
		CurrentItem: currentItem,
		Stage:       stage,
	}
	j.UpdatedAt = time.Now().UTC()
}
