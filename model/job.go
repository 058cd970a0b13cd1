package model

import "time"

// FileKind tells the fetcher where the bytes of a clip live.
type FileKind string

const (
	KindPodcastPart FileKind = "podcast-part"
	KindUserInput   FileKind = "user-input"
)

// Valid reports whether k is one of the known kinds.
func (k FileKind) Valid() bool {
	return k == KindPodcastPart || k == KindUserInput
}

// Seek is an optional trim window in seconds.
type Seek struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// StartOr returns the seek start, or fallback when unset.
func (s *Seek) StartOr(fallback float64) float64 {
	if s == nil || s.Start == nil {
		return fallback
	}
	return *s.Start
}

// EndOr returns the seek end, or fallback when unset.
func (s *Seek) EndOr(fallback float64) float64 {
	if s == nil || s.End == nil {
		return fallback
	}
	return *s.End
}

// FileRef identifies one input clip.
type FileRef struct {
	ID   string   `json:"id"`
	Kind FileKind `json:"kind"`
	Seek *Seek    `json:"seek,omitempty"`
}

// JobRequest is what a caller submits on the job channel.
type JobRequest struct {
	JobID string    `json:"jobId"`
	Name  string    `json:"name"`
	Files []FileRef `json:"files"`
}

// ResolvedFile is a FileRef whose bytes are on local disk.
type ResolvedFile struct {
	FileRef
	LocalPath       string  `json:"localPath"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// EffectiveDuration is the playable length after the seek window is applied.
func (f ResolvedFile) EffectiveDuration() float64 {
	start := f.Seek.StartOr(0)
	end := f.Seek.EndOr(f.DurationSeconds)
	if end > f.DurationSeconds && f.DurationSeconds > 0 {
		end = f.DurationSeconds
	}
	if d := end - start; d > 0 {
		return d
	}
	return 0
}

// CrossfadeOp is one pairwise merge step of the filter graph.
type CrossfadeOp struct {
	LeftLabel       string  `json:"leftLabel"`
	RightLabel      string  `json:"rightLabel"`
	OutputLabel     string  `json:"outputLabel"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// MergedArtifact is the temporary merge output.
type MergedArtifact struct {
	LocalPath       string  `json:"localPath"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// StorageDescriptor is returned by the object storage collaborator.
type StorageDescriptor struct {
	StorageType     string `json:"storageType"`
	StoragePath     string `json:"storagePath"`
	StorageFilename string `json:"storageFilename"`
	PublicLink      string `json:"publicLink,omitempty"`
}

// Empty reports a descriptor that names no stored object.
func (d StorageDescriptor) Empty() bool {
	return d.StorageType == "" || d.StoragePath == "" || d.StorageFilename == ""
}

// Progress is one percentage event for a running job.
type Progress struct {
	JobID   string  `json:"jobId"`
	Percent float64 `json:"percent"`
}

// AckData carries the result of a successful job.
type AckData struct {
	CraftID string `json:"craftId"`
}

// Ack is the single terminal acknowledgement of a job.
type Ack struct {
	StatusCode int      `json:"statusCode"`
	Data       *AckData `json:"data,omitempty"`
	ErrorName  string   `json:"errorName,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// OK reports a successful acknowledgement.
func (a Ack) OK() bool {
	return a.StatusCode >= 200 && a.StatusCode < 300
}

// JobState is a step of the job state machine.
type JobState string

const (
	StateIdle        JobState = "idle"
	StateReceived    JobState = "received"
	StateValidated   JobState = "validated"
	StateBusy        JobState = "busy"
	StateFetching    JobState = "fetching"
	StateMerging     JobState = "merging"
	StateUploading   JobState = "uploading"
	StateRegistering JobState = "registering"
	StateCompleted   JobState = "completed"
	StateFailed      JobState = "failed"
)

// Terminal reports states that end a job.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateBusy:
		return true
	}
	return false
}

// JobSnapshot is the externally visible state of a job.
type JobSnapshot struct {
	JobID     string    `json:"jobId,omitempty"`
	Name      string    `json:"name,omitempty"`
	State     JobState  `json:"state"`
	FileCount int       `json:"fileCount,omitempty"`
	CraftID   string    `json:"craftId,omitempty"`
	ErrorName string    `json:"errorName,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
