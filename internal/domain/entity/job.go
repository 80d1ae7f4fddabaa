package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job tracks one video being turned into windowed training sequences.
type Job struct {
	ID             uuid.UUID
	UserID         string
	VideoKey       string
	ArtifactKey    string
	Status         JobStatus
	SequenceLength int
	ContextLength  int
	FrameCount     int
	SequenceCount  int
	WindowCount    int
	FileSize       int64
	VideoDuration  float64
	Attempt        int
	MaxAttempts    int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func NewJob(userID, videoKey string, fileSize int64, seqLen, ctxLen, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:             uuid.New(),
		UserID:         userID,
		VideoKey:       videoKey,
		FileSize:       fileSize,
		SequenceLength: seqLen,
		ContextLength:  ctxLen,
		Status:         JobStatusPending,
		Attempt:        0,
		MaxAttempts:    maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(artifactKey string, frames, sequences, windows int, duration float64) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.ArtifactKey = artifactKey
	j.FrameCount = frames
	j.SequenceCount = sequences
	j.WindowCount = windows
	j.VideoDuration = duration
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
