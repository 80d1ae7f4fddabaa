package entity

import "github.com/google/uuid"

// SequenceRequestMessage is the inbound message from the sequence.prepare
// queue. SequenceLength and ContextLength override the worker defaults
// when non-zero.
type SequenceRequestMessage struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	VideoKey       string    `json:"video_key"`
	FileSize       int64     `json:"file_size"`
	SequenceLength int       `json:"sequence_length,omitempty"`
	ContextLength  int       `json:"context_length,omitempty"`
	UserEmail      string    `json:"user_email"`
}

// SequenceStatusMessage is the outbound message published to the
// sequence.status queue.
type SequenceStatusMessage struct {
	JobID         uuid.UUID `json:"job_id"`
	UserID        string    `json:"user_id"`
	Status        JobStatus `json:"status"`
	VideoKey      string    `json:"video_key"`
	ArtifactKey   string    `json:"artifact_key,omitempty"`
	FrameCount    int       `json:"frame_count,omitempty"`
	SequenceCount int       `json:"sequence_count,omitempty"`
	WindowCount   int       `json:"window_count,omitempty"`
	Duration      float64   `json:"duration_seconds,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempt       int       `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts"`
}
