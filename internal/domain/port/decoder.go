package port

import (
	"context"

	"github.com/techthiyanes/lightning-pose/pkg/frames"
)

// SequenceIterator yields fixed-length frame sequences from one or more
// videos, one sequence per step. Next returns io.EOF once every
// sequence has been produced.
type SequenceIterator interface {
	NumBatches() int
	Next(ctx context.Context) (*frames.Sequence, error)
	// Duration reports the total duration in seconds of the underlying
	// videos, as probed before iteration.
	Duration() float64
	Close() error
}

// SequenceDecoder opens a decoded-frame view over a local video file.
type SequenceDecoder interface {
	Sequences(ctx context.Context, videoPath string, sequenceLength int) (SequenceIterator, error)
}
