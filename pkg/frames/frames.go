// Package frames holds the tensor types produced by the video reader and
// the context-window extraction used to feed temporal pose models.
package frames

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a window configuration rejected before any
	// output is allocated.
	ErrConfiguration = errors.New("frames: invalid configuration")

	// ErrShapeMismatch marks a sequence whose frames disagree on
	// channel/height/width.
	ErrShapeMismatch = errors.New("frames: frame shape mismatch")
)

// DeviceCPU is the only device this package materializes tensors on.
// The value is carried through unchanged so downstream consumers know
// where the data lives.
const DeviceCPU = "cpu"

// Frame is one decoded image in CHW layout, float32, values already
// normalized by the reader. Treated as immutable once constructed.
type Frame struct {
	C, H, W int
	Data    []float32
}

// NewFrame validates that data matches the declared shape.
func NewFrame(c, h, w int, data []float32) (Frame, error) {
	if c < 1 || h < 1 || w < 1 {
		return Frame{}, fmt.Errorf("%w: non-positive frame dims (%d,%d,%d)", ErrConfiguration, c, h, w)
	}
	if len(data) != c*h*w {
		return Frame{}, fmt.Errorf("%w: frame data length %d, want %d", ErrShapeMismatch, len(data), c*h*w)
	}
	return Frame{C: c, H: h, W: w, Data: data}, nil
}

// Sequence is an ordered run of frames from one video, all sharing the
// same shape. It is the unit handed from the reader to the windower.
type Sequence struct {
	frames []Frame
	device string
}

// NewSequence builds a sequence from at least one frame, verifying that
// every frame shares the first frame's shape.
func NewSequence(frs []Frame, device string) (*Sequence, error) {
	if len(frs) == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrConfiguration)
	}
	if device == "" {
		device = DeviceCPU
	}
	c, h, w := frs[0].C, frs[0].H, frs[0].W
	for i, f := range frs {
		if f.C != c || f.H != h || f.W != w {
			return nil, fmt.Errorf("%w: frame %d is (%d,%d,%d), frame 0 is (%d,%d,%d)",
				ErrShapeMismatch, i, f.C, f.H, f.W, c, h, w)
		}
		if len(f.Data) != c*h*w {
			return nil, fmt.Errorf("%w: frame %d data length %d, want %d",
				ErrShapeMismatch, i, len(f.Data), c*h*w)
		}
	}
	return &Sequence{frames: frs, device: device}, nil
}

// Len reports the number of frames in the sequence.
func (s *Sequence) Len() int { return len(s.frames) }

// Dims reports the shared (C, H, W) of every frame.
func (s *Sequence) Dims() (c, h, w int) {
	f := s.frames[0]
	return f.C, f.H, f.W
}

// Frame returns the frame at position i. The returned frame shares the
// sequence's backing data and must not be mutated.
func (s *Sequence) Frame(i int) Frame { return s.frames[i] }

// Device reports where the sequence's data lives.
func (s *Sequence) Device() string { return s.device }

// WindowedBatch is the full set of context windows for one sequence:
// one window per original frame position, each window ContextLen frames
// long. Layout is (SeqLen, ContextLen, C, H, W), row-major float32.
type WindowedBatch struct {
	SeqLen     int
	ContextLen int
	C, H, W    int
	Data       []float32
	device     string
}

// Device reports where the batch's data lives; it matches the input
// sequence's device.
func (b *WindowedBatch) Device() string { return b.device }

// FrameSize is the number of float32 values in one frame.
func (b *WindowedBatch) FrameSize() int { return b.C * b.H * b.W }

// At returns the j-th frame of window i as a read-only view into the
// batch's backing array.
func (b *WindowedBatch) At(i, j int) []float32 {
	fs := b.FrameSize()
	off := (i*b.ContextLen + j) * fs
	return b.Data[off : off+fs]
}
