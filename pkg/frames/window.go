package frames

import "fmt"

// edgePad is the number of replicated boundary frames prepended and
// appended before slicing windows. ExtractContext keeps it fixed at 2,
// which only covers windows up to 2*edgePad+1 frames wide.
const edgePad = 2

// ExtractContext turns a sequence into per-position context windows:
// the window at position i holds the contextLength consecutive frames
// of the edge-padded sequence starting at offset i, so each original
// frame sits at the center of its window (left-biased for even widths).
//
// Padding is fixed at 2 replicated frames per side, so contextLength
// must be between 1 and 5; use ExtractContextCentered for wider windows.
// The input is never mutated and the output is freshly allocated.
func ExtractContext(seq *Sequence, contextLength int) (*WindowedBatch, error) {
	if contextLength > 2*edgePad+1 {
		return nil, fmt.Errorf("%w: context length %d needs more than the fixed %d-frame edge pad (max %d)",
			ErrConfiguration, contextLength, edgePad, 2*edgePad+1)
	}
	return extract(seq, contextLength, edgePad)
}

// ExtractContextCentered is ExtractContext with the pad width derived
// from the window size (contextLength/2 per side), valid for any
// positive contextLength.
func ExtractContextCentered(seq *Sequence, contextLength int) (*WindowedBatch, error) {
	return extract(seq, contextLength, contextLength/2)
}

func extract(seq *Sequence, contextLength, pad int) (*WindowedBatch, error) {
	if seq == nil || seq.Len() < 1 {
		return nil, fmt.Errorf("%w: empty input sequence", ErrConfiguration)
	}
	if contextLength < 1 {
		return nil, fmt.Errorf("%w: context length %d, must be positive", ErrConfiguration, contextLength)
	}

	seqLen := seq.Len()
	paddedLen := seqLen + 2*pad
	if seqLen-1+contextLength > paddedLen {
		return nil, fmt.Errorf("%w: window at position %d would read past the padded sequence (len %d, context %d)",
			ErrConfiguration, seqLen-1, paddedLen, contextLength)
	}

	// The padded sequence is never materialized; padded[k] maps back to a
	// source frame index, clamped to the sequence edges.
	source := func(k int) Frame {
		idx := k - pad
		if idx < 0 {
			idx = 0
		}
		if idx > seqLen-1 {
			idx = seqLen - 1
		}
		return seq.Frame(idx)
	}

	c, h, w := seq.Dims()
	frameSize := c * h * w
	out := &WindowedBatch{
		SeqLen:     seqLen,
		ContextLen: contextLength,
		C:          c,
		H:          h,
		W:          w,
		Data:       make([]float32, seqLen*contextLength*frameSize),
		device:     seq.Device(),
	}

	for i := 0; i < seqLen; i++ {
		for j := 0; j < contextLength; j++ {
			copy(out.At(i, j), source(i+j).Data)
		}
	}
	return out, nil
}
