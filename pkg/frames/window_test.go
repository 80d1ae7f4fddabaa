package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// labeledSeq builds a sequence of tiny 3x1x2 frames where every value in
// frame i equals float32(i), so window contents are easy to assert.
func labeledSeq(t *testing.T, n int) *Sequence {
	t.Helper()
	frs := make([]Frame, n)
	for i := range frs {
		data := make([]float32, 3*1*2)
		for k := range data {
			data[k] = float32(i)
		}
		f, err := NewFrame(3, 1, 2, data)
		require.NoError(t, err)
		frs[i] = f
	}
	seq, err := NewSequence(frs, "")
	require.NoError(t, err)
	return seq
}

// label reads the frame label back out of a window slot.
func label(t *testing.T, b *WindowedBatch, i, j int) float32 {
	t.Helper()
	frame := b.At(i, j)
	for _, v := range frame[1:] {
		require.Equal(t, frame[0], v, "frame values must be uniform")
	}
	return frame[0]
}

func windowLabels(t *testing.T, b *WindowedBatch, i int) []float32 {
	t.Helper()
	out := make([]float32, b.ContextLen)
	for j := range out {
		out[j] = label(t, b, i, j)
	}
	return out
}

func TestExtractContextThreeFrames(t *testing.T) {
	seq := labeledSeq(t, 3)

	batch, err := ExtractContext(seq, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.SeqLen)
	assert.Equal(t, 5, batch.ContextLen)
	assert.Equal(t, 3, batch.C)
	assert.Equal(t, 1, batch.H)
	assert.Equal(t, 2, batch.W)
	assert.Len(t, batch.Data, 3*5*3*1*2)

	// padded sequence is [F0,F0,F0,F1,F2,F2,F2]
	assert.Equal(t, []float32{0, 0, 0, 1, 2}, windowLabels(t, batch, 0))
	assert.Equal(t, []float32{0, 0, 1, 2, 2}, windowLabels(t, batch, 1))
	assert.Equal(t, []float32{0, 1, 2, 2, 2}, windowLabels(t, batch, 2))
}

func TestExtractContextSingleFrame(t *testing.T) {
	seq := labeledSeq(t, 1)

	batch, err := ExtractContext(seq, 5)
	require.NoError(t, err)

	require.Equal(t, 1, batch.SeqLen)
	assert.Equal(t, []float32{0, 0, 0, 0, 0}, windowLabels(t, batch, 0))
}

func TestExtractContextOutputShape(t *testing.T) {
	for _, seqLen := range []int{1, 2, 7, 16} {
		for contextLen := 1; contextLen <= 5; contextLen++ {
			seq := labeledSeq(t, seqLen)
			batch, err := ExtractContext(seq, contextLen)
			require.NoError(t, err, "seqLen=%d contextLen=%d", seqLen, contextLen)
			assert.Equal(t, seqLen, batch.SeqLen)
			assert.Equal(t, contextLen, batch.ContextLen)
			assert.Len(t, batch.Data, seqLen*contextLen*3*1*2)
		}
	}
}

func TestExtractContextDoesNotMutateInput(t *testing.T) {
	seq := labeledSeq(t, 4)
	before := make([][]float32, seq.Len())
	for i := range before {
		before[i] = append([]float32(nil), seq.Frame(i).Data...)
	}

	batch, err := ExtractContext(seq, 5)
	require.NoError(t, err)

	// scribble on the output; the input must stay bit-identical
	for k := range batch.Data {
		batch.Data[k] = -1
	}
	for i := range before {
		assert.Equal(t, before[i], seq.Frame(i).Data, "frame %d mutated", i)
	}
}

func TestExtractContextDeterministic(t *testing.T) {
	seq := labeledSeq(t, 6)

	a, err := ExtractContext(seq, 5)
	require.NoError(t, err)
	b, err := ExtractContext(seq, 5)
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data)
}

func TestExtractContextRejectsBadConfig(t *testing.T) {
	seq := labeledSeq(t, 3)

	for _, contextLen := range []int{0, -1, -5} {
		_, err := ExtractContext(seq, contextLen)
		assert.ErrorIs(t, err, ErrConfiguration, "contextLen=%d", contextLen)
	}

	// wider than the fixed edge pad can cover
	_, err := ExtractContext(seq, 6)
	assert.ErrorIs(t, err, ErrConfiguration)

	// wider than the whole padded sequence
	_, err = ExtractContext(seq, 3+4+1)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = ExtractContext(nil, 5)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExtractContextCenteredWideWindow(t *testing.T) {
	seq := labeledSeq(t, 3)

	// context 7 needs a pad of 3 per side: [F0,F0,F0,F0,F1,F2,F2,F2,F2]
	batch, err := ExtractContextCentered(seq, 7)
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 0, 1, 2, 2}, windowLabels(t, batch, 0))
	assert.Equal(t, []float32{0, 0, 0, 1, 2, 2, 2}, windowLabels(t, batch, 1))
	assert.Equal(t, []float32{0, 0, 1, 2, 2, 2, 2}, windowLabels(t, batch, 2))
}

func TestExtractContextCenteredMatchesFixedPadAtFive(t *testing.T) {
	seq := labeledSeq(t, 8)

	fixed, err := ExtractContext(seq, 5)
	require.NoError(t, err)
	centered, err := ExtractContextCentered(seq, 5)
	require.NoError(t, err)

	assert.Equal(t, fixed.Data, centered.Data)
}

func TestExtractContextCenteredSingleFrameWindow(t *testing.T) {
	seq := labeledSeq(t, 4)

	batch, err := ExtractContextCentered(seq, 1)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Equal(t, []float32{float32(i)}, windowLabels(t, batch, i))
	}
}

func TestExtractContextDevicePassthrough(t *testing.T) {
	seq := labeledSeq(t, 2)
	batch, err := ExtractContext(seq, 3)
	require.NoError(t, err)
	assert.Equal(t, seq.Device(), batch.Device())
}
