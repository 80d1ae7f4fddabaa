package ffmpeg

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseProbeOutput(t *testing.T) {
	out := "width=320\nheight=240\nnb_frames=50\navg_frame_rate=25/1\nduration=2.000000\n"
	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, VideoInfo{Width: 320, Height: 240, FrameCount: 50, Duration: 2.0}, info)
}

func TestParseProbeOutputFallsBackToRate(t *testing.T) {
	out := "width=640\nheight=480\nnb_frames=N/A\navg_frame_rate=30/1\nduration=1.500000\n"
	info, err := parseProbeOutput(out)
	require.NoError(t, err)
	assert.Equal(t, 45, info.FrameCount)
}

func TestParseProbeOutputMissingFrameInfo(t *testing.T) {
	out := "width=640\nheight=480\nnb_frames=N/A\navg_frame_rate=0/0\nduration=N/A\n"
	_, err := parseProbeOutput(out)
	assert.Error(t, err)
}

func TestParseRate(t *testing.T) {
	r, err := parseRate("30000/1001")
	require.NoError(t, err)
	assert.InDelta(t, 29.97, r, 0.01)

	_, err = parseRate("30/0")
	assert.Error(t, err)
}

func TestSequencesInFile(t *testing.T) {
	assert.Equal(t, 3, sequencesInFile(10, 4, true))
	assert.Equal(t, 2, sequencesInFile(10, 4, false))
	assert.Equal(t, 2, sequencesInFile(8, 4, true))
	assert.Equal(t, 1, sequencesInFile(1, 16, true))
	assert.Equal(t, 0, sequencesInFile(1, 16, false))
}

func TestReaderConfigValidate(t *testing.T) {
	base := func() ReaderConfig {
		cfg := DefaultReaderConfig()
		cfg.Filenames = []string{"a.mp4"}
		return cfg
	}

	cfg := base()
	assert.NoError(t, cfg.validate())

	cfg = base()
	cfg.Filenames = nil
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.SequenceLength = 0
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.BatchSize = 2
	assert.ErrorContains(t, cfg.validate(), "multi-sequence batches")

	cfg = base()
	cfg.Device = "gpu"
	assert.ErrorContains(t, cfg.validate(), "not supported")

	cfg = base()
	cfg.NormalizationStd = [3]float32{0.5, 0, 0.5}
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.ResizeDims = []int{256}
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.RandomShuffle = true
	cfg.InitialFill = 0
	assert.Error(t, cfg.validate())
}

func TestConvertFrameNormalization(t *testing.T) {
	// 1x2 image: pixel 0 = (255, 0, 127), pixel 1 = (0, 255, 255)
	raw := []byte{255, 0, 127, 0, 255, 255}
	mean := [3]float32{0.5, 0.5, 0.5}
	std := [3]float32{0.5, 0.25, 1.0}

	f, err := convertFrame(raw, 2, 1, mean, std)
	require.NoError(t, err)
	assert.Equal(t, 3, f.C)
	assert.Equal(t, 1, f.H)
	assert.Equal(t, 2, f.W)

	// CHW layout: R plane, then G, then B
	assert.InDelta(t, (1.0-0.5)/0.5, f.Data[0], 1e-6)
	assert.InDelta(t, (0.0-0.5)/0.5, f.Data[1], 1e-6)
	assert.InDelta(t, (0.0-0.5)/0.25, f.Data[2], 1e-6)
	assert.InDelta(t, (1.0-0.5)/0.25, f.Data[3], 1e-6)
	assert.InDelta(t, (127.0/255.0-0.5)/1.0, f.Data[4], 1e-6)
	assert.InDelta(t, (1.0-0.5)/1.0, f.Data[5], 1e-6)
}

func TestConvertFrameRejectsShortBuffer(t *testing.T) {
	_, err := convertFrame([]byte{1, 2, 3}, 2, 2, ImageNetMean, ImageNetStd)
	assert.Error(t, err)
}

// makeTestVideo renders a short synthetic clip; tests that need a real
// decode skip when ffmpeg is not installed.
func makeTestVideo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	path := filepath.Join(t.TempDir(), "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=5",
		"-c:v", "mpeg4", "-q:v", "2",
		"-y", path,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "generate test video: %s", string(out))
	return path
}

func TestSequenceIteratorEndToEnd(t *testing.T) {
	path := makeTestVideo(t)
	ctx := context.Background()

	cfg := DefaultReaderConfig()
	cfg.Filenames = []string{path}
	cfg.SequenceLength = 4
	cfg.ResizeDims = []int{48, 64}

	it, err := NewSequenceIterator(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer it.Close()

	// 10 frames at sequence length 4 with padding -> 3 batches
	require.Equal(t, 3, it.NumBatches())

	var got int
	for {
		seq, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 4, seq.Len())
		c, h, w := seq.Dims()
		assert.Equal(t, [3]int{3, 48, 64}, [3]int{c, h, w})
		got++
	}
	assert.Equal(t, it.NumBatches(), got)
}

func TestSequenceIteratorShuffleIsSeeded(t *testing.T) {
	path := makeTestVideo(t)
	ctx := context.Background()

	run := func(seed int64) [][]float32 {
		cfg := DefaultReaderConfig()
		cfg.Filenames = []string{path}
		cfg.SequenceLength = 2
		cfg.ResizeDims = []int{24, 32}
		cfg.RandomShuffle = true
		cfg.InitialFill = 4
		cfg.Seed = seed

		it, err := NewSequenceIterator(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer it.Close()

		var firsts [][]float32
		for {
			seq, err := it.Next(ctx)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			firsts = append(firsts, seq.Frame(0).Data)
		}
		return firsts
	}

	a := run(42)
	b := run(42)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i], "sequence %d differs between equally seeded runs", i)
	}
}
