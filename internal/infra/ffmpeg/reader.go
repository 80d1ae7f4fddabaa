// Package ffmpeg adapts the system ffmpeg/ffprobe binaries into a
// frame-sequence reader: videos are decoded to raw rgb24 on a pipe,
// scaled, normalized and chunked into fixed-length sequences.
package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"go.uber.org/zap"

	"github.com/techthiyanes/lightning-pose/internal/domain/port"
	"github.com/techthiyanes/lightning-pose/pkg/frames"
)

// Per-channel normalization statistics commonly used for models
// pretrained on ImageNet.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ReaderConfig is the full configuration surface of the sequence reader.
type ReaderConfig struct {
	// Filenames are the video files fed through the reader, in order.
	Filenames []string
	// ResizeDims is an optional [height, width] target; zero values keep
	// the native resolution.
	ResizeDims []int
	// RandomShuffle emits sequences in a seeded pseudo-random order
	// instead of sequential read order.
	RandomShuffle bool
	Seed          int64
	// SequenceLength is the number of frames per emitted sequence.
	SequenceLength int
	// PadSequences completes a short trailing sequence by repeating its
	// last frame; when false the trailing remainder is dropped.
	PadSequences bool
	// InitialFill is the size of the buffer used for random shuffling.
	InitialFill int
	// BatchSize must be 1: the iterator hands over exactly one sequence
	// per step, multi-sequence batches are not supported.
	BatchSize         int
	NormalizationMean [3]float32
	NormalizationStd  [3]float32
	// Device selects where tensors are materialized. Only "cpu" is
	// supported; accelerator values are rejected up front.
	Device string
	// Name identifies the reader in logs.
	Name string
}

// DefaultReaderConfig mirrors the defaults the training side expects.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		Seed:              123456,
		SequenceLength:    16,
		PadSequences:      true,
		InitialFill:       16,
		BatchSize:         1,
		NormalizationMean: ImageNetMean,
		NormalizationStd:  ImageNetStd,
		Device:            frames.DeviceCPU,
		Name:              "reader",
	}
}

func (c *ReaderConfig) validate() error {
	if len(c.Filenames) == 0 {
		return fmt.Errorf("reader %q: no filenames", c.Name)
	}
	if c.SequenceLength < 1 {
		return fmt.Errorf("reader %q: sequence length %d, must be positive", c.Name, c.SequenceLength)
	}
	if c.BatchSize != 1 {
		return fmt.Errorf("reader %q: batch size %d: multi-sequence batches are not supported", c.Name, c.BatchSize)
	}
	if c.Device != "" && c.Device != frames.DeviceCPU {
		return fmt.Errorf("reader %q: device %q not supported, only %q", c.Name, c.Device, frames.DeviceCPU)
	}
	if c.RandomShuffle && c.InitialFill < 1 {
		return fmt.Errorf("reader %q: initial fill %d, must be positive when shuffling", c.Name, c.InitialFill)
	}
	if len(c.ResizeDims) != 0 && len(c.ResizeDims) != 2 {
		return fmt.Errorf("reader %q: resize dims must be [height, width], got %v", c.Name, c.ResizeDims)
	}
	if len(c.ResizeDims) == 2 && (c.ResizeDims[0] < 1 || c.ResizeDims[1] < 1) {
		return fmt.Errorf("reader %q: non-positive resize dims %v", c.Name, c.ResizeDims)
	}
	for i, sd := range c.NormalizationStd {
		if sd == 0 {
			return fmt.Errorf("reader %q: zero normalization std for channel %d", c.Name, i)
		}
	}
	return nil
}

// SequenceIterator walks one or more videos and yields normalized
// fixed-length frame sequences, one per Next call.
type SequenceIterator struct {
	cfg        ReaderConfig
	logger     *zap.Logger
	infos      []VideoInfo
	numBatches int

	fileIdx int
	stream  *frameStream
	rng     *rand.Rand
	buffer  []*frames.Sequence
	drained bool
}

// NewSequenceIterator probes every input file up front so the total
// step count is known before iteration starts.
func NewSequenceIterator(ctx context.Context, cfg ReaderConfig, logger *zap.Logger) (*SequenceIterator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	it := &SequenceIterator{cfg: cfg, logger: logger}
	for _, path := range cfg.Filenames {
		info, err := Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		it.infos = append(it.infos, info)
		it.numBatches += sequencesInFile(info.FrameCount, cfg.SequenceLength, cfg.PadSequences)
	}
	if cfg.RandomShuffle {
		it.rng = rand.New(rand.NewSource(cfg.Seed))
	}

	logger.Info("sequence reader ready",
		zap.String("reader", cfg.Name),
		zap.Int("files", len(cfg.Filenames)),
		zap.Int("num_batches", it.numBatches),
		zap.Bool("shuffle", cfg.RandomShuffle),
	)
	return it, nil
}

func sequencesInFile(frameCount, seqLen int, pad bool) int {
	n := frameCount / seqLen
	if pad && frameCount%seqLen != 0 {
		n++
	}
	return n
}

// NumBatches reports the fixed total number of sequences the iterator
// will yield. The count comes from the up-front probe; for containers
// that omit nb_frames the probe estimates it from duration and frame
// rate, so the figure can be off by one batch versus what the decode
// actually produces. Callers needing exact totals should count the
// sequences they receive.
func (it *SequenceIterator) NumBatches() int { return it.numBatches }

// Duration reports the summed duration in seconds of all input files.
func (it *SequenceIterator) Duration() float64 {
	var total float64
	for _, info := range it.infos {
		total += info.Duration
	}
	return total
}

// Next returns the next sequence, or io.EOF once all inputs are
// exhausted.
func (it *SequenceIterator) Next(ctx context.Context) (*frames.Sequence, error) {
	if !it.cfg.RandomShuffle {
		return it.nextSequential(ctx)
	}

	// keep the shuffle buffer topped up to InitialFill, then draw
	for !it.drained && len(it.buffer) < it.cfg.InitialFill {
		seq, err := it.nextSequential(ctx)
		if err == io.EOF {
			it.drained = true
			break
		}
		if err != nil {
			return nil, err
		}
		it.buffer = append(it.buffer, seq)
	}
	if len(it.buffer) == 0 {
		return nil, io.EOF
	}
	k := it.rng.Intn(len(it.buffer))
	seq := it.buffer[k]
	it.buffer[k] = it.buffer[len(it.buffer)-1]
	it.buffer = it.buffer[:len(it.buffer)-1]
	return seq, nil
}

func (it *SequenceIterator) nextSequential(ctx context.Context) (*frames.Sequence, error) {
	for {
		if it.stream == nil {
			if it.fileIdx >= len(it.cfg.Filenames) {
				return nil, io.EOF
			}
			stream, err := openFrameStream(ctx, it.cfg.Filenames[it.fileIdx], it.infos[it.fileIdx], it.cfg.ResizeDims)
			if err != nil {
				return nil, err
			}
			it.stream = stream
		}

		seq, err := it.readSequence(ctx)
		if err == io.EOF {
			it.stream.close()
			it.stream = nil
			it.fileIdx++
			continue
		}
		if err != nil {
			it.stream.close()
			it.stream = nil
			return nil, err
		}
		return seq, nil
	}
}

// readSequence assembles one fixed-length sequence from the current
// stream. io.EOF means the stream produced no further frames.
func (it *SequenceIterator) readSequence(ctx context.Context) (*frames.Sequence, error) {
	frs := make([]frames.Frame, 0, it.cfg.SequenceLength)
	for len(frs) < it.cfg.SequenceLength {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := it.stream.readFrame()
		if err == io.EOF {
			if len(frs) == 0 {
				return nil, io.EOF
			}
			if !it.cfg.PadSequences {
				it.logger.Debug("dropping short trailing sequence",
					zap.String("reader", it.cfg.Name),
					zap.Int("frames", len(frs)),
				)
				return nil, io.EOF
			}
			for len(frs) < it.cfg.SequenceLength {
				frs = append(frs, frs[len(frs)-1])
			}
			break
		}
		if err != nil {
			return nil, err
		}

		f, err := convertFrame(raw, it.stream.width, it.stream.height, it.cfg.NormalizationMean, it.cfg.NormalizationStd)
		if err != nil {
			return nil, err
		}
		frs = append(frs, f)
	}
	return frames.NewSequence(frs, it.cfg.Device)
}

// Close releases the underlying decoder process, if any.
func (it *SequenceIterator) Close() error {
	if it.stream != nil {
		it.stream.close()
		it.stream = nil
	}
	return nil
}

// convertFrame turns one raw rgb24 frame (HWC, interleaved bytes) into a
// normalized CHW float32 frame: x/255 scaled to [0,1], then centered by
// the per-channel mean/std.
func convertFrame(raw []byte, width, height int, mean, std [3]float32) (frames.Frame, error) {
	if len(raw) != width*height*3 {
		return frames.Frame{}, fmt.Errorf("raw frame is %d bytes, want %d for %dx%d rgb24",
			len(raw), width*height*3, width, height)
	}
	data := make([]float32, 3*height*width)
	plane := height * width
	for p := 0; p < plane; p++ {
		for c := 0; c < 3; c++ {
			v := float32(raw[p*3+c]) / 255.0
			data[c*plane+p] = (v - mean[c]) / std[c]
		}
	}
	return frames.NewFrame(3, height, width, data)
}

// Reader carries reader defaults and opens per-video iterators for the
// worker. It implements port.SequenceDecoder.
type Reader struct {
	cfg    ReaderConfig
	logger *zap.Logger
}

func NewReader(cfg ReaderConfig, logger *zap.Logger) *Reader {
	return &Reader{cfg: cfg, logger: logger}
}

func (r *Reader) Sequences(ctx context.Context, videoPath string, sequenceLength int) (port.SequenceIterator, error) {
	cfg := r.cfg
	cfg.Filenames = []string{videoPath}
	if sequenceLength > 0 {
		cfg.SequenceLength = sequenceLength
	}
	return NewSequenceIterator(ctx, cfg, r.logger)
}
