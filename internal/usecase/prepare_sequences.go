package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/techthiyanes/lightning-pose/internal/domain/entity"
	"github.com/techthiyanes/lightning-pose/internal/domain/port"
	"github.com/techthiyanes/lightning-pose/internal/infra/metrics"
	"github.com/techthiyanes/lightning-pose/pkg/frames"
)

// PrepareSequencesUseCase turns one uploaded video into a windowed
// tensor artifact: download, decode into fixed-length sequences,
// extract per-frame context windows, shard to .npy, bundle and upload.
type PrepareSequencesUseCase struct {
	repo      port.JobRepository
	storage   port.VideoStorage
	decoder   port.SequenceDecoder
	writer    port.TensorWriter
	archiver  port.Archiver
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	cfg       PrepareSequencesConfig
}

type PrepareSequencesConfig struct {
	TempDir        string
	MaxRetries     int
	SequenceLength int
	ContextLength  int
	// CenteredWindows widens the edge pad with the window size instead
	// of keeping the fixed 2-frame pad, allowing context lengths above 5.
	CenteredWindows bool
}

func NewPrepareSequencesUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	decoder port.SequenceDecoder,
	writer port.TensorWriter,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg PrepareSequencesConfig,
) *PrepareSequencesUseCase {
	return &PrepareSequencesUseCase{
		repo:      repo,
		storage:   storage,
		decoder:   decoder,
		writer:    writer,
		archiver:  archiver,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

func (uc *PrepareSequencesUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "PrepareSequencesUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.SequenceRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	seqLen := uc.cfg.SequenceLength
	if msg.SequenceLength > 0 {
		seqLen = msg.SequenceLength
	}
	ctxLen := uc.cfg.ContextLength
	if msg.ContextLength > 0 {
		ctxLen = msg.ContextLength
	}

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, seqLen, ctxLen, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.prepareSequencePipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *PrepareSequencesUseCase) prepareSequencePipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.SequenceRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download video from MinIO
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, "input.mp4")
	if err := uc.storage.DownloadVideo(ctx2, msg.VideoKey, videoPath); err != nil {
		spanDl.End()
		log.Error("failed to download video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Decode sequences and extract context windows
	winStart := time.Now()
	ctx3, spanWin := tracer.Start(ctx, "window_sequences")
	shardsDir := filepath.Join(workDir, "shards")
	if err := os.MkdirAll(shardsDir, 0755); err != nil {
		spanWin.End()
		return fmt.Errorf("create shards dir: %w", err)
	}
	result, err := uc.windowSequences(ctx3, job, videoPath, shardsDir)
	if err != nil {
		spanWin.End()
		log.Error("sequence windowing failed", zap.Error(err))
		if errors.Is(err, frames.ErrConfiguration) || errors.Is(err, frames.ErrShapeMismatch) {
			// bad windowing parameters never succeed on retry
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "window_sequences: "+err.Error())
		}
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "window_sequences: "+err.Error(), log)
	}
	spanWin.End()
	metrics.JobProcessingDuration.WithLabelValues("window").Observe(time.Since(winStart).Seconds())

	// Bundle shards into one artifact
	arStart := time.Now()
	ctx4, spanAr := tracer.Start(ctx, "create_archive")
	artifactPath := filepath.Join(workDir, "sequences.zip")
	if err := uc.archiver.CreateArchive(ctx4, result.ShardPaths, artifactPath); err != nil {
		spanAr.End()
		log.Error("archive creation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "create_archive: "+err.Error(), log)
	}
	spanAr.End()
	metrics.JobProcessingDuration.WithLabelValues("archive").Observe(time.Since(arStart).Seconds())

	// Upload artifact to MinIO
	upStart := time.Now()
	ctx5, spanUp := tracer.Start(ctx, "upload_artifact")
	artifactKey := fmt.Sprintf("%s/sequences_%s.zip", msg.UserID, job.ID.String())
	artifactFile, err := os.Open(artifactPath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_artifact: "+err.Error(), log)
	}
	artifactStat, err := artifactFile.Stat()
	if err != nil {
		artifactFile.Close()
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "stat_artifact: "+err.Error(), log)
	}
	if err := uc.storage.UploadArtifact(ctx5, artifactKey, artifactFile, artifactStat.Size()); err != nil {
		artifactFile.Close()
		spanUp.End()
		log.Error("artifact upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_artifact: "+err.Error(), log)
	}
	artifactFile.Close()
	spanUp.End()
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	// Mark completed
	job.MarkCompleted(artifactKey, result.FrameCount, result.SequenceCount, result.WindowCount, result.Duration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", result.FrameCount),
		zap.Int("sequence_count", result.SequenceCount),
		zap.Int("window_count", result.WindowCount),
		zap.Float64("duration_secs", result.Duration),
		zap.String("artifact_key", artifactKey),
	)

	return nil
}

type windowingResult struct {
	ShardPaths    []string
	FrameCount    int
	SequenceCount int
	WindowCount   int
	Duration      float64
}

// windowSequences streams sequences off the decoder and writes one .npy
// shard of context windows per sequence.
func (uc *PrepareSequencesUseCase) windowSequences(
	ctx context.Context,
	job *entity.Job,
	videoPath string,
	shardsDir string,
) (*windowingResult, error) {
	it, err := uc.decoder.Sequences(ctx, videoPath, job.SequenceLength)
	if err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	defer it.Close()

	extract := frames.ExtractContext
	if uc.cfg.CenteredWindows {
		extract = frames.ExtractContextCentered
	}

	result := &windowingResult{Duration: it.Duration()}
	for {
		seq, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next sequence: %w", err)
		}

		batch, err := extract(seq, job.ContextLength)
		if err != nil {
			return nil, err
		}

		shardPath := filepath.Join(shardsDir, fmt.Sprintf("windows_%05d.npy", result.SequenceCount))
		if err := uc.writer.WriteBatch(shardPath, batch); err != nil {
			return nil, fmt.Errorf("write shard: %w", err)
		}

		result.ShardPaths = append(result.ShardPaths, shardPath)
		result.FrameCount += seq.Len()
		result.SequenceCount++
		result.WindowCount += batch.SeqLen

		metrics.FramesDecodedTotal.Add(float64(seq.Len()))
		metrics.SequencesProducedTotal.Inc()
		metrics.WindowsExtractedTotal.Add(float64(batch.SeqLen))
	}

	if result.SequenceCount == 0 {
		return nil, fmt.Errorf("no sequences decoded from video")
	}
	return result, nil
}

func (uc *PrepareSequencesUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SequenceRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *PrepareSequencesUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.SequenceRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *PrepareSequencesUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.SequenceStatusMessage{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        job.Status,
		VideoKey:      job.VideoKey,
		ArtifactKey:   job.ArtifactKey,
		FrameCount:    job.FrameCount,
		SequenceCount: job.SequenceCount,
		WindowCount:   job.WindowCount,
		Duration:      job.VideoDuration,
		ErrorMessage:  job.ErrorMessage,
		Attempt:       job.Attempt,
		MaxAttempts:   job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
