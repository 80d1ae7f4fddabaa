package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/techthiyanes/lightning-pose/internal/infra/archive"
	"github.com/techthiyanes/lightning-pose/internal/infra/config"
	"github.com/techthiyanes/lightning-pose/internal/infra/email"
	"github.com/techthiyanes/lightning-pose/internal/infra/ffmpeg"
	"github.com/techthiyanes/lightning-pose/internal/infra/metrics"
	miniostorage "github.com/techthiyanes/lightning-pose/internal/infra/minio"
	"github.com/techthiyanes/lightning-pose/internal/infra/npy"
	"github.com/techthiyanes/lightning-pose/internal/infra/postgres"
	"github.com/techthiyanes/lightning-pose/internal/infra/rabbitmq"
	"github.com/techthiyanes/lightning-pose/internal/infra/tracing"
	"github.com/techthiyanes/lightning-pose/internal/usecase"
	"github.com/techthiyanes/lightning-pose/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting posefeed-sequence-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:       cfg.MinIOEndpoint,
		AccessKey:      cfg.MinIOAccessKey,
		SecretKey:      cfg.MinIOSecretKey,
		UseSSL:         cfg.MinIOUseSSL,
		VideoBucket:    cfg.MinIOVideoBucket,
		ArtifactBucket: cfg.MinIOArtifactBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	readerCfg := ffmpeg.DefaultReaderConfig()
	readerCfg.SequenceLength = cfg.SequenceLength
	readerCfg.RandomShuffle = cfg.RandomShuffle
	readerCfg.Seed = cfg.ShuffleSeed
	readerCfg.InitialFill = cfg.InitialFill
	readerCfg.PadSequences = cfg.PadSequences
	readerCfg.Device = cfg.ReaderDevice
	readerCfg.NormalizationMean = [3]float32{cfg.NormMean[0], cfg.NormMean[1], cfg.NormMean[2]}
	readerCfg.NormalizationStd = [3]float32{cfg.NormStd[0], cfg.NormStd[1], cfg.NormStd[2]}
	if cfg.ResizeHeight > 0 && cfg.ResizeWidth > 0 {
		readerCfg.ResizeDims = []int{cfg.ResizeHeight, cfg.ResizeWidth}
	}
	decoder := ffmpeg.NewReader(readerCfg, log)
	writer := npy.NewWriter()
	archiver := archive.NewZipBundler()
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewPrepareSequencesUseCase(
		repo, storage, decoder, writer, archiver,
		statusPub, dlqPub, notifier,
		log,
		usecase.PrepareSequencesConfig{
			TempDir:         cfg.TempDir,
			MaxRetries:      cfg.MaxRetries,
			SequenceLength:  cfg.SequenceLength,
			ContextLength:   cfg.ContextLength,
			CenteredWindows: cfg.CenteredWindows,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQPrepareQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("posefeed-sequence-worker started, consuming messages")
	metrics.SetReady(true)

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}
	metrics.SetReady(false)

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("posefeed-sequence-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
