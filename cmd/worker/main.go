// Package main runs the background transcode worker for the queue job runner.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zack-mcginnis/drone-video-analysis-server/config"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/media"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/recordings"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/source"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/transcode"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/database"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/queue"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/redis"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Bucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.Bucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
	}

	recRepo := recordings.NewRepository(pool)
	var downloader source.ObjectDownloader
	var publisher transcode.HLSPublisher
	if s3Client != nil {
		downloader = s3Client
		publisher = s3Client
	}
	fetcher := source.NewFetcher(cfg.Media.RecordingsDir, downloader, logger)
	ffmpeg := media.NewFFmpeg(media.Options{
		SegmentSeconds: cfg.Media.SegmentSeconds,
		KillGrace:      cfg.Media.HardTimeout - cfg.Media.SoftTimeout,
	}, logger)
	reconciler := transcode.NewReconciler(recRepo, logger)
	pipeline := transcode.NewPipeline(recRepo, fetcher, ffmpeg, reconciler, publisher, cfg.Media.HLSOutputDir, cfg.Media.SoftTimeout, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	worker := transcode.NewWorker(pipeline, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(workerCtx)
	logger.Info("transcode worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("transcode worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
