// Package main runs the recording API server: CRUD, transcode job submission
// and status, HLS playback, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zack-mcginnis/drone-video-analysis-server/config"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/auth"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/media"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/middleware"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/recordings"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/source"
	"github.com/zack-mcginnis/drone-video-analysis-server/internal/transcode"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/database"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/queue"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/redis"
	"github.com/zack-mcginnis/drone-video-analysis-server/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Transcode subsystem
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

	var runner transcode.Runner
	var inline *transcode.InlineRunner
	if cfg.Media.Runner == config.RunnerQueue {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		runner = transcode.NewQueueRunner(queue.NewQueue(rdb.Client, logger), logger)
		logger.Info("using queue job runner", zap.String("redis_addr", cfg.Redis.Addr))
	} else {
		inline = transcode.NewInlineRunner(pipeline, cfg.Media.Workers*8, logger)
		inline.Start(cfg.Media.Workers)
		runner = inline
	}
	tracker := transcode.NewTracker(runner, recRepo, reconciler, cfg.Media.JobTTL, logger)

	recHandler := recordings.NewHandler(recRepo, tracker, s3Client, cfg.Media.HLSOutputDir, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api/v1")

	// Playback is public: HLS players do not send Authorization headers.
	api.GET("/recordings/hls/:id/:file", recHandler.ServeHLS)

	protected := api.Group("")
	protected.Use(middleware.JWT(jwtService))
	{
		protected.GET("/recordings", recHandler.List)
		protected.GET("/recordings/:id", recHandler.Get)
		protected.POST("/recordings", middleware.RequireRole(auth.RoleOperator, auth.RoleAdmin), recHandler.Create)
		protected.DELETE("/recordings/:id", middleware.RequireRole(auth.RoleAdmin), recHandler.Delete)
		protected.POST("/recordings/:id/process", middleware.RequireRole(auth.RoleOperator, auth.RoleAdmin), recHandler.Process)
		protected.GET("/recordings/:id/process/status", recHandler.ProcessStatus)
		protected.GET("/recordings/:id/playback-info", recHandler.PlaybackInfo)
		protected.GET("/recordings/:id/download-url", recHandler.GenerateDownloadURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if inline != nil {
		if err := inline.Shutdown(shutdownCtx); err != nil {
			logger.Error("inline pool shutdown", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
