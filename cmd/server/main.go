// Package main runs the live-streaming HTTP + WebSocket server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulselive/backend/config"
	"github.com/pulselive/backend/internal/auth"
	"github.com/pulselive/backend/internal/live"
	"github.com/pulselive/backend/internal/middleware"
	"github.com/pulselive/backend/internal/payments"
	"github.com/pulselive/backend/internal/recording"
	"github.com/pulselive/backend/internal/store"
	"github.com/pulselive/backend/internal/verification"
	"github.com/pulselive/backend/internal/worker"
	"github.com/pulselive/backend/pkg/database"
	"github.com/pulselive/backend/pkg/queue"
	"github.com/pulselive/backend/pkg/redis"
	"github.com/pulselive/backend/pkg/response"
	"github.com/pulselive/backend/pkg/storage"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.AccessKeyID != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	pubsub := live.NewRedisPubSub(rdb.Client, logger)
	hub := live.NewHub(logger, pubsub, pubsub)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	streamStore := store.NewRepository(pool)
	gate := verification.NewGate(pool)
	ledger := payments.NewLedger(pool, cfg.Live.GiftSplitPercent, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recorder := recording.NewService(cfg.Recording.OutputDir, logger)
	pipeline := recording.NewQueuePipeline(jobQueue, logger)

	service := live.NewService(cfg.Live, live.NewRegistry(cfg.Live.SessionRetention, logger),
		hub, streamStore, gate, ledger, recorder, pipeline, iceServers, logger)

	engine := live.NewEngine(cfg.Live, service.Registry(), hub, logger)

	coreCtx, coreCancel := context.WithCancel(context.Background())
	defer coreCancel()
	go service.Registry().Run(coreCtx, cfg.Live.EvictionSweepInterval)
	go engine.Run(coreCtx)

	// The HTTP server also hosts the media worker when S3 is configured, so a
	// single-binary deployment still publishes recordings.
	if s3Client != nil {
		processor := worker.NewMediaProcessor(streamStore, s3Client, jobQueue, logger)
		go processor.Run(coreCtx)
		logger.Info("media worker started")
	}

	validate := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)
		api.GET("/streams/live", func(c *gin.Context) {
			sessions := service.Registry().Live()
			out := make([]gin.H, 0, len(sessions))
			for _, s := range sessions {
				a := s.Analytics()
				out = append(out, gin.H{
					"session_id":      s.ID,
					"stream_id":       s.StreamID,
					"host_id":         s.HostID,
					"started_at":      s.StartedAt(),
					"current_viewers": a.CurrentViewers,
				})
			}
			response.OK(c, out)
		})
	}

	// Everything stream-related rides the WebSocket protocol; the token goes
	// in the first `authenticate` message, not a header.
	router.GET("/ws", live.ServeWs(service, hub, validate, logger))

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

	coreCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
