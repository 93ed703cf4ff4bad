package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitwall-labs/telemetry-replay/internal/api"
	"github.com/pitwall-labs/telemetry-replay/internal/catalog"
	"github.com/pitwall-labs/telemetry-replay/internal/config"
	"github.com/pitwall-labs/telemetry-replay/internal/logger"
	"github.com/pitwall-labs/telemetry-replay/internal/replay"
	"github.com/pitwall-labs/telemetry-replay/internal/store"
	"github.com/pitwall-labs/telemetry-replay/internal/ws"
)

func main() {
	config.LoadConfig()

	log := logger.New(logger.FromConfig(config.AppConfig.LogLevel, config.AppConfig.LogFormat))

	// Set Gin mode
	log.Info("setting gin mode", slog.String("mode", config.AppConfig.GinMode))
	gin.SetMode(config.AppConfig.GinMode)

	// Initialize the stream store. A dead store means nothing to replay,
	// so startup fails fast.
	adapter, err := store.NewAdapter(store.Config{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisDB,
	}, log)
	if err != nil {
		log.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize services
	cat := catalog.NewService(context.Background(), config.AppConfig.Replay.Sessions, adapter, log)
	engine := replay.NewEngine(adapter, cat, config.AppConfig.Replay, log)

	// Initialize handlers
	wsHandler := ws.NewHandler(engine, log)
	sessionHandler := api.NewSessionHandler(cat, engine, log)
	playbackHandler := api.NewPlaybackHandler(engine, log)

	// Initialize Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", config.AppConfig.CORSAllowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Streaming endpoint: one socket per viewer per session.
	router.GET("/ws/telemetry/:sessionKey", wsHandler.HandleTelemetry)

	// Session discovery routes
	apiGroup := router.Group("/api")
	{
		sessions := apiGroup.Group("/sessions")
		{
			sessions.GET("", sessionHandler.ListSessions)
			sessions.GET("/:sessionKey", sessionHandler.GetSession)
			sessions.GET("/:sessionKey/status", sessionHandler.GetSessionStatus)
			sessions.POST("/:sessionKey/refresh", sessionHandler.RefreshSession)
		}

		// HTTP aliases for the websocket playback commands.
		playback := apiGroup.Group("/replay/:sessionKey")
		{
			playback.POST("/play", playbackHandler.Play)
			playback.POST("/pause", playbackHandler.Pause)
			playback.POST("/stop", playbackHandler.Stop)
			playback.POST("/seek", playbackHandler.Seek)
			playback.POST("/speed", playbackHandler.SetSpeed)
			playback.GET("/state", playbackHandler.GetState)
		}
	}

	port := ":" + config.AppConfig.Port

	log.Info("telemetry replay server listening on "+port,
		slog.Int("sessions", len(config.AppConfig.Replay.Sessions)),
		slog.String("batch_interval", config.AppConfig.Replay.BatchInterval().String()),
		slog.String("buffer_duration", config.AppConfig.Replay.BufferDuration().String()))

	srv := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	// Disconnect viewers first so the engine sees every ClientLeft before
	// its sweeper stops.
	wsHandler.Shutdown()
	engine.Shutdown()
	log.Info("replay engine shutdown complete")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(config.AppConfig.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := adapter.Close(); err != nil {
		log.Warn("error closing redis client", slog.String("error", err.Error()))
	}

	log.Info("server exited")
}
