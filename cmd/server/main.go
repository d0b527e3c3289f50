package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/satchelhq/satchel/internal/auth"
	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/internal/generation"
	"github.com/satchelhq/satchel/internal/session"
	"github.com/satchelhq/satchel/internal/storage"
	"github.com/satchelhq/satchel/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	log.Info().Msg("Starting Satchel API server")

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	cache, err := common.NewCache(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	blobStorage, err := storage.NewFactory(&cfg.Storage).CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob storage")
	}

	mqConn, err := amqp.Dial(cfg.Generation.AMQPURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer mqConn.Close()

	authService := auth.NewService(db, cache, &cfg.Auth)
	sessionService := session.NewService(db, blobStorage)
	progress := generation.NewProgress(cache, cfg.Generation.ProgressTTL)
	dispatcher := generation.NewDispatcher(
		sessionService,
		generation.NewAMQPPublisher(mqConn, cfg.Generation.JobQueue),
		progress,
	)

	router := setupRouter(authService, sessionService, dispatcher, progress, cfg.Server.MaxUploadBytes)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}

	log.Info().Msg("Server stopped")
}

func setupRouter(
	authService *auth.Service,
	sessionService *session.Service,
	dispatcher *generation.Dispatcher,
	progress *generation.Progress,
	maxUploadBytes int64,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.MaxMultipartMemory = maxUploadBytes

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/auth/signup", handleSignup(authService))
		api.POST("/auth/login", handleLogin(authService))

		authed := api.Group("")
		authed.Use(authMiddleware(authService))
		{
			authed.POST("/auth/logout", handleLogout(authService))

			authed.GET("/sessions", handleListSessions(sessionService))
			authed.POST("/sessions", handleCreateSession(sessionService, maxUploadBytes))
			authed.GET("/sessions/:id", handleGetSession(sessionService))
			authed.PUT("/sessions/:id", handleUpdateSession(sessionService, maxUploadBytes))
			authed.DELETE("/sessions/:id", handleDeleteSession(sessionService))
			authed.GET("/sessions/:id/files/:blobID", handleDownloadFile(sessionService))

			authed.POST("/sessions/:id/generate", handleGenerate(dispatcher))
			authed.GET("/sessions/:id/progress", handleProgress(sessionService, progress))
		}
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}
