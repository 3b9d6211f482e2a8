package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// NewRouter builds the HTTP API. Every route except /ping and /api/status
// answers 503 while multiplayer is disabled.
func NewRouter(logger *slog.Logger, allowedOrigins []string, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}

	router.Use(cors.New(corsConfig))

	router.GET("/ping", NewPingHandler().PingHandler)

	api := router.Group("/api")
	api.GET("/status", handlers.Status)

	multiplayer := api.Group("", handlers.requireMultiplayer)
	multiplayer.POST("/rooms", handlers.CreateRoom)
	multiplayer.POST("/rooms/:code/join", handlers.JoinRoom)
	multiplayer.GET("/rooms/:code", handlers.GetRoom)
	multiplayer.POST("/rooms/leave", handlers.requireSession, handlers.LeaveRoom)
	multiplayer.POST("/visitors/heartbeat", handlers.VisitorHeartbeat)
	multiplayer.GET("/visitors", handlers.VisitorCount)
	multiplayer.GET("/history", handlers.History)

	return router
}

// Start serves handler on port until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, port string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}

		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}

		return nil
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	log := logger.With("component", "rest")

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
