package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/partyroom-backend/internal/config"
	"github.com/rocketscienceinc/partyroom-backend/internal/repository"
	"github.com/rocketscienceinc/partyroom-backend/internal/repository/storage"
	"github.com/rocketscienceinc/partyroom-backend/internal/service"
	redistransport "github.com/rocketscienceinc/partyroom-backend/internal/transport/redis"
	"github.com/rocketscienceinc/partyroom-backend/internal/usecase"
	"github.com/rocketscienceinc/partyroom-backend/transport/rest"
	"github.com/rocketscienceinc/partyroom-backend/transport/websocket"
	"golang.org/x/sync/errgroup"
)

// RunApp - runs the application until SIGINT or SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authService := service.NewAuthService(jwtSecret(log, conf.Auth.JWTSecretKey), conf.Auth.TokenTTL)

	if !conf.Redis.Enabled() {
		log.Warn("Redis is not configured, multiplayer is disabled")

		handlers := rest.NewHandlers(logger, nil, authService)

		log.Info("Starting HTTP server", "port", conf.HTTPPort)

		return rest.Start(ctx, conf.HTTPPort, rest.NewRouter(logger, conf.CORS.AllowedOrigins, handlers))
	}

	redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr(), conf.Redis.Password, conf.Redis.DB)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if closeErr := redisStorage.Close(); closeErr != nil {
			log.Error("could not close redis storage", "error", closeErr)
		}
	}()

	var archiveRepo repository.ArchiveRepository

	if conf.Archive.SQLitePath != "" {
		sqliteStorage, err := storage.NewSQLiteStorage(conf.Archive.SQLitePath)
		if err != nil {
			return fmt.Errorf("could not open archive storage: %w", err)
		}

		defer func() {
			if err := sqliteStorage.Close(); err != nil {
				log.Error("could not close archive storage", "error", err)
			}
		}()

		if err = sqliteStorage.Init(ctx); err != nil {
			return fmt.Errorf("could not init archive storage: %w", err)
		}

		archiveRepo = repository.NewArchiveRepository(sqliteStorage.Connection)
	}

	roomRepo := repository.NewRoomRepository(redisStorage.Connection)
	presenceRepo := repository.NewPresenceRepository(redisStorage.Connection, conf.Rooms.TTL)
	broadcaster := redistransport.New(redisStorage.Connection, logger)

	roomManager := usecase.NewRoomManager(logger, conf.Rooms, roomRepo, presenceRepo, archiveRepo, broadcaster)

	handlers := rest.NewHandlers(logger, roomManager, authService)
	wsServer := websocket.New(logger, conf.WebSocket, roomManager, authService, broadcaster)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting presence monitor", "interval", conf.Rooms.SweepInterval)
		return roomManager.RunPresenceMonitor(ctx, conf.Rooms.SweepInterval)
	})

	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		return rest.Start(ctx, conf.HTTPPort, rest.NewRouter(logger, conf.CORS.AllowedOrigins, handlers))
	})

	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		return wsServer.Start(ctx, conf.SocketPort)
	})

	if err = group.Wait(); err != nil {
		return fmt.Errorf("application stopped: %w", err)
	}

	log.Info("Application stopped")

	return nil
}

// jwtSecret - tokens signed with a generated secret do not survive a restart.
func jwtSecret(log *slog.Logger, configured string) string {
	if configured != "" {
		return configured
	}

	log.Warn("jwt secret is not configured, generating one for this process")

	buf := make([]byte, 32)
	_, _ = rand.Read(buf)

	return hex.EncodeToString(buf)
}
