package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/leaguechat/internal/api"
	"github.com/lalith-99/leaguechat/internal/cache"
	"github.com/lalith-99/leaguechat/internal/config"
	"github.com/lalith-99/leaguechat/internal/db"
	"github.com/lalith-99/leaguechat/internal/messaging"
	"github.com/lalith-99/leaguechat/internal/navigation"
	"github.com/lalith-99/leaguechat/internal/observ"
	"github.com/lalith-99/leaguechat/internal/realtime"
	"github.com/lalith-99/leaguechat/internal/repository"
	"github.com/lalith-99/leaguechat/internal/repository/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the process and blocks until a signal or a server error.
//
// Why return an error instead of calling log.Fatal along the way? Fatal
// exits without running deferred calls, so the pool, the Redis client and
// the logger's buffer would never be closed or flushed. Returning lets
// every defer run and main picks the exit code.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	pool := database.Pool()
	userRepo := postgres.NewUserStore(pool)
	messageStore := postgres.NewMessageStore(pool)
	var messageRepo repository.MessageRepository = messageStore

	rdb, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var subscriber realtime.Subscriber
	switch cfg.RealtimeBackend {
	case config.RealtimeRedis:
		bus := realtime.NewRedisBus(rdb, logger)
		messageRepo = realtime.NewPublishingMessages(messageRepo, bus, logger)
		subscriber = bus
	default:
		subscriber = realtime.NewPGListener(pool, messageStore, logger)
	}

	menu := navigation.Default()
	if cfg.NavTabsFile != "" {
		if menu, err = navigation.Load(cfg.NavTabsFile); err != nil {
			return fmt.Errorf("load navigation tabs: %w", err)
		}
	}

	backend := messaging.Backend{
		Conversations: postgres.NewConversationStore(pool),
		Memberships:   postgres.NewMembershipStore(pool),
		Messages:      messageRepo,
		ReadState:     postgres.NewReadStateStore(pool),
		Teams:         postgres.NewTeamStore(pool),
		Senders:       cache.NewProfiles(userRepo, rdb, cfg.ProfileCacheTTL, logger),
		Realtime:      subscriber,
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Handlers{
		Auth:     api.NewAuthHandler(userRepo, cfg.JWTSecret, logger),
		Users:    api.NewUserHandler(userRepo, menu, logger),
		Sessions: api.NewSessionHandler(backend, logger),
	}, cfg.JWTSecret, database.Health, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting leaguechat",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("realtime", cfg.RealtimeBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; their
	// sessions end when the process exits and the sockets drop.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// connectRedis returns nil when Redis is not needed. The profile cache is
// optional; the redis realtime backend is not.
func connectRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	required := cfg.RealtimeBackend == config.RealtimeRedis
	if cfg.RedisURL == "" {
		if required {
			return nil, errors.New("REALTIME_BACKEND=redis requires REDIS_URL")
		}
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if required {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Warn("redis unavailable, profile cache disabled", zap.Error(err))
		return nil, nil
	}
	return client, nil
}
