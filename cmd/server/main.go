package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/archive"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/changefeed"
	"github.com/nexus-dashboard/nexus/internal/config"
	"github.com/nexus-dashboard/nexus/internal/database"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/health"
	"github.com/nexus-dashboard/nexus/internal/logging"
	"github.com/nexus-dashboard/nexus/internal/mail"
	"github.com/nexus-dashboard/nexus/internal/models"
	"github.com/nexus-dashboard/nexus/internal/modules"
	"github.com/nexus-dashboard/nexus/internal/server"
	"github.com/nexus-dashboard/nexus/internal/transfer"
	"github.com/nexus-dashboard/nexus/internal/worker"
	"github.com/redis/go-redis/v9"
)

// fallbackPurgeInterval drives maintenance when there is no Redis scheduler.
const fallbackPurgeInterval = time.Hour

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.InitValidation(); err != nil {
		return err
	}
	if cfg.EncryptionKey != "" {
		if err := models.InitEncryption(cfg.EncryptionKey); err != nil {
			return err
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set, linked OAuth tokens are stored unencrypted")
	}

	registry, err := modules.LoadBundled(logger)
	if err != nil {
		return err
	}
	defaultModules := cfg.DefaultModules
	if len(defaultModules) == 0 {
		defaultModules = registry.DefaultEnabled()
	}

	ready := map[string]health.Check{}

	var (
		repo      accounts.Repository
		baseStore docstore.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Init(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.RunMigrations(db, logger); err != nil {
			return err
		}
		modules.Sync(db, registry, logger)

		repo = accounts.NewGormRepository(db)
		baseStore = docstore.NewGormStore(db)
		ready["database"] = func(ctx context.Context) error { return database.Ping(ctx, db) }
		logger.Info("Using PostgreSQL storage")
	} else {
		repo = accounts.NewMemoryRepository()
		baseStore = docstore.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory storage (data is lost on restart)")
	}

	var sender mail.Sender
	if cfg.SendgridAPIKey != "" {
		sender = mail.NewSendgridSender(cfg.SendgridAPIKey, cfg.MailFrom)
	} else {
		sender = mail.NewConsoleSender(logger)
	}

	var (
		feed    changefeed.Feed
		counter auth.FailureCounter
		queue   worker.Queue
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

		redisFeed, err := changefeed.NewRedisFeed(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisFeed.Close()

		client, err := worker.NewClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		feed, counter, queue = redisFeed, auth.NewRedisCounter(rdb), client
	} else {
		feed = changefeed.NewHub()
		counter = auth.NewMemoryCounter()
		queue = worker.NewInlineQueue(sender, cfg.BaseURL)
		logger.Warn("REDIS_URL not set, live updates and mail stay in this process")
	}

	store := docstore.WithPublisher(baseStore, feed)
	accountSvc := accounts.NewService(repo, defaultModules, cfg.PasswordResetTTL)

	moduleIDs := make([]string, 0, registry.Count())
	for _, m := range registry.List() {
		moduleIDs = append(moduleIDs, m.ID)
	}
	if err := database.SeedAdmin(ctx, accountSvc, cfg.AdminEmail, cfg.AdminPassword, moduleIDs, logger); err != nil {
		return err
	}

	workerDeps := worker.Deps{
		Logger:   logger,
		Sender:   sender,
		Accounts: accountSvc,
		Store:    store,
		BaseURL:  cfg.BaseURL,
	}

	if cfg.Mode == config.ModeWorker {
		if cfg.RedisURL == "" {
			return errors.New("worker mode requires REDIS_URL")
		}
		stopScheduler, err := worker.StartScheduler(cfg, logger)
		if err != nil {
			return err
		}
		defer stopScheduler()
		return worker.Run(cfg, workerDeps)
	}

	if cfg.RunsWorker() {
		if cfg.RedisURL != "" {
			stopWorker, err := worker.Start(cfg, workerDeps)
			if err != nil {
				return err
			}
			defer stopWorker()
			stopScheduler, err := worker.StartScheduler(cfg, logger)
			if err != nil {
				return err
			}
			defer stopScheduler()
		} else {
			go purgeLoop(ctx, workerDeps)
		}
	}

	var archiver transfer.Archiver
	if cfg.S3Bucket != "" {
		s3, err := archive.NewS3(ctx, archive.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}
		archiver = s3
	}

	router := server.New(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Accounts: accountSvc,
		Tokens:   auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL),
		Throttle: auth.NewLoginThrottle(counter, cfg.LoginMaxAttempts, cfg.LoginWindow),
		Store:    store,
		Feed:     feed,
		Registry: registry,
		Queue:    queue,
		Router:   geo.NewORSClient(cfg.RoutingBaseURL, cfg.RoutingAPIKey, cfg.GeoStubMode),
		Geocoder: geo.NewNominatimClient(cfg.GeocodingBaseURL, cfg.GeoStubMode),
		Archiver: archiver,
		OAuth:    auth.InitProviders(cfg),
		Ready:    ready,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down HTTP server", "error", err)
		}
	}()

	logger.Info("Starting server", "port", cfg.Port, "mode", cfg.Mode, "modules", registry.Count())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func purgeLoop(ctx context.Context, deps worker.Deps) {
	ticker := time.NewTicker(fallbackPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := worker.Purge(ctx, deps); err != nil {
				deps.Logger.Error("Maintenance purge failed", "error", err)
			}
		}
	}
}
