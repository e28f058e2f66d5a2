package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nexus-dashboard/nexus/internal/config"
)

// StartScheduler registers the periodic maintenance purge and starts an
// asynq Scheduler. Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Cron expressions are evaluated in UTC, like every stored timestamp
	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	// Register the periodic purge of stale drafts and expired reset tokens
	task := asynq.NewTask(
		TaskPurge,
		nil, // Empty payload - handler sweeps every user
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(time.Hour), // Prevent duplicate if two schedulers fire
	)

	entryID, err := scheduler.Register(cfg.PurgeSchedule, task)
	if err != nil {
		return nil, fmt.Errorf("failed to register purge schedule: %w", err)
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info("Scheduler started", "schedule", cfg.PurgeSchedule, "entry_id", entryID)

	// Return shutdown function
	return func() { scheduler.Shutdown() }, nil
}
